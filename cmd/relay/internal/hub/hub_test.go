package hub_test

import (
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/HurDong/Glance/cmd/relay/internal/hub"
	"github.com/HurDong/Glance/cmd/relay/internal/protocol"
	"github.com/HurDong/Glance/cmd/relay/internal/testutils"
	"github.com/HurDong/Glance/pkg/models"
)

const aaplTopic = "/api/v1/sub/stocks/AAPL"

func setup() *hub.Hub {
	return hub.NewHub(zap.NewNop())
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	h := setup()
	client := testutils.NewMockClient("c1")

	if !h.Join(aaplTopic, client) {
		t.Error("first join should report true")
	}
	if h.Join(aaplTopic, client) {
		t.Error("second join should report false")
	}
	if h.Members(aaplTopic) != 1 {
		t.Errorf("expected 1 member, got %d", h.Members(aaplTopic))
	}
}

func TestHub_PublishReachesOnlyMembers(t *testing.T) {
	h := setup()
	a := testutils.NewMockClient("a")
	b := testutils.NewMockClient("b")

	h.Join(aaplTopic, a)
	h.Join("/api/v1/sub/stocks/TSLA", b)

	h.Publish(aaplTopic, models.PriceUpdate{Symbol: "AAPL", Price: "150.50"})

	msgs := a.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Type != protocol.TypeTicker || msgs[0].Topic != aaplTopic {
		t.Errorf("unexpected envelope %+v", msgs[0])
	}
	if u := a.Updates(protocol.TypeTicker); len(u) != 1 || u[0].Price != "150.50" {
		t.Errorf("unexpected update payload %+v", u)
	}
	if len(b.Messages()) != 0 {
		t.Error("non-member must not receive the update")
	}
}

func TestHub_PublishWithoutMembers(t *testing.T) {
	h := setup()
	h.Publish(aaplTopic, models.PriceUpdate{Symbol: "AAPL"})
	if len(h.Topics()) != 0 {
		t.Error("publishing must not create topics")
	}
}

func TestHub_Send(t *testing.T) {
	h := setup()
	client := testutils.NewMockClient("c1")

	h.Send(client, aaplTopic, models.PriceUpdate{Symbol: "AAPL", Price: "149.00"})

	if client.LastMsgType() != protocol.TypeSnapshot {
		t.Errorf("expected snapshot, got %s", client.LastMsgType())
	}
}

func TestHub_LeaveAndLeaveAll(t *testing.T) {
	h := setup()
	client := testutils.NewMockClient("c1")

	h.Join(aaplTopic, client)
	h.Join("/api/v1/sub/stocks/TSLA", client)

	if !h.Leave(aaplTopic, client) {
		t.Error("leave of a joined topic should report true")
	}
	if h.Leave(aaplTopic, client) {
		t.Error("second leave should report false")
	}

	left := h.LeaveAll(client)
	if len(left) != 1 || left[0] != "/api/v1/sub/stocks/TSLA" {
		t.Errorf("unexpected topics left %v", left)
	}
	if len(h.Topics()) != 0 {
		t.Errorf("expected no topics, got %v", h.Topics())
	}
}

func TestHub_Concurrency(t *testing.T) {
	// Run with `go test -race ./...`
	h := setup()
	client := testutils.NewMockClient("c1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			h.Join(aaplTopic, client)
		}()
		go func() {
			defer wg.Done()
			h.Publish(aaplTopic, models.PriceUpdate{Symbol: "AAPL"})
		}()
		go func() {
			defer wg.Done()
			h.Leave(aaplTopic, client)
		}()
	}
	wg.Wait()
}
