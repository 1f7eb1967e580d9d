package kis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeAPI struct {
	tokenCalls    atomic.Int32
	approvalCalls atomic.Int32
	lastQuery     atomic.Value
	lastTrID      atomic.Value
	rejectAuth    bool
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/tokenP", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		if f.rejectAuth {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["appkey"] != "key" || body["appsecret"] != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok", "token_type": "Bearer", "expires_in": 86400,
		})
	})
	mux.HandleFunc("/oauth2/Approval", func(w http.ResponseWriter, r *http.Request) {
		f.approvalCalls.Add(1)
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["secretkey"] != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"approval_key": "approval-1"})
	})
	mux.HandleFunc("/uapi/domestic-stock/v1/quotations/inquire-price", func(w http.ResponseWriter, r *http.Request) {
		f.lastQuery.Store(r.URL.RawQuery)
		f.lastTrID.Store(r.Header.Get("tr_id"))
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"rt_cd":"0","output":{"stck_prpr":"71500","prdy_vrss":"-500","prdy_ctrt":"-0.69","acml_vol":"1200"}}`))
	})
	mux.HandleFunc("/uapi/overseas-price/v1/quotations/price", func(w http.ResponseWriter, r *http.Request) {
		f.lastQuery.Store(r.URL.RawQuery)
		f.lastTrID.Store(r.Header.Get("tr_id"))
		if r.URL.Query().Get("SYMB") == "FAIL" {
			w.Write([]byte(`{"rt_cd":"1","msg_cd":"E1","msg1":"no such symbol"}`))
			return
		}
		w.Write([]byte(`{"rt_cd":"0","output":{"last":"189.50","sign":"5","diff":"1.25","rate":"-0.65"}}`))
	})
	return mux
}

type venues map[string]string

func (v venues) Exchange(ctx context.Context, symbol string) (string, error) {
	if e, ok := v[symbol]; ok {
		return e, nil
	}
	return "", errors.New("unknown symbol")
}

func newServer(t *testing.T, api *fakeAPI) Credentials {
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	return Credentials{BaseURL: srv.URL, AppKey: "key", AppSecret: "secret"}
}

func TestAccessToken_CachedUntilMargin(t *testing.T) {
	api := &fakeAPI{}
	p := NewTokenProvider(newServer(t, api), nil, 0, zap.NewNop())
	now := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		tok, err := p.AccessToken(context.Background())
		if err != nil || tok != "tok" {
			t.Fatalf("access token: %q %v", tok, err)
		}
	}
	if api.tokenCalls.Load() != 1 {
		t.Errorf("expected a single token request, got %d", api.tokenCalls.Load())
	}

	// Inside the refresh margin of the 24h token.
	now = now.Add(24*time.Hour - 5*time.Minute)
	if _, err := p.AccessToken(context.Background()); err != nil {
		t.Fatal(err)
	}
	if api.tokenCalls.Load() != 2 {
		t.Errorf("expected a refresh, got %d calls", api.tokenCalls.Load())
	}
}

func TestAccessToken_Rejected(t *testing.T) {
	api := &fakeAPI{rejectAuth: true}
	p := NewTokenProvider(newServer(t, api), nil, 0, zap.NewNop())

	if _, err := p.AccessToken(context.Background()); !errors.Is(err, ErrCredentials) {
		t.Errorf("expected ErrCredentials, got %v", err)
	}
}

func TestApprovalKey_TTL(t *testing.T) {
	api := &fakeAPI{}
	p := NewTokenProvider(newServer(t, api), nil, time.Hour, zap.NewNop())
	now := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	ctx := context.Background()

	key, err := p.ApprovalKey(ctx)
	if err != nil || key != "approval-1" {
		t.Fatalf("approval key: %q %v", key, err)
	}
	p.ApprovalKey(ctx)
	if api.approvalCalls.Load() != 1 {
		t.Errorf("approval key should be cached, got %d calls", api.approvalCalls.Load())
	}

	now = now.Add(2 * time.Hour)
	p.ApprovalKey(ctx)
	if api.approvalCalls.Load() != 2 {
		t.Errorf("expired key should be refetched, got %d calls", api.approvalCalls.Load())
	}

	p.InvalidateApprovalKey()
	p.ApprovalKey(ctx)
	if api.approvalCalls.Load() != 3 {
		t.Errorf("invalidated key should be refetched, got %d calls", api.approvalCalls.Load())
	}
}

func TestCurrentPrice_Domestic(t *testing.T) {
	api := &fakeAPI{}
	creds := newServer(t, api)
	tokens := NewTokenProvider(creds, nil, 0, zap.NewNop())
	c := NewQuoteClient(creds, tokens, nil, nil, zap.NewNop())
	c.now = func() time.Time { return time.Date(2026, 1, 2, 10, 15, 30, 0, time.UTC) }

	u, err := c.CurrentPrice(context.Background(), "005930")
	if err != nil {
		t.Fatalf("current price: %v", err)
	}
	if u.Symbol != "005930" || u.Price != "71500" || u.Change != "-500" || u.ChangeRate != "-0.69" || u.Time != "101530" {
		t.Errorf("unexpected update %+v", u)
	}
	if api.lastTrID.Load() != trDomesticPrice {
		t.Errorf("unexpected tr_id %v", api.lastTrID.Load())
	}
	if q := api.lastQuery.Load().(string); q != "FID_COND_MRKT_DIV_CODE=J&FID_INPUT_ISCD=005930" {
		t.Errorf("unexpected query %s", q)
	}
}

func TestCurrentPrice_OverseasExchangeAndSign(t *testing.T) {
	api := &fakeAPI{}
	creds := newServer(t, api)
	tokens := NewTokenProvider(creds, nil, 0, zap.NewNop())
	c := NewQuoteClient(creds, tokens, venues{"IBM": "NYSE"}, nil, zap.NewNop())
	ctx := context.Background()

	u, err := c.CurrentPrice(ctx, "IBM")
	if err != nil {
		t.Fatalf("current price: %v", err)
	}
	if u.Price != "189.50" || u.Change != "-1.25" {
		t.Errorf("unexpected update %+v", u)
	}
	if q := api.lastQuery.Load().(string); q != "AUTH=&EXCD=NYS&SYMB=IBM" {
		t.Errorf("unexpected query %s", q)
	}

	c.CurrentPrice(ctx, "AAPL")
	if q := api.lastQuery.Load().(string); q != "AUTH=&EXCD=NAS&SYMB=AAPL" {
		t.Errorf("unknown exchange should default to NAS, got %s", q)
	}

	if _, err := c.CurrentPrice(ctx, "FAIL"); err == nil {
		t.Error("expected an error for a non-zero rt_cd")
	}
	if api.tokenCalls.Load() != 1 {
		t.Errorf("token should be shared across queries, got %d requests", api.tokenCalls.Load())
	}
}
