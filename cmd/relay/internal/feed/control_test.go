package feed

import (
	"encoding/json"
	"testing"
)

func TestBuildControl(t *testing.T) {
	raw, err := buildControl("approval-123", "P", TrOverseasTrade, "DNASAAPL", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var req ControlRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if req.Header.ApprovalKey != "approval-123" || req.Header.CustomerType != "P" {
		t.Errorf("unexpected header: %+v", req.Header)
	}
	if req.Header.TrType != "1" || req.Header.ContentType != "utf-8" {
		t.Errorf("unexpected tr_type/content-type: %+v", req.Header)
	}
	if req.Body.Input.TrID != TrOverseasTrade || req.Body.Input.TrKey != "DNASAAPL" {
		t.Errorf("unexpected body: %+v", req.Body.Input)
	}

	raw, _ = buildControl("approval-123", "P", TrDomesticTrade, "005930", false)
	json.Unmarshal(raw, &req)
	if req.Header.TrType != "2" {
		t.Errorf("expected unsubscribe tr_type 2, got %s", req.Header.TrType)
	}
}

func TestVenueCode(t *testing.T) {
	tests := map[string]string{
		"NASDAQ": VenueNasdaq,
		"nyse":   VenueNYSE,
		"AMEX":   VenueAmex,
		"":       DefaultVenue,
		"LSE":    DefaultVenue,
	}
	for exchange, want := range tests {
		if got := VenueCode(exchange); got != want {
			t.Errorf("VenueCode(%q) = %s, want %s", exchange, got, want)
		}
	}
}

func TestIsOverseas(t *testing.T) {
	if IsOverseas("005930") {
		t.Error("numeric code should be domestic")
	}
	if !IsOverseas("AAPL") {
		t.Error("letter ticker should be overseas")
	}
	if IsOverseas("") {
		t.Error("empty symbol should not be overseas")
	}
}

func TestStripVenue(t *testing.T) {
	if got := stripVenue("DNASAAPL"); got != "AAPL" {
		t.Errorf("got %s", got)
	}
	if got := stripVenue("DNAS"); got != "DNAS" {
		t.Errorf("bare prefix should stay, got %s", got)
	}
	if got := stripVenue("GOOGL"); got != "GOOGL" {
		t.Errorf("unknown prefix should stay, got %s", got)
	}
}
