package feed

import (
	"encoding/json"
	"strings"
)

// Transaction ids of the real-time classes the relay consumes.
const (
	TrDomesticTrade = "H0STCNT0"
	TrOverseasTrade = "HDFSCNT0"
	TrOverseasQuote = "HDFSASP0"
	trPingPong      = "PINGPONG"
)

const (
	trTypeSubscribe   = "1"
	trTypeUnsubscribe = "2"
)

// Venue codes prefixed to overseas wire keys.
const (
	VenueNasdaq = "DNAS"
	VenueNYSE   = "DNYS"
	VenueAmex   = "DAMS"

	DefaultVenue = VenueNasdaq
)

var venueByExchange = map[string]string{
	"NASDAQ": VenueNasdaq,
	"NYSE":   VenueNYSE,
	"AMEX":   VenueAmex,
}

var knownVenues = map[string]struct{}{
	VenueNasdaq: {},
	VenueNYSE:   {},
	VenueAmex:   {},
}

// VenueCode maps an exchange name to its wire prefix, falling back to the
// primary venue.
func VenueCode(exchange string) string {
	if code, ok := venueByExchange[strings.ToUpper(exchange)]; ok {
		return code
	}
	return DefaultVenue
}

// IsOverseas reports whether a symbol belongs to a non-domestic market.
// Domestic codes are numeric (e.g. 005930); overseas tickers start with a letter.
func IsOverseas(symbol string) bool {
	if symbol == "" {
		return false
	}
	c := symbol[0]
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// stripVenue removes a known venue prefix from an overseas wire key.
func stripVenue(key string) string {
	if len(key) > 4 {
		if _, ok := knownVenues[key[:4]]; ok {
			return key[4:]
		}
	}
	return key
}

type controlHeader struct {
	ApprovalKey  string `json:"approval_key"`
	CustomerType string `json:"custtype"`
	TrType       string `json:"tr_type"`
	ContentType  string `json:"content-type"`
}

type controlInput struct {
	TrID  string `json:"tr_id"`
	TrKey string `json:"tr_key"`
}

type controlBody struct {
	Input controlInput `json:"input"`
}

// ControlRequest is a subscribe/unsubscribe frame sent upstream.
type ControlRequest struct {
	Header controlHeader `json:"header"`
	Body   controlBody   `json:"body"`
}

// buildControl encodes a subscribe (or unsubscribe) request for an already
// resolved transaction id and wire key.
func buildControl(approvalKey, customerType, trID, trKey string, subscribe bool) ([]byte, error) {
	trType := trTypeUnsubscribe
	if subscribe {
		trType = trTypeSubscribe
	}
	return json.Marshal(ControlRequest{
		Header: controlHeader{
			ApprovalKey:  approvalKey,
			CustomerType: customerType,
			TrType:       trType,
			ContentType:  "utf-8",
		},
		Body: controlBody{Input: controlInput{TrID: trID, TrKey: trKey}},
	})
}

// controlAck is the subset of an upstream acknowledgement the relay inspects.
type controlAck struct {
	Header struct {
		TrID  string `json:"tr_id"`
		TrKey string `json:"tr_key"`
	} `json:"header"`
	Body struct {
		RtCd  string `json:"rt_cd"`
		MsgCd string `json:"msg_cd"`
		Msg1  string `json:"msg1"`
	} `json:"body"`
}
