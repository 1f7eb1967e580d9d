package feedsim

import (
	"math/rand"
	"strings"
	"time"

	"github.com/scmhub/calendar"
)

// Transaction ids the simulator streams.
const (
	TrDomesticTrade = "H0STCNT0"
	TrOverseasTrade = "HDFSCNT0"
	TrOverseasQuote = "HDFSASP0"
	TrPingPong      = "PINGPONG"
)

// for deterministic testing
type Clock interface {
	Now() time.Time
}

// for deterministic values
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// MarketHours gates ticks per wire key.
type MarketHours interface {
	IsOpen(trKey string, t time.Time) bool
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

type RealRand struct{ *rand.Rand }

func (r RealRand) Intn(n int) int   { return r.Rand.Intn(n) }
func (r RealRand) Float64() float64 { return r.Rand.Float64() }

type AlwaysOpen struct{}

func (AlwaysOpen) IsOpen(string, time.Time) bool { return true }

// CalendarHours consults exchange calendars: numeric codes trade on the
// Korea Exchange, venue-prefixed tickers on the NYSE calendar.
type CalendarHours struct {
	domestic *calendar.Calendar
	overseas *calendar.Calendar
}

func NewCalendarHours() *CalendarHours {
	return &CalendarHours{
		domestic: calendar.GetCalendar("xkrx"),
		overseas: calendar.GetCalendar("xnys"),
	}
}

func (h *CalendarHours) IsOpen(trKey string, t time.Time) bool {
	cal := h.overseas
	if isDomestic(trKey) {
		cal = h.domestic
	}
	if cal == nil {
		return true
	}
	return cal.IsOpen(t.In(cal.Loc))
}

func isDomestic(trKey string) bool {
	return trKey != "" && trKey[0] >= '0' && trKey[0] <= '9'
}

// Known venue prefixes on overseas wire keys.
var venues = []string{"DNAS", "DNYS", "DAMS"}

func splitVenue(trKey string) (venue, symbol string) {
	for _, v := range venues {
		if strings.HasPrefix(trKey, v) && len(trKey) > len(v) {
			return v, trKey[len(v):]
		}
	}
	return "", trKey
}

type controlHeader struct {
	ApprovalKey  string `json:"approval_key"`
	CustomerType string `json:"custtype"`
	TrType       string `json:"tr_type"`
	TrID         string `json:"tr_id"`
}

type controlRequest struct {
	Header controlHeader `json:"header"`
	Body   struct {
		Input struct {
			TrID  string `json:"tr_id"`
			TrKey string `json:"tr_key"`
		} `json:"input"`
	} `json:"body"`
}

type ackHeader struct {
	TrID     string `json:"tr_id"`
	TrKey    string `json:"tr_key,omitempty"`
	Encrypt  string `json:"encrypt,omitempty"`
	Datetime string `json:"datetime,omitempty"`
}

type ackBody struct {
	RtCd  string `json:"rt_cd"`
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

type ack struct {
	Header ackHeader `json:"header"`
	Body   *ackBody  `json:"body,omitempty"`
}
