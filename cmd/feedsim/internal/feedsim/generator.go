package feedsim

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	defaultDomesticBase = decimal.NewFromInt(50000)
	defaultOverseasBase = decimal.NewFromInt(100)
	hundred             = decimal.NewFromInt(100)
)

// seoul is where domestic trade times are stamped; New York for overseas.
var (
	seoul   = mustLocation("Asia/Seoul", 9)
	newYork = mustLocation("America/New_York", -5)
)

func mustLocation(name string, fallbackHours int) *time.Location {
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	return time.FixedZone(name, fallbackHours*3600)
}

type quote struct {
	prevClose decimal.Decimal
	last      decimal.Decimal
	volume    int64
}

// PriceGenerator random-walks a price per wire key and renders it in the
// upstream's pipe/caret frame format.
type PriceGenerator struct {
	rand  Rand
	clock Clock
	base  map[string]decimal.Decimal

	mu     sync.Mutex
	quotes map[string]*quote
}

func NewPriceGenerator(rnd Rand, clock Clock, basePrices map[string]float64) *PriceGenerator {
	base := make(map[string]decimal.Decimal, len(basePrices))
	for symbol, p := range basePrices {
		base[symbol] = decimal.NewFromFloat(p)
	}
	return &PriceGenerator{
		rand:   rnd,
		clock:  clock,
		base:   base,
		quotes: make(map[string]*quote),
	}
}

// Frame renders the next tick for trKey under trID.
func (g *PriceGenerator) Frame(trID, trKey string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, symbol := splitVenue(trKey)
	domestic := isDomestic(symbol)
	q := g.quote(symbol, domestic)

	// Walk up to +-0.5% per tick.
	step := decimal.NewFromFloat((g.rand.Float64() - 0.5) / 100)
	next := q.last.Add(q.last.Mul(step))
	if domestic {
		next = next.Round(0)
	} else {
		next = next.Round(4)
	}
	if next.Sign() <= 0 {
		next = q.last
	}
	q.last = next
	q.volume += int64(g.rand.Intn(100) + 1)

	now := g.clock.Now()
	if domestic {
		return encode(trID, domesticFields(symbol, now.In(seoul), q))
	}
	return encode(trID, overseasFields(trKey, now.In(newYork), q))
}

func (g *PriceGenerator) quote(symbol string, domestic bool) *quote {
	if q, ok := g.quotes[symbol]; ok {
		return q
	}
	p, ok := g.base[symbol]
	if !ok {
		p = defaultOverseasBase
		if domestic {
			p = defaultDomesticBase
		}
	}
	q := &quote{prevClose: p, last: p}
	g.quotes[symbol] = q
	return q
}

func encode(trID string, fields []string) string {
	return "0|" + trID + "|001|" + strings.Join(fields, "^")
}

func change(q *quote) (diff, rate decimal.Decimal) {
	diff = q.last.Sub(q.prevClose)
	rate = diff.Div(q.prevClose).Mul(hundred).Round(2)
	return diff, rate
}

// Sign codes: 2 rise, 3 flat, 5 fall.
func signCode(diff decimal.Decimal) string {
	switch diff.Sign() {
	case 1:
		return "2"
	case -1:
		return "5"
	default:
		return "3"
	}
}

// domesticFields carries the change already signed.
func domesticFields(symbol string, t time.Time, q *quote) []string {
	diff, rate := change(q)
	f := make([]string, 14)
	for i := range f {
		f[i] = "0"
	}
	f[0] = symbol
	f[1] = t.Format("150405")
	f[2] = q.last.String()
	f[3] = signCode(diff)
	f[4] = diff.String()
	f[5] = rate.StringFixed(2)
	f[13] = decimal.NewFromInt(q.volume).String()
	return f
}

// overseasFields carries an unsigned change with the direction in a sign code.
func overseasFields(trKey string, t time.Time, q *quote) []string {
	diff, rate := change(q)
	f := make([]string, 26)
	for i := range f {
		f[i] = "0"
	}
	_, symbol := splitVenue(trKey)
	f[0] = trKey
	f[1] = symbol
	f[2] = "4"
	f[3] = t.Format("20060102")
	f[4] = t.Format("20060102")
	f[5] = t.Format("150405")
	f[11] = q.last.StringFixed(4)
	f[12] = signCode(diff)
	f[13] = diff.Abs().StringFixed(4)
	f[14] = rate.StringFixed(2)
	f[20] = decimal.NewFromInt(q.volume).String()
	return f
}
