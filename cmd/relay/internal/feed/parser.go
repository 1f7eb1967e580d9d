package feed

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/HurDong/Glance/pkg/models"
)

var (
	errShortFrame    = errors.New("frame too short")
	errEncrypted     = errors.New("encrypted payload not supported")
	errUnknownLayout = errors.New("unknown transaction id")
)

// layout maps one market class onto caret-separated field offsets.
// Negative offsets mean the field is not carried.
type layout struct {
	class     string
	minFields int
	symbol    int
	time      int
	price     int
	sign      int
	change    int
	rate      int
	volume    int
	overseas  bool
}

var layouts = map[string]layout{
	TrDomesticTrade: {
		class: "domestic", minFields: 6,
		symbol: 0, time: 1, price: 2, sign: -1, change: 4, rate: 5, volume: 13,
	},
	TrOverseasTrade: {
		class: "overseas", minFields: 26,
		symbol: 0, time: 5, price: 11, sign: 12, change: 13, rate: 14, volume: 20,
		overseas: true,
	},
	TrOverseasQuote: {
		class: "overseas", minFields: 26,
		symbol: 0, time: 5, price: 11, sign: 12, change: 13, rate: 14, volume: 20,
		overseas: true,
	},
}

// Sign codes: 1 upper limit, 2 rise, 3 flat, 4 fall, 5 lower limit.
func isFallSign(code string) bool {
	return code == "4" || code == "5"
}

// ApplySign carries the direction of a sign code onto an unsigned change.
// Rises stay unsigned, matching the domestic layout.
func ApplySign(code, change string) string {
	if isFallSign(code) && change != "" && !strings.HasPrefix(change, "-") {
		return "-" + change
	}
	return change
}

// isControlFrame reports whether a frame is a JSON acknowledgement rather
// than market data.
func isControlFrame(frame []byte) bool {
	return len(frame) > 0 && frame[0] == '{'
}

// parseData decodes a data frame (marker|trID|count|payload). Records that
// fail validation are skipped and reported through the returned error while
// the remaining records are still returned.
func parseData(frame string) ([]models.PriceUpdate, error) {
	parts := strings.SplitN(frame, "|", 4)
	if len(parts) < 4 {
		return nil, fmt.Errorf("%w: %d parts", errShortFrame, len(parts))
	}
	if parts[0] == "1" {
		return nil, fmt.Errorf("%w: tr_id %s", errEncrypted, parts[1])
	}

	trID := parts[1]
	lay, ok := layouts[trID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownLayout, trID)
	}

	fields := strings.Split(parts[3], "^")
	records := splitRecords(fields, parts[2])

	updates := make([]models.PriceUpdate, 0, len(records))
	var errs []error
	for _, rec := range records {
		u, err := lay.decode(rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		updates = append(updates, u)
	}
	return updates, errors.Join(errs...)
}

// splitRecords breaks a multi-record payload into equal-width records when
// the declared count divides the field count evenly.
func splitRecords(fields []string, count string) [][]string {
	n, err := strconv.Atoi(count)
	if err != nil || n <= 1 || len(fields)%n != 0 {
		return [][]string{fields}
	}
	width := len(fields) / n
	records := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, fields[i*width:(i+1)*width])
	}
	return records
}

func (l layout) decode(fields []string) (models.PriceUpdate, error) {
	if len(fields) < l.minFields {
		return models.PriceUpdate{}, fmt.Errorf("%w: %s record has %d fields, want %d",
			errShortFrame, l.class, len(fields), l.minFields)
	}

	symbol := fields[l.symbol]
	if l.overseas {
		symbol = stripVenue(symbol)
	}
	if symbol == "" {
		return models.PriceUpdate{}, fmt.Errorf("%s record without symbol", l.class)
	}

	change := fields[l.change]
	if l.sign >= 0 {
		change = ApplySign(fields[l.sign], change)
	}

	u := models.PriceUpdate{
		Symbol:     symbol,
		Price:      fields[l.price],
		Change:     change,
		ChangeRate: fields[l.rate],
		Time:       fields[l.time],
	}
	if l.volume >= 0 && l.volume < len(fields) {
		u.Volume = fields[l.volume]
	}

	for name, v := range map[string]string{"price": u.Price, "change": u.Change, "rate": u.ChangeRate} {
		if _, err := decimal.NewFromString(v); err != nil {
			return models.PriceUpdate{}, fmt.Errorf("%s %s: invalid %s %q", l.class, symbol, name, v)
		}
	}
	return u, nil
}
