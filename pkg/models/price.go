package models

// PriceUpdate is a normalized tick for one symbol. Numeric fields stay as
// strings so the feed's precision reaches clients untouched.
type PriceUpdate struct {
	Symbol     string `json:"symbol"`
	Price      string `json:"price"`
	Change     string `json:"change"`
	ChangeRate string `json:"changeRate"`
	Volume     string `json:"volume,omitempty"`
	Time       string `json:"time"`
}

const (
	// PriceChannelPrefix prefixes the bus channel carrying a symbol's updates.
	PriceChannelPrefix = "stock.price."
	// LastPriceKeyPrefix prefixes the cache key holding a symbol's latest update.
	LastPriceKeyPrefix = "stock:last:"
)

func PriceChannel(symbol string) string { return PriceChannelPrefix + symbol }

func LastPriceKey(symbol string) string { return LastPriceKeyPrefix + symbol }
