package types

import (
	"strings"
	"time"
)

// Candle is one OHLCV bar; times are unix milliseconds.
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// AssetQuote is the per-asset part of a market snapshot.
type AssetQuote struct {
	Asset          string   `json:"asset"`
	Price          float64  `json:"price"`
	PriceChange24h float64  `json:"price_change_24h"`
	Volatility24h  float64  `json:"volatility_24h"`
	ATR            float64  `json:"atr"`
	FundingRate    float64  `json:"funding_rate"`
	Candles        []Candle `json:"-"`
}

// MarketSnapshot is the read-only market state handed to analysts and policies.
type MarketSnapshot struct {
	Timestamp      time.Time             `json:"timestamp"`
	Assets         map[string]AssetQuote `json:"assets"`
	SentimentIndex float64               `json:"sentiment_index"`
	DollarStrength float64               `json:"dollar_strength"`
	Macro          map[string]float64    `json:"macro,omitempty"`
	Derivatives    map[string]float64    `json:"derivatives,omitempty"`
}

// Quote looks up an asset case-insensitively.
func (s MarketSnapshot) Quote(asset string) (AssetQuote, bool) {
	key := NormalizeAsset(asset)
	if q, ok := s.Assets[key]; ok {
		return q, true
	}
	for k, q := range s.Assets {
		if NormalizeAsset(k) == key {
			return q, true
		}
	}
	return AssetQuote{}, false
}

// Prices flattens the snapshot into asset → last price.
func (s MarketSnapshot) Prices() map[string]float64 {
	out := make(map[string]float64, len(s.Assets))
	for k, q := range s.Assets {
		if q.Price > 0 {
			out[NormalizeAsset(k)] = q.Price
		}
	}
	return out
}

// RiskContext derives the ambient market-risk inputs for one asset.
func (s MarketSnapshot) RiskContext(asset string) RiskContext {
	q, _ := s.Quote(asset)
	return RiskContext{
		SentimentIndex: s.SentimentIndex,
		Volatility24h:  q.Volatility24h,
		PriceChange24h: q.PriceChange24h,
		DollarStrength: s.DollarStrength,
	}
}

// RiskContext carries the market-risk inputs shared by the calculator and the generator.
// Volatility and price change are fractions (0.05 = 5%).
type RiskContext struct {
	SentimentIndex float64 `json:"sentiment_index"`
	Volatility24h  float64 `json:"volatility_24h"`
	PriceChange24h float64 `json:"price_change_24h"`
	DollarStrength float64 `json:"dollar_strength"`
}

// NormalizeAsset upper-cases and strips a quote suffix: "btc/usdt" → "BTC".
func NormalizeAsset(asset string) string {
	a := strings.ToUpper(strings.TrimSpace(asset))
	if idx := strings.IndexAny(a, "/:-"); idx > 0 {
		a = a[:idx]
	}
	return a
}

// Summary copies the snapshot without candle history, for audit records.
func (s MarketSnapshot) Summary() MarketSnapshot {
	out := s
	out.Assets = make(map[string]AssetQuote, len(s.Assets))
	for k, q := range s.Assets {
		q.Candles = nil
		out.Assets[k] = q
	}
	out.Macro = copyFloats(s.Macro)
	out.Derivatives = copyFloats(s.Derivatives)
	return out
}

func copyFloats(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
