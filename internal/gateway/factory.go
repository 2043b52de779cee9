// Package gateway picks the market data backend named in config.
package gateway

import (
	"fmt"
	"strings"
	"time"

	"automoney/internal/config"
	"automoney/internal/gateway/binance"
	"automoney/internal/market"
)

// MarketSource is a kline/derivatives source that also reports the dollar
// proxy move used by macro analysts.
type MarketSource interface {
	market.Source
	market.DollarSource
}

func NewSourceFromConfig(cfg config.MarketConfig) (MarketSource, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Source))
	switch name {
	case "", "binance", "binance-futures":
		bc := cfg.Binance
		src, err := binance.New(binance.Config{
			RESTBaseURL:       bc.RESTBaseURL,
			SpotBaseURL:       bc.SpotBaseURL,
			QuoteAsset:        bc.QuoteAsset,
			DollarProxySymbol: bc.DollarProxySymbol,
			HTTPTimeout:       time.Duration(bc.HTTPTimeoutSeconds) * time.Second,
			ProxyEnabled:      bc.ProxyEnabled,
			RESTProxyURL:      bc.RESTProxyURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init binance source: %w", err)
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unsupported market source: %s", cfg.Source)
	}
}
