package binance

import (
	"strings"
	"time"
)

type Config struct {
	RESTBaseURL string
	SpotBaseURL string
	QuoteAsset  string
	// DollarProxySymbol is a spot pair whose inverse move stands in for the
	// dollar index. EURUSDT by default.
	DollarProxySymbol string
	HTTPTimeout       time.Duration

	ProxyEnabled bool
	RESTProxyURL string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	out.SpotBaseURL = strings.TrimSpace(out.SpotBaseURL)
	if out.SpotBaseURL == "" {
		out.SpotBaseURL = "https://api.binance.com"
	}
	out.QuoteAsset = strings.ToUpper(strings.TrimSpace(out.QuoteAsset))
	if out.QuoteAsset == "" {
		out.QuoteAsset = "USDT"
	}
	out.DollarProxySymbol = strings.ToUpper(strings.TrimSpace(out.DollarProxySymbol))
	if out.DollarProxySymbol == "" {
		out.DollarProxySymbol = "EURUSDT"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	return out
}
