package app

import (
	"context"

	"automoney/internal/agent/interfaces"
	"automoney/internal/config"
	"automoney/internal/gateway"
	"automoney/internal/logger"
	"automoney/internal/market"
)

// MarketStack is everything the engine reads market data through.
type MarketStack struct {
	Snapshots interfaces.SnapshotProvider
	Prices    interfaces.PriceSource
}

// buildMarketStack wires the configured kline source, its dollar proxy and
// the fear & greed index into one snapshot provider.
func buildMarketStack(_ context.Context, cfg *config.Config) (*MarketStack, error) {
	src, err := gateway.NewSourceFromConfig(cfg.Market)
	if err != nil {
		return nil, err
	}
	fg := market.NewFearGreedService(cfg.Market.FearGreedEndpoint, nil)
	provider := market.NewProvider(market.ProviderConfig{
		Interval:               cfg.Market.Interval,
		Lookback:               cfg.Market.Lookback,
		OIPeriod:               cfg.Market.OIPeriod,
		MaxConcurrent:          cfg.Market.MaxConcurrent,
		FallbackSentiment:      cfg.Market.FallbackSentiment,
		AllowSentimentFallback: cfg.Market.AllowSentimentFallback,
	}, src, fg, src)
	logger.Infof("market stack ready: source=%s interval=%s lookback=%d", cfg.Market.Source, cfg.Market.Interval, cfg.Market.Lookback)
	return &MarketStack{Snapshots: provider, Prices: provider}, nil
}
