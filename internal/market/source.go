package market

import (
	"context"

	"automoney/internal/types"
)

// Source is a pull-based market data feed.
type Source interface {
	FetchHistory(ctx context.Context, asset, interval string, limit int) ([]types.Candle, error)
	FundingRate(ctx context.Context, asset string) (float64, error)
	OpenInterestChange(ctx context.Context, asset, period string) (float64, error)
	TopLongShortRatio(ctx context.Context, asset, period string) (float64, error)
}

// DollarSource reports the dollar-strength proxy as a fractional 24h move.
type DollarSource interface {
	DollarStrength(ctx context.Context) (float64, error)
}

// SentimentSource reports a 0..100 fear/greed style index.
type SentimentSource interface {
	Sentiment(ctx context.Context) (float64, error)
}
