package market

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"automoney/internal/analysis/indicator"
	"automoney/internal/logger"
	"automoney/internal/types"
)

// ProviderConfig tunes what one snapshot pulls.
type ProviderConfig struct {
	Interval      string
	Lookback      int
	OIPeriod      string
	Indicators    indicator.Settings
	MaxConcurrent int
	// FallbackSentiment is used only when AllowSentimentFallback is set and the
	// sentiment feed is down.
	FallbackSentiment      float64
	AllowSentimentFallback bool
}

func (c ProviderConfig) withDefaults() ProviderConfig {
	if c.Interval == "" {
		c.Interval = "1h"
	}
	if c.Lookback <= 0 {
		c.Lookback = 120
	}
	if c.OIPeriod == "" {
		c.OIPeriod = "1h"
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.FallbackSentiment <= 0 {
		c.FallbackSentiment = 50
	}
	return c
}

// Provider assembles read-only MarketSnapshots from the configured feeds.
type Provider struct {
	cfg       ProviderConfig
	source    Source
	sentiment SentimentSource
	dollar    DollarSource
	nowFn     func() time.Time
	log       *logger.Entry
}

func NewProvider(cfg ProviderConfig, source Source, sentiment SentimentSource, dollar DollarSource) *Provider {
	return &Provider{
		cfg:       cfg.withDefaults(),
		source:    source,
		sentiment: sentiment,
		dollar:    dollar,
		nowFn:     time.Now,
		log:       logger.Named("market"),
	}
}

// Snapshot fetches every asset concurrently. Price and candles are required
// per asset; derivatives metrics are best effort and only logged on failure.
func (p *Provider) Snapshot(ctx context.Context, assets []string) (types.MarketSnapshot, error) {
	snap := types.MarketSnapshot{
		Timestamp:   p.nowFn().UTC(),
		Assets:      make(map[string]types.AssetQuote, len(assets)),
		Macro:       make(map[string]float64),
		Derivatives: make(map[string]float64),
	}
	uniq := uniqueAssets(assets)
	if len(uniq) == 0 {
		return snap, fmt.Errorf("snapshot needs at least one asset")
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrent)
	for _, asset := range uniq {
		asset := asset
		g.Go(func() error {
			q, derivs, err := p.quote(gctx, asset)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Assets[asset] = q
			for k, v := range derivs {
				snap.Derivatives[asset+"."+k] = v
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return types.MarketSnapshot{}, err
	}

	sentiment, err := p.readSentiment(ctx)
	if err != nil {
		return types.MarketSnapshot{}, err
	}
	snap.SentimentIndex = sentiment

	if p.dollar != nil {
		dx, err := p.dollar.DollarStrength(ctx)
		if err != nil {
			p.log.Warnf("dollar strength unavailable: %v", err)
		} else {
			snap.DollarStrength = dx
			snap.Macro["dollar_strength"] = dx
		}
	}
	return snap, nil
}

func (p *Provider) quote(ctx context.Context, asset string) (types.AssetQuote, map[string]float64, error) {
	candles, err := p.source.FetchHistory(ctx, asset, p.cfg.Interval, p.cfg.Lookback)
	if err != nil {
		return types.AssetQuote{}, nil, fmt.Errorf("fetch %s candles: %w", asset, err)
	}
	if len(candles) == 0 {
		return types.AssetQuote{}, nil, fmt.Errorf("fetch %s candles: empty history", asset)
	}
	q := types.AssetQuote{
		Asset:   asset,
		Price:   candles[len(candles)-1].Close,
		Candles: candles,
	}
	if rep, err := indicator.Compute(candles, p.cfg.Indicators); err == nil {
		q.ATR = rep.ATR
		q.PriceChange24h = rep.Change
		q.Volatility24h = rep.Volatility
		for _, w := range rep.Warnings {
			p.log.Debugf("%s indicators: %s", asset, w)
		}
	} else {
		p.log.Warnf("%s indicators: %v", asset, err)
	}

	derivs := make(map[string]float64)
	if fr, err := p.source.FundingRate(ctx, asset); err == nil {
		q.FundingRate = fr
		derivs["funding_rate"] = fr
	} else {
		p.log.Debugf("%s funding rate: %v", asset, err)
	}
	if oi, err := p.source.OpenInterestChange(ctx, asset, p.cfg.OIPeriod); err == nil {
		derivs["oi_change"] = oi
	} else {
		p.log.Debugf("%s open interest: %v", asset, err)
	}
	if ratio, err := p.source.TopLongShortRatio(ctx, asset, p.cfg.OIPeriod); err == nil {
		derivs["top_long_short_ratio"] = ratio
	} else {
		p.log.Debugf("%s long/short ratio: %v", asset, err)
	}
	return q, derivs, nil
}

func (p *Provider) readSentiment(ctx context.Context) (float64, error) {
	if p.sentiment == nil {
		if p.cfg.AllowSentimentFallback {
			return p.cfg.FallbackSentiment, nil
		}
		return 0, fmt.Errorf("no sentiment source configured")
	}
	v, err := p.sentiment.Sentiment(ctx)
	if err == nil {
		return v, nil
	}
	if p.cfg.AllowSentimentFallback {
		p.log.Warnf("sentiment unavailable, using fallback %.0f: %v", p.cfg.FallbackSentiment, err)
		return p.cfg.FallbackSentiment, nil
	}
	return 0, fmt.Errorf("sentiment: %w", err)
}

// LatestPrices returns the last close for every asset.
func (p *Provider) LatestPrices(ctx context.Context, assets []string) (map[string]float64, error) {
	out := make(map[string]float64, len(assets))
	for _, asset := range uniqueAssets(assets) {
		candles, err := p.source.FetchHistory(ctx, asset, p.cfg.Interval, 2)
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", asset, err)
		}
		if len(candles) == 0 {
			return nil, fmt.Errorf("price %s: empty history", asset)
		}
		out[asset] = candles[len(candles)-1].Close
	}
	return out, nil
}

func uniqueAssets(assets []string) []string {
	seen := make(map[string]struct{}, len(assets))
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		n := types.NormalizeAsset(a)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
