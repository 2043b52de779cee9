package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	spot "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"

	"automoney/internal/market"
	"automoney/internal/scheduler"
	"automoney/internal/types"
)

const maxHistoryLimit = 1500

// Source implements market.Source on the USDⓈ-M futures REST API and
// market.DollarSource on a spot FX pair.
type Source struct {
	cfg    Config
	client *futures.Client
	spot   *spot.Client
}

var (
	_ market.Source       = (*Source)(nil)
	_ market.DollarSource = (*Source)(nil)
)

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = httpClient

	spotClient := spot.NewClient("", "")
	spotClient.BaseURL = final.SpotBaseURL
	spotClient.HTTPClient = httpClient

	return &Source{cfg: final, client: client, spot: spotClient}, nil
}

// Symbol maps "btc", "BTC/USDT" or "BTCUSDT" onto the exchange pair.
func (s *Source) Symbol(asset string) string {
	base := types.NormalizeAsset(asset)
	if strings.HasSuffix(base, s.cfg.QuoteAsset) && len(base) > len(s.cfg.QuoteAsset) {
		return base
	}
	return base + s.cfg.QuoteAsset
}

func (s *Source) FetchHistory(ctx context.Context, asset, interval string, limit int) ([]types.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if strings.TrimSpace(asset) == "" {
		return nil, fmt.Errorf("asset is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(s.Symbol(asset)).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, types.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = scheduler.DropUnclosedKline(out, dur)
	}
	return out, nil
}

// FundingRate returns the latest funding rate, e.g. 0.0001 for 0.01%.
func (s *Source) FundingRate(ctx context.Context, asset string) (float64, error) {
	symbol := s.Symbol(asset)
	res, err := s.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, entry := range res {
		if entry != nil && strings.EqualFold(entry.Symbol, symbol) {
			return parseFloat(entry.LastFundingRate), nil
		}
	}
	return 0, fmt.Errorf("funding rate not available for %s", symbol)
}

// OpenInterestChange is the fractional change of open interest over the last
// 24 periods.
func (s *Source) OpenInterestChange(ctx context.Context, asset, period string) (float64, error) {
	symbol := s.Symbol(asset)
	stats, err := s.client.NewOpenInterestStatisticsService().Symbol(symbol).Period(period).Limit(24).Do(ctx)
	if err != nil {
		return 0, err
	}
	var first, last float64
	for _, item := range stats {
		if item == nil {
			continue
		}
		v := parseFloat(item.SumOpenInterestValue)
		if first == 0 {
			first = v
		}
		last = v
	}
	if first <= 0 {
		return 0, fmt.Errorf("open interest history empty for %s", symbol)
	}
	return last/first - 1, nil
}

// TopLongShortRatio is the latest top-trader position long/short ratio.
func (s *Source) TopLongShortRatio(ctx context.Context, asset, period string) (float64, error) {
	symbol := s.Symbol(asset)
	raw, err := s.client.NewTopLongShortPositionRatioService().Symbol(symbol).Period(period).Limit(1).Do(ctx)
	if err != nil {
		return 0, err
	}
	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i] != nil {
			return parseFloat(raw[i].LongShortRatio), nil
		}
	}
	return 0, fmt.Errorf("long/short ratio not available for %s", symbol)
}

// DollarStrength is the negated 24h move of the EUR/USDT spot pair.
func (s *Source) DollarStrength(ctx context.Context) (float64, error) {
	kls, err := s.spot.NewKlinesService().Symbol(s.cfg.DollarProxySymbol).Interval("1h").Limit(25).Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(kls) < 2 || kls[0] == nil || kls[len(kls)-1] == nil {
		return 0, fmt.Errorf("%s history too short", s.cfg.DollarProxySymbol)
	}
	first := parseFloat(kls[0].Close)
	last := parseFloat(kls[len(kls)-1].Close)
	if first <= 0 {
		return 0, fmt.Errorf("%s history invalid", s.cfg.DollarProxySymbol)
	}
	return -(last/first - 1), nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
