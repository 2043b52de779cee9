package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"automoney/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) FetchHistory(ctx context.Context, asset, interval string, limit int) ([]types.Candle, error) {
	args := m.Called(ctx, asset, interval, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Candle), args.Error(1)
}
func (m *MockSource) FundingRate(ctx context.Context, asset string) (float64, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(float64), args.Error(1)
}
func (m *MockSource) OpenInterestChange(ctx context.Context, asset, period string) (float64, error) {
	args := m.Called(ctx, asset, period)
	return args.Get(0).(float64), args.Error(1)
}
func (m *MockSource) TopLongShortRatio(ctx context.Context, asset, period string) (float64, error) {
	args := m.Called(ctx, asset, period)
	return args.Get(0).(float64), args.Error(1)
}

type staticSentiment struct {
	value float64
	err   error
}

func (s staticSentiment) Sentiment(context.Context) (float64, error) { return s.value, s.err }

func candles(n int, price float64) []types.Candle {
	out := make([]types.Candle, n)
	for i := range out {
		c := price + float64(i)
		out[i] = types.Candle{OpenTime: int64(i) * 3600_000, Open: c, High: c + 10, Low: c - 10, Close: c}
	}
	return out
}

func TestSnapshotAssemblesQuotes(t *testing.T) {
	src := new(MockSource)
	src.On("FetchHistory", mock.Anything, "BTC", "1h", 120).Return(candles(60, 43000), nil)
	src.On("FundingRate", mock.Anything, "BTC").Return(0.0001, nil)
	src.On("OpenInterestChange", mock.Anything, "BTC", "1h").Return(0.02, nil)
	src.On("TopLongShortRatio", mock.Anything, "BTC", "1h").Return(0.0, errors.New("not listed"))

	p := NewProvider(ProviderConfig{}, src, staticSentiment{value: 62}, nil)
	snap, err := p.Snapshot(context.Background(), []string{"btc/usdt", "BTC"})
	require.NoError(t, err)

	q, ok := snap.Quote("BTC")
	require.True(t, ok)
	assert.Equal(t, 43059.0, q.Price)
	assert.Greater(t, q.ATR, 0.0)
	assert.Greater(t, q.PriceChange24h, 0.0)
	assert.Equal(t, 0.0001, q.FundingRate)
	assert.Equal(t, 62.0, snap.SentimentIndex)
	assert.Equal(t, 0.02, snap.Derivatives["BTC.oi_change"])
	assert.NotContains(t, snap.Derivatives, "BTC.top_long_short_ratio")
	src.AssertNumberOfCalls(t, "FetchHistory", 1)
}

func TestSnapshotFailsWithoutCandles(t *testing.T) {
	src := new(MockSource)
	src.On("FetchHistory", mock.Anything, "BTC", "1h", 120).Return(nil, errors.New("418 teapot"))
	p := NewProvider(ProviderConfig{}, src, staticSentiment{value: 50}, nil)
	_, err := p.Snapshot(context.Background(), []string{"BTC"})
	assert.Error(t, err)
}

func TestSnapshotSentimentFallback(t *testing.T) {
	src := new(MockSource)
	src.On("FetchHistory", mock.Anything, "ETH", "1h", 120).Return(candles(30, 2000), nil)
	src.On("FundingRate", mock.Anything, "ETH").Return(0.0, nil)
	src.On("OpenInterestChange", mock.Anything, "ETH", "1h").Return(0.0, nil)
	src.On("TopLongShortRatio", mock.Anything, "ETH", "1h").Return(1.1, nil)

	down := staticSentiment{err: errors.New("down")}
	_, err := NewProvider(ProviderConfig{}, src, down, nil).Snapshot(context.Background(), []string{"ETH"})
	assert.Error(t, err)

	snap, err := NewProvider(ProviderConfig{AllowSentimentFallback: true}, src, down, nil).Snapshot(context.Background(), []string{"ETH"})
	require.NoError(t, err)
	assert.Equal(t, 50.0, snap.SentimentIndex)
}

func TestFearGreedServiceParsesIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"value":"27","value_classification":"Fear","timestamp":"` + nowUnix() + `","time_until_update":"3600"}],"metadata":{"error":null}}`))
	}))
	defer srv.Close()

	svc := NewFearGreedService(srv.URL, srv.Client())
	v, err := svc.Sentiment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 27.0, v)

	data, ok := svc.Latest()
	require.True(t, ok)
	assert.Equal(t, "Fear", data.Classification)
}

func TestFearGreedServiceCachesUntilNextUpdate(t *testing.T) {
	var hits int
	published := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte(`{"data":[{"value":"61","value_classification":"Greed","timestamp":"` +
			strconv.FormatInt(published.Unix(), 10) + `","time_until_update":"600"}],"metadata":{"error":null}}`))
	}))
	defer srv.Close()

	now := published.Add(time.Hour)
	svc := NewFearGreedService(srv.URL, srv.Client())
	svc.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		v, err := svc.Sentiment(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 61.0, v)
	}
	assert.Equal(t, 1, hits)

	now = now.Add(11 * time.Minute)
	_, err := svc.Sentiment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, hits)

	now = published.Add(72 * time.Hour)
	srv.Close()
	_, err = svc.Sentiment(context.Background())
	assert.ErrorContains(t, err, "stale")
}

func TestParseFearGreedRejectsBadPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":  `<html>`,
		"api error": `{"data":[],"metadata":{"error":"rate limited"}}`,
		"empty":     `{"data":[],"metadata":{"error":null}}`,
		"junk":      `{"data":[{"value":"lots"}]}`,
		"range":     `{"data":[{"value":"140"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := parseFearGreed([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestFearGreedServiceErrorIsNotAGuess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	_, err := NewFearGreedService(srv.URL, srv.Client()).Sentiment(context.Background())
	assert.Error(t, err)
}

func nowUnix() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}
