package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSource(t *testing.T, handler http.HandlerFunc) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	src, err := New(Config{RESTBaseURL: srv.URL, SpotBaseURL: srv.URL})
	require.NoError(t, err)
	return src
}

func TestSymbolMapping(t *testing.T) {
	src, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", src.Symbol("btc"))
	assert.Equal(t, "BTCUSDT", src.Symbol("BTC/USDT"))
	assert.Equal(t, "ETHUSDT", src.Symbol("ETHUSDT"))
}

func TestFetchHistoryParsesKlines(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`[
			[1499040000000,"100.5","110.0","99.0","105.25","1000.0",1499043599999,"105000.0",42,"500.0","52500.0","0"],
			[1499043600000,"105.25","108.0","101.0","102.0","800.0",1499047199999,"81600.0",30,"400.0","40800.0","0"]
		]`))
	})
	candles, err := src.FetchHistory(context.Background(), "btc", "1h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 105.25, candles[0].Close)
	assert.Equal(t, 110.0, candles[0].High)
	assert.Equal(t, int64(1499043600000), candles[1].OpenTime)

	_, err = src.FetchHistory(context.Background(), "", "1h", 2)
	assert.Error(t, err)
}

func TestDollarStrengthInvertsEuroMove(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "EURUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`[
			[1499040000000,"1.10","1.10","1.10","1.10","1",1499043599999,"1",1,"1","1","0"],
			[1499043600000,"1.10","1.10","1.089","1.089","1",1499047199999,"1",1,"1","1","0"]
		]`))
	})
	dx, err := src.DollarStrength(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.01, dx, 1e-9)
}
