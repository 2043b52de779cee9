package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"automoney/internal/types"
)

// Settings controls the periods used by Compute.
type Settings struct {
	EMAFast   int `json:"ema_fast,omitempty"`
	EMASlow   int `json:"ema_slow,omitempty"`
	RSIPeriod int `json:"rsi_period,omitempty"`
	ATRPeriod int `json:"atr_period,omitempty"`
	// Window is the number of bars that make up "24h" for change and volatility.
	Window int `json:"window,omitempty"`
}

func (s Settings) withDefaults() Settings {
	if s.EMAFast <= 0 {
		s.EMAFast = 21
	}
	if s.EMASlow <= 0 {
		s.EMASlow = 50
	}
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = 14
	}
	if s.ATRPeriod <= 0 {
		s.ATRPeriod = 14
	}
	if s.Window <= 0 {
		s.Window = 24
	}
	return s
}

// Report is the latest value of every indicator for one asset.
type Report struct {
	Count      int      `json:"count"`
	Close      float64  `json:"close"`
	EMAFast    float64  `json:"ema_fast"`
	EMASlow    float64  `json:"ema_slow"`
	RSI        float64  `json:"rsi"`
	MACDHist   float64  `json:"macd_hist"`
	ATR        float64  `json:"atr"`
	Change     float64  `json:"change"`
	Volatility float64  `json:"volatility"`
	Trend      string   `json:"trend"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Compute runs every indicator over candles (oldest first).
func Compute(candles []types.Candle, cfg Settings) (Report, error) {
	cfg = cfg.withDefaults()
	rep := Report{Count: len(candles)}
	if len(candles) < 2 {
		return rep, fmt.Errorf("need at least 2 candles, got %d", len(candles))
	}
	highs, lows, closes := split(candles)
	rep.Close = closes[len(closes)-1]

	if len(closes) > cfg.EMASlow {
		rep.EMAFast = lastValid(trimLeadingZeros(sanitizeSeries(talib.Ema(closes, cfg.EMAFast))))
		rep.EMASlow = lastValid(trimLeadingZeros(sanitizeSeries(talib.Ema(closes, cfg.EMASlow))))
		rep.Trend = relativeState(rep.EMAFast, rep.EMASlow)
	} else {
		rep.Trend = "unknown"
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("ema: %d candles, need %d", len(closes), cfg.EMASlow+1))
	}
	if len(closes) > cfg.RSIPeriod {
		rep.RSI = lastValid(sanitizeSeries(talib.Rsi(closes, cfg.RSIPeriod)))
	} else {
		rep.Warnings = append(rep.Warnings, "rsi: not enough candles")
	}
	if len(closes) > 34 {
		_, _, hist := talib.Macd(closes, 12, 26, 9)
		rep.MACDHist = lastValid(sanitizeSeries(hist))
	}
	if atr, err := ATR(highs, lows, closes, cfg.ATRPeriod); err == nil {
		rep.ATR = atr
	} else {
		rep.Warnings = append(rep.Warnings, err.Error())
	}
	rep.Change = Change(closes, cfg.Window)
	rep.Volatility = Volatility(closes, cfg.Window)
	return rep, nil
}

// ATR returns the latest average true range.
func ATR(highs, lows, closes []float64, period int) (float64, error) {
	if period <= 0 {
		period = 14
	}
	if len(closes) <= period {
		return 0, fmt.Errorf("atr: %d candles, need %d", len(closes), period+1)
	}
	v := lastValid(sanitizeSeries(talib.Atr(highs, lows, closes, period)))
	if v <= 0 {
		return 0, fmt.Errorf("atr: series empty")
	}
	return v, nil
}

// ATRFromCandles is ATR over candles.
func ATRFromCandles(candles []types.Candle, period int) (float64, error) {
	highs, lows, closes := split(candles)
	return ATR(highs, lows, closes, period)
}

// Change is the fractional close-to-close move over the last window bars,
// or over the whole series when it is shorter.
func Change(closes []float64, window int) float64 {
	if len(closes) < 2 {
		return 0
	}
	if window <= 0 || window >= len(closes) {
		window = len(closes) - 1
	}
	roc := sanitizeSeries(talib.Roc(closes, window))
	if len(roc) == 0 {
		return 0
	}
	return round4(lastValid(roc) / 100)
}

// Volatility is the standard deviation of bar returns over the last window
// bars, scaled by sqrt(window) so it reads as a move over the whole window.
func Volatility(closes []float64, window int) float64 {
	if len(closes) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	if window <= 1 || window > len(returns) {
		window = len(returns)
	}
	if window < 2 {
		return 0
	}
	sd := lastValid(sanitizeSeries(talib.StdDev(returns, window, 1)))
	return round4(sd * math.Sqrt(float64(window)))
}

func split(candles []types.Candle) (highs, lows, closes []float64) {
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	closes = make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	return
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// trimLeadingZeros drops TA-Lib's zero-seeded lookback values.
func trimLeadingZeros(series []float64) []float64 {
	start := 0
	for start < len(series) && almostZero(series[start]) {
		start++
	}
	return series[start:]
}

func almostZero(v float64) bool {
	return math.Abs(v) <= 1e-9
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}

func relativeState(fast, slow float64) string {
	if slow == 0 {
		return "unknown"
	}
	switch {
	case fast > slow*1.002:
		return "up"
	case fast < slow*0.998:
		return "down"
	default:
		return "flat"
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
