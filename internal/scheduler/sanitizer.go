package scheduler

import (
	"time"

	"automoney/internal/types"
)

const DefaultKlineGrace = 10 * time.Second

// DropUnclosedKline drops the last candle if it is still in progress.
// Exchanges return the current, not-yet-closed candle as the last element.
// Candle times are milliseconds since epoch.
func DropUnclosedKline(klines []types.Candle, interval time.Duration) []types.Candle {
	return dropUnclosedKlineAt(klines, interval, time.Now().UTC(), DefaultKlineGrace)
}

func dropUnclosedKlineAt(klines []types.Candle, interval time.Duration, now time.Time, grace time.Duration) []types.Candle {
	if len(klines) == 0 || interval <= 0 {
		return klines
	}
	if grace < 0 {
		grace = 0
	}
	last := klines[len(klines)-1]
	if last.OpenTime <= 0 {
		return klines
	}
	closeAt := last.OpenTime + interval.Milliseconds()
	if last.CloseTime > 0 && last.CloseTime+1 > closeAt {
		closeAt = last.CloseTime + 1
	}
	if now.UnixMilli() < closeAt+grace.Milliseconds() {
		return klines[:len(klines)-1]
	}
	return klines
}
