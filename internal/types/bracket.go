package types

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Bracket invariants.
const (
	MinStopDistancePct = 0.005
	MaxStopDistancePct = 0.10
	MinRewardRisk      = 1.5
)

// BracketOrder is an entry with an attached stop-loss and take-profit (OCO).
type BracketOrder struct {
	Asset           string      `json:"asset"`
	Side            SignalClass `json:"side"`
	EntryPrice      float64     `json:"entry_price"`
	EntryAmount     float64     `json:"entry_amount"`
	StopLossPrice   float64     `json:"stop_loss_price"`
	TakeProfitPrice float64     `json:"take_profit_price"`
	Leverage        float64     `json:"leverage"`
}

// InvalidBracketOrderError lists every violated invariant.
type InvalidBracketOrderError struct {
	Reasons []string
}

func (e *InvalidBracketOrderError) Error() string {
	return "invalid bracket order: " + strings.Join(e.Reasons, "; ")
}

func (e *InvalidBracketOrderError) CycleErrorKind() ErrorKind { return ErrKindInvalidBracket }

// StopDistancePct is |entry − stop| / entry.
func (b BracketOrder) StopDistancePct() float64 {
	if b.EntryPrice <= 0 {
		return 0
	}
	entry := decFromFloat(b.EntryPrice)
	dist := entry.Sub(decFromFloat(b.StopLossPrice)).Abs()
	return decToFloat(dist.Div(entry))
}

// RewardRisk is |target − entry| / |entry − stop|.
func (b BracketOrder) RewardRisk() float64 {
	entry := decFromFloat(b.EntryPrice)
	risk := entry.Sub(decFromFloat(b.StopLossPrice)).Abs()
	if risk.IsZero() {
		return 0
	}
	reward := decFromFloat(b.TakeProfitPrice).Sub(entry).Abs()
	return decToFloat(reward.Div(risk))
}

// Validate returns *InvalidBracketOrderError when any invariant fails.
func (b BracketOrder) Validate() error {
	var reasons []string
	if strings.TrimSpace(b.Asset) == "" {
		reasons = append(reasons, "asset is empty")
	}
	if b.EntryPrice <= 0 || !finite(b.EntryPrice) {
		reasons = append(reasons, fmt.Sprintf("entry price %.8g must be positive", b.EntryPrice))
	}
	if b.EntryAmount <= 0 || !finite(b.EntryAmount) {
		reasons = append(reasons, fmt.Sprintf("entry amount %.8g must be positive", b.EntryAmount))
	}
	if b.Leverage <= 0 || !finite(b.Leverage) {
		reasons = append(reasons, fmt.Sprintf("leverage %.4g must be positive", b.Leverage))
	}
	entry := decFromFloat(b.EntryPrice)
	stop := decFromFloat(b.StopLossPrice)
	target := decFromFloat(b.TakeProfitPrice)
	switch b.Side {
	case SignalLong:
		if !(stop.LessThan(entry) && entry.LessThan(target)) {
			reasons = append(reasons, fmt.Sprintf("LONG requires stop %.8g < entry %.8g < target %.8g", b.StopLossPrice, b.EntryPrice, b.TakeProfitPrice))
		}
	case SignalShort:
		if !(target.LessThan(entry) && entry.LessThan(stop)) {
			reasons = append(reasons, fmt.Sprintf("SHORT requires target %.8g < entry %.8g < stop %.8g", b.TakeProfitPrice, b.EntryPrice, b.StopLossPrice))
		}
	default:
		reasons = append(reasons, fmt.Sprintf("side %q must be LONG or SHORT", b.Side))
	}
	if b.EntryPrice > 0 {
		pct := b.StopDistancePct()
		if pct < MinStopDistancePct-1e-12 || pct > MaxStopDistancePct+1e-12 {
			reasons = append(reasons, fmt.Sprintf("stop distance %.2f%% outside [%.1f%%, %.0f%%]", pct*100, MinStopDistancePct*100, MaxStopDistancePct*100))
		}
	}
	if rr := b.RewardRisk(); rr < MinRewardRisk-1e-9 {
		reasons = append(reasons, fmt.Sprintf("reward:risk %.2f below %.1f", rr, MinRewardRisk))
	}
	if len(reasons) > 0 {
		return &InvalidBracketOrderError{Reasons: reasons}
	}
	return nil
}

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}
