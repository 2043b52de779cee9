package analyst

import (
	"context"
	"fmt"
	"math"
	"sort"

	"automoney/internal/analysis/indicator"
	"automoney/internal/types"
)

// Built-in rule-based analysts. They need no remote endpoint and read only
// the snapshot, which makes them usable for paper runs and tests.

// TechnicalAnalyst votes EMA trend, RSI and MACD histogram for one asset.
type TechnicalAnalyst struct {
	AnalystID string
	Asset     string
	Settings  indicator.Settings
}

func (a TechnicalAnalyst) ID() string              { return a.AnalystID }
func (a TechnicalAnalyst) Kind() types.AnalystKind { return types.KindTechnical }

func (a TechnicalAnalyst) Invoke(_ context.Context, snap types.MarketSnapshot) (types.AnalystOutput, error) {
	q, ok := snap.Quote(a.Asset)
	if !ok {
		return types.AnalystOutput{}, fmt.Errorf("technical analyst %s: no quote for %s", a.AnalystID, a.Asset)
	}
	rep, err := indicator.Compute(q.Candles, a.Settings)
	if err != nil {
		return types.AnalystOutput{}, fmt.Errorf("technical analyst %s: %w", a.AnalystID, err)
	}
	votes := 0.0
	switch rep.Trend {
	case "up":
		votes++
	case "down":
		votes--
	}
	switch {
	case rep.RSI >= 70:
		votes -= 0.5
	case rep.RSI > 55:
		votes++
	case rep.RSI > 0 && rep.RSI <= 30:
		votes += 0.5
	case rep.RSI > 0 && rep.RSI < 45:
		votes--
	}
	switch {
	case rep.MACDHist > 0:
		votes++
	case rep.MACDHist < 0:
		votes--
	}
	const maxVotes = 3.0
	return types.AnalystOutput{
		AnalystID:  a.AnalystID,
		Kind:       types.KindTechnical,
		Signal:     classify(votes, 0.5),
		Confidence: clampUnit(math.Abs(votes) / maxVotes),
		Score:      clampScore(votes / maxVotes * 100),
		Rationale:  fmt.Sprintf("trend=%s rsi=%.1f macd_hist=%.4f", rep.Trend, rep.RSI, rep.MACDHist),
		Metrics: map[string]float64{
			"rsi":        rep.RSI,
			"macd_hist":  rep.MACDHist,
			"atr":        rep.ATR,
			"change":     rep.Change,
			"volatility": rep.Volatility,
		},
	}, nil
}

// MacroAnalyst reads the dollar-strength proxy: a rising dollar is bearish
// for crypto.
type MacroAnalyst struct {
	AnalystID string
	// Band is the dollar move treated as noise, 0.005 by default.
	Band float64
}

func (a MacroAnalyst) ID() string              { return a.AnalystID }
func (a MacroAnalyst) Kind() types.AnalystKind { return types.KindMacro }

func (a MacroAnalyst) Invoke(_ context.Context, snap types.MarketSnapshot) (types.AnalystOutput, error) {
	band := a.Band
	if band <= 0 {
		band = 0.005
	}
	dx := snap.DollarStrength
	sig := types.SignalNeutral
	switch {
	case dx > band:
		sig = types.SignalBearish
	case dx < -band:
		sig = types.SignalBullish
	}
	return types.AnalystOutput{
		AnalystID:  a.AnalystID,
		Kind:       types.KindMacro,
		Signal:     sig,
		Confidence: clampUnit(0.4 + math.Abs(dx)/(4*band)),
		Score:      clampScore(-dx / (4 * band) * 100),
		Rationale:  fmt.Sprintf("dollar strength %.2f%%", dx*100),
		Metrics:    map[string]float64{"dollar_strength": dx},
	}, nil
}

// RegimeAnalyst blends sentiment, funding and the market's average 24h move
// into a 0..100 health score.
type RegimeAnalyst struct {
	AnalystID string
}

func (a RegimeAnalyst) ID() string              { return a.AnalystID }
func (a RegimeAnalyst) Kind() types.AnalystKind { return types.KindRegime }

func (a RegimeAnalyst) Invoke(_ context.Context, snap types.MarketSnapshot) (types.AnalystOutput, error) {
	if len(snap.Assets) == 0 {
		return types.AnalystOutput{}, fmt.Errorf("regime analyst %s: empty snapshot", a.AnalystID)
	}
	var change, funding float64
	for _, q := range snap.Assets {
		change += q.PriceChange24h
		funding += q.FundingRate
	}
	n := float64(len(snap.Assets))
	change /= n
	funding /= n

	sentiment := clampRange(snap.SentimentIndex, 0, 100)
	trend := clampRange(50+change*500, 0, 100)
	// crowded longs (high positive funding) erode health
	derivatives := clampRange(50-funding*50000, 0, 100)
	liquidity := clampRange(50-snap.DollarStrength*2500, 0, 100)

	components := map[string]float64{
		"sentiment":   sentiment,
		"trend":       trend,
		"derivatives": derivatives,
		"liquidity":   liquidity,
	}
	score := 0.35*sentiment + 0.30*trend + 0.20*derivatives + 0.15*liquidity
	sig := types.SignalNeutral
	switch {
	case score >= 60:
		sig = types.SignalBullish
	case score < 40:
		sig = types.SignalBearish
	}
	return types.AnalystOutput{
		AnalystID:  a.AnalystID,
		Kind:       types.KindRegime,
		Signal:     sig,
		Confidence: clampUnit(math.Abs(score-50) / 50),
		Score:      clampScore((score - 50) * 2),
		Rationale:  fmt.Sprintf("regime %.1f", score),
		Regime:     &types.RegimePayload{Score: score, Components: components},
	}, nil
}

// MomentumAnalyst scans every asset in the snapshot and nominates the one
// with the strongest move confirmed by its EMA trend.
type MomentumAnalyst struct {
	AnalystID       string
	StopDistanceATR float64
	RewardRisk      float64
	// FullStrengthMove is the 24h move that maps to strength 1, 0.06 by default.
	FullStrengthMove float64
	Settings         indicator.Settings
}

func (a MomentumAnalyst) ID() string              { return a.AnalystID }
func (a MomentumAnalyst) Kind() types.AnalystKind { return types.KindMomentum }

func (a MomentumAnalyst) Invoke(_ context.Context, snap types.MarketSnapshot) (types.AnalystOutput, error) {
	full := a.FullStrengthMove
	if full <= 0 {
		full = 0.06
	}
	stopATR := a.StopDistanceATR
	if stopATR <= 0 {
		stopATR = 1.5
	}
	rr := a.RewardRisk
	if rr <= 0 {
		rr = 2.5
	}

	assets := make([]string, 0, len(snap.Assets))
	for k := range snap.Assets {
		assets = append(assets, k)
	}
	sort.Strings(assets)

	best := types.MomentumPayload{}
	bestScore := 0.0
	for _, asset := range assets {
		q := snap.Assets[asset]
		if q.Price <= 0 {
			continue
		}
		rep, err := indicator.Compute(q.Candles, a.Settings)
		if err != nil {
			continue
		}
		dir := types.SignalNeutral
		switch {
		case q.PriceChange24h > 0 && rep.Trend == "up":
			dir = types.SignalLong
		case q.PriceChange24h < 0 && rep.Trend == "down":
			dir = types.SignalShort
		}
		if dir == types.SignalNeutral {
			continue
		}
		strength := clampUnit(math.Abs(q.PriceChange24h) / full)
		if strength <= bestScore {
			continue
		}
		atr := q.ATR
		if atr <= 0 {
			atr = rep.ATR
		}
		conf := 0.5
		if (dir == types.SignalLong && rep.MACDHist > 0) || (dir == types.SignalShort && rep.MACDHist < 0) {
			conf = 0.75
		}
		bestScore = strength
		best = types.MomentumPayload{
			HasOpportunity:  true,
			Asset:           types.NormalizeAsset(asset),
			Direction:       dir,
			EntryPrice:      q.Price,
			SignalStrength:  strength,
			Confidence:      conf,
			StopDistanceATR: stopATR,
			RewardRisk:      rr,
			ATR:             atr,
		}
	}

	out := types.AnalystOutput{
		AnalystID: a.AnalystID,
		Kind:      types.KindMomentum,
		Signal:    types.SignalNeutral,
		Momentum:  &best,
	}
	if best.HasOpportunity {
		out.Signal = best.Direction
		out.Confidence = best.Confidence
		out.Score = clampScore(best.Direction.Sign() * best.SignalStrength * 100)
		out.Rationale = fmt.Sprintf("%s %s strength %.2f", best.Direction, best.Asset, best.SignalStrength)
	} else {
		out.Rationale = "no asset with a confirmed move"
	}
	return out, nil
}

func classify(votes, threshold float64) types.SignalClass {
	switch {
	case votes >= threshold:
		return types.SignalBullish
	case votes <= -threshold:
		return types.SignalBearish
	default:
		return types.SignalNeutral
	}
}

func clampRange(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampUnit(v float64) float64 { return clampRange(v, 0, 1) }

func clampScore(v float64) float64 { return clampRange(v, -100, 100) }
