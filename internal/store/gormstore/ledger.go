package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"automoney/internal/types"
)

// SubmitTrade applies a simulated fill to the portfolio's cash and holding in
// one transaction. No fees or slippage are modelled.
func (s *Store) SubmitTrade(ctx context.Context, req types.TradeRequest) (types.TradeRecord, error) {
	if req.Amount <= 0 {
		return types.TradeRecord{}, fmt.Errorf("trade amount must be > 0, got %v", req.Amount)
	}
	if req.Price <= 0 {
		return types.TradeRecord{}, fmt.Errorf("trade price must be > 0, got %v", req.Price)
	}
	if req.Side != types.TradeBuy && req.Side != types.TradeSell {
		return types.TradeRecord{}, fmt.Errorf("unknown trade side %q", req.Side)
	}
	var rec types.TradeRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m portfolioModel
		if err := tx.Where("id = ?", req.PortfolioID).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrPortfolioNotFound, req.PortfolioID)
			}
			return err
		}
		if asset := types.NormalizeAsset(req.Asset); asset != "" && asset != m.Asset {
			return fmt.Errorf("portfolio %s trades %s, not %s", m.ID, m.Asset, asset)
		}
		cash, holding, err := balances(m)
		if err != nil {
			return err
		}
		amount := decimal.NewFromFloat(req.Amount)
		price := decimal.NewFromFloat(req.Price)
		notional := amount.Mul(price)
		switch req.Side {
		case types.TradeBuy:
			if notional.GreaterThan(cash) {
				return fmt.Errorf("buy %s %s at %s needs %s, cash %s: %w",
					amount, m.Asset, price, notional.StringFixed(2), cash.StringFixed(2), types.ErrInsufficientFunds)
			}
			cash = cash.Sub(notional)
			holding = holding.Add(amount)
		case types.TradeSell:
			if (req.Liquidate && holding.IsPositive()) || withinFloatPrecision(amount, holding) {
				amount = holding
				notional = amount.Mul(price)
			}
			if amount.GreaterThan(holding) {
				return fmt.Errorf("sell %s %s, holding %s: %w", amount, m.Asset, holding, types.ErrInsufficientHolding)
			}
			cash = cash.Add(notional)
			holding = holding.Sub(amount)
		}
		now := s.now().UTC()
		total := cash.Add(holding.Mul(price))
		if err := tx.Model(&portfolioModel{}).Where("id = ?", m.ID).Updates(map[string]any{
			"cash":        cash.String(),
			"holding":     holding.String(),
			"total_value": total.InexactFloat64(),
			"last_price":  req.Price,
			"updated_at":  toMillis(now),
		}).Error; err != nil {
			return err
		}
		tm := tradeModel{
			PortfolioID:    m.ID,
			CycleID:        req.CycleID,
			Asset:          m.Asset,
			Side:           string(req.Side),
			Amount:         amount.InexactFloat64(),
			Price:          req.Price,
			Notional:       notional.InexactFloat64(),
			ExecutedAtUnix: toMillis(now),
		}
		if err := tx.Create(&tm).Error; err != nil {
			return err
		}
		rec = tradeModelToRecord(tm)
		return nil
	})
	if err != nil {
		return types.TradeRecord{}, err
	}
	return rec, nil
}

// float64 carries about 15-17 significant digits, so a holding read back as a
// float can exceed the stored decimal in its last digit.
var sellTolerance = decimal.New(1, -12)

func withinFloatPrecision(amount, holding decimal.Decimal) bool {
	if !amount.GreaterThan(holding) || !holding.IsPositive() {
		return false
	}
	return amount.Sub(holding).LessThanOrEqual(holding.Mul(sellTolerance))
}

// ListTrades returns a portfolio's fills, newest first.
func (s *Store) ListTrades(ctx context.Context, portfolioID string, limit int) ([]types.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []tradeModel
	if err := s.db.WithContext(ctx).Where("portfolio_id = ?", portfolioID).
		Order("id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.TradeRecord, 0, len(models))
	for _, m := range models {
		out = append(out, tradeModelToRecord(m))
	}
	return out, nil
}

func tradeModelToRecord(m tradeModel) types.TradeRecord {
	return types.TradeRecord{
		ID:          m.ID,
		PortfolioID: m.PortfolioID,
		CycleID:     m.CycleID,
		Asset:       m.Asset,
		Side:        types.TradeSide(m.Side),
		Amount:      m.Amount,
		Price:       m.Price,
		Notional:    m.Notional,
		ExecutedAt:  fromMillis(m.ExecutedAtUnix),
	}
}
