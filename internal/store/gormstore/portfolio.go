package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"automoney/internal/types"
)

// CreatePortfolio inserts a new instance. Cash defaults to the initial
// capital and an empty id gets a uuid.
func (s *Store) CreatePortfolio(ctx context.Context, p types.PortfolioInstance) (types.PortfolioInstance, error) {
	if strings.TrimSpace(p.TemplateID) == "" {
		return types.PortfolioInstance{}, fmt.Errorf("portfolio template_id is required")
	}
	p.Asset = types.NormalizeAsset(p.Asset)
	if p.Asset == "" {
		return types.PortfolioInstance{}, fmt.Errorf("portfolio asset is required")
	}
	if p.InitialCapital <= 0 {
		return types.PortfolioInstance{}, fmt.Errorf("portfolio initial capital must be > 0")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = types.PortfolioActive
	}
	if p.Cash == 0 && p.Holding == 0 {
		p.Cash = p.InitialCapital
	}
	if p.TotalValue == 0 {
		p.TotalValue = p.Cash
	}
	now := s.now().UTC()
	p.UpdatedAt = now
	m, err := newPortfolioModel(p)
	if err != nil {
		return types.PortfolioInstance{}, err
	}
	m.CreatedAtUnix = toMillis(now)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return types.PortfolioInstance{}, fmt.Errorf("create portfolio %s: %w", p.ID, err)
	}
	return p, nil
}

// SetPortfolioStatus pauses or resumes an instance.
func (s *Store) SetPortfolioStatus(ctx context.Context, id string, status types.PortfolioStatus) error {
	res := s.db.WithContext(ctx).Model(&portfolioModel{}).Where("id = ?", id).
		Updates(map[string]any{"status": string(status), "updated_at": toMillis(s.now())})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrPortfolioNotFound, id)
	}
	return nil
}

func (s *Store) GetPortfolio(ctx context.Context, id string) (types.PortfolioInstance, error) {
	var m portfolioModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.PortfolioInstance{}, fmt.Errorf("%w: %s", ErrPortfolioNotFound, id)
	}
	if err != nil {
		return types.PortfolioInstance{}, err
	}
	return portfolioModelToInstance(m)
}

func (s *Store) ActivePortfolios(ctx context.Context, templateID string) ([]types.PortfolioInstance, error) {
	q := s.db.WithContext(ctx).Where("status = ?", string(types.PortfolioActive))
	if templateID != "" {
		q = q.Where("template_id = ?", templateID)
	}
	return s.findPortfolios(q)
}

// ListPortfolios returns every instance regardless of status.
func (s *Store) ListPortfolios(ctx context.Context) ([]types.PortfolioInstance, error) {
	return s.findPortfolios(s.db.WithContext(ctx))
}

func (s *Store) findPortfolios(q *gorm.DB) ([]types.PortfolioInstance, error) {
	var models []portfolioModel
	if err := q.Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.PortfolioInstance, 0, len(models))
	for _, m := range models {
		p, err := portfolioModelToInstance(m)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// UpdateValuation marks the holding at price and stores the total value.
func (s *Store) UpdateValuation(ctx context.Context, id string, price float64, at time.Time) (types.PortfolioInstance, error) {
	if price <= 0 {
		return types.PortfolioInstance{}, fmt.Errorf("valuation price must be > 0, got %v", price)
	}
	var out types.PortfolioInstance
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m portfolioModel
		if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrPortfolioNotFound, id)
			}
			return err
		}
		cash, holding, err := balances(m)
		if err != nil {
			return err
		}
		total := cash.Add(holding.Mul(decimal.NewFromFloat(price)))
		m.TotalValue = total.InexactFloat64()
		m.LastPrice = price
		m.UpdatedAtUnix = toMillis(at)
		if err := tx.Model(&portfolioModel{}).Where("id = ?", id).Updates(map[string]any{
			"total_value": m.TotalValue,
			"last_price":  m.LastPrice,
			"updated_at":  m.UpdatedAtUnix,
		}).Error; err != nil {
			return err
		}
		out, err = portfolioModelToInstance(m)
		return err
	})
	return out, err
}

func (s *Store) SaveSnapshot(ctx context.Context, snap types.PortfolioSnapshot) error {
	m := snapshotModel{
		PortfolioID: snap.PortfolioID,
		Timestamp:   toMillis(snap.Timestamp),
		Price:       snap.Price,
		Cash:        snap.Cash,
		Holding:     snap.Holding,
		TotalValue:  snap.TotalValue,
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// ListSnapshots returns the newest snapshots of a portfolio first.
func (s *Store) ListSnapshots(ctx context.Context, portfolioID string, limit int) ([]types.PortfolioSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []snapshotModel
	if err := s.db.WithContext(ctx).Where("portfolio_id = ?", portfolioID).
		Order("ts DESC, id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.PortfolioSnapshot, 0, len(models))
	for _, m := range models {
		out = append(out, types.PortfolioSnapshot{
			PortfolioID: m.PortfolioID,
			Timestamp:   fromMillis(m.Timestamp),
			Price:       m.Price,
			Cash:        m.Cash,
			Holding:     m.Holding,
			TotalValue:  m.TotalValue,
		})
	}
	return out, nil
}

func newPortfolioModel(p types.PortfolioInstance) (portfolioModel, error) {
	overrides := datatypes.JSON([]byte("{}"))
	if len(p.Overrides) > 0 {
		raw, err := json.Marshal(p.Overrides)
		if err != nil {
			return portfolioModel{}, fmt.Errorf("encode overrides: %w", err)
		}
		overrides = datatypes.JSON(raw)
	}
	return portfolioModel{
		ID:             p.ID,
		Name:           strings.TrimSpace(p.Name),
		TemplateID:     strings.TrimSpace(p.TemplateID),
		Asset:          p.Asset,
		Status:         string(p.Status),
		InitialCapital: p.InitialCapital,
		Cash:           decimal.NewFromFloat(p.Cash).String(),
		Holding:        decimal.NewFromFloat(p.Holding).String(),
		TotalValue:     p.TotalValue,
		Overrides:      overrides,
		UpdatedAtUnix:  toMillis(p.UpdatedAt),
	}, nil
}

func portfolioModelToInstance(m portfolioModel) (types.PortfolioInstance, error) {
	cash, holding, err := balances(m)
	if err != nil {
		return types.PortfolioInstance{}, err
	}
	p := types.PortfolioInstance{
		ID:             m.ID,
		Name:           m.Name,
		TemplateID:     m.TemplateID,
		Asset:          m.Asset,
		Status:         types.PortfolioStatus(m.Status),
		InitialCapital: m.InitialCapital,
		Cash:           cash.InexactFloat64(),
		Holding:        holding.InexactFloat64(),
		TotalValue:     m.TotalValue,
		UpdatedAt:      fromMillis(m.UpdatedAtUnix),
	}
	if len(m.Overrides) > 0 && string(m.Overrides) != "{}" && string(m.Overrides) != "null" {
		if err := json.Unmarshal(m.Overrides, &p.Overrides); err != nil {
			return types.PortfolioInstance{}, fmt.Errorf("portfolio %s overrides: %w", m.ID, err)
		}
	}
	return p, nil
}

func balances(m portfolioModel) (decimal.Decimal, decimal.Decimal, error) {
	cash, err := parseDecimal(m.Cash)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("portfolio %s cash: %w", m.ID, err)
	}
	holding, err := parseDecimal(m.Holding)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("portfolio %s holding: %w", m.ID, err)
	}
	return cash, holding, nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
