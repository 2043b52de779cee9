package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"automoney/internal/types"
)

// SaveCycle upserts the record by cycle id, so the RUNNING write at start
// and the final write share one row.
func (s *Store) SaveCycle(ctx context.Context, rec types.ExecutionCycleRecord) error {
	if rec.CycleID == "" {
		return fmt.Errorf("cycle record without id")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode cycle %s: %w", rec.CycleID, err)
	}
	m := cycleModel{
		CycleID:        rec.CycleID,
		BatchID:        rec.BatchID,
		PortfolioID:    rec.PortfolioID,
		TemplateID:     rec.TemplateID,
		Policy:         rec.Policy,
		Status:         string(rec.Status),
		Record:         datatypes.JSON(raw),
		StartedAtUnix:  toMillis(rec.StartedAt),
		FinishedAtUnix: ptrMillis(rec.FinishedAt),
	}
	if rec.Decision != nil {
		m.Signal = string(rec.Decision.Signal)
		m.Conviction = rec.Decision.ConvictionScore
	}
	if rec.Error != nil {
		m.ErrorKind = string(rec.Error.Kind)
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cycle_id"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

// CycleFilter narrows ListCycles; zero fields match everything.
type CycleFilter struct {
	BatchID     string
	PortfolioID string
	Limit       int
}

// ListCycles returns matching records, newest first.
func (s *Store) ListCycles(ctx context.Context, f CycleFilter) ([]types.ExecutionCycleRecord, error) {
	q := s.db.WithContext(ctx)
	if f.BatchID != "" {
		q = q.Where("batch_id = ?", f.BatchID)
	}
	if f.PortfolioID != "" {
		q = q.Where("portfolio_id = ?", f.PortfolioID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	var models []cycleModel
	if err := q.Order("started_at DESC, cycle_id ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.ExecutionCycleRecord, 0, len(models))
	for _, m := range models {
		var rec types.ExecutionCycleRecord
		if err := json.Unmarshal(m.Record, &rec); err != nil {
			return nil, fmt.Errorf("decode cycle %s: %w", m.CycleID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) LoadRuntimeState(ctx context.Context, portfolioID string) (types.PortfolioRuntimeState, error) {
	var m runtimeStateModel
	err := s.db.WithContext(ctx).Where("portfolio_id = ?", portfolioID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.PortfolioRuntimeState{PortfolioID: portfolioID}, nil
	}
	if err != nil {
		return types.PortfolioRuntimeState{}, err
	}
	return types.PortfolioRuntimeState{
		PortfolioID:             m.PortfolioID,
		ConsecutiveBullishCount: m.BullishCount,
		ConsecutiveBullishSince: ptrFromMillis(m.BullishSince),
		ConsecutiveBearishCount: m.BearishCount,
		ConsecutiveBearishSince: ptrFromMillis(m.BearishSince),
		LastConvictionScore:     m.LastConviction,
		CurrentPositionFraction: m.PositionFraction,
		UpdatedAt:               fromMillis(m.UpdatedAtUnix),
	}, nil
}

func (s *Store) SaveRuntimeState(ctx context.Context, st types.PortfolioRuntimeState) error {
	if st.PortfolioID == "" {
		return fmt.Errorf("runtime state without portfolio id")
	}
	if st.ConsecutiveBullishCount > 0 && st.ConsecutiveBearishCount > 0 {
		return fmt.Errorf("runtime state %s: bullish and bearish counters both set", st.PortfolioID)
	}
	m := runtimeStateModel{
		PortfolioID:      st.PortfolioID,
		BullishCount:     st.ConsecutiveBullishCount,
		BullishSince:     ptrMillis(st.ConsecutiveBullishSince),
		BearishCount:     st.ConsecutiveBearishCount,
		BearishSince:     ptrMillis(st.ConsecutiveBearishSince),
		LastConviction:   st.LastConvictionScore,
		PositionFraction: st.CurrentPositionFraction,
		UpdatedAtUnix:    toMillis(st.UpdatedAt),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "portfolio_id"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

func (s *Store) AppendBracket(ctx context.Context, e types.BracketHistoryEntry) error {
	reasons := datatypes.JSON([]byte("[]"))
	if len(e.Reasons) > 0 {
		raw, err := json.Marshal(e.Reasons)
		if err != nil {
			return err
		}
		reasons = datatypes.JSON(raw)
	}
	m := bracketModel{
		CycleID:       e.CycleID,
		PortfolioID:   e.PortfolioID,
		Asset:         e.Order.Asset,
		Side:          string(e.Order.Side),
		EntryPrice:    e.Order.EntryPrice,
		EntryAmount:   e.Order.EntryAmount,
		StopLoss:      e.Order.StopLossPrice,
		TakeProfit:    e.Order.TakeProfitPrice,
		Leverage:      e.Order.Leverage,
		Valid:         e.Valid,
		Executed:      e.Executed,
		Reasons:       reasons,
		CreatedAtUnix: toMillis(e.CreatedAt),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// ListBrackets returns a portfolio's bracket history, newest first.
func (s *Store) ListBrackets(ctx context.Context, portfolioID string, limit int) ([]types.BracketHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []bracketModel
	if err := s.db.WithContext(ctx).Where("portfolio_id = ?", portfolioID).
		Order("id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.BracketHistoryEntry, 0, len(models))
	for _, m := range models {
		e := types.BracketHistoryEntry{
			CycleID:     m.CycleID,
			PortfolioID: m.PortfolioID,
			Order: types.BracketOrder{
				Asset:           m.Asset,
				Side:            types.SignalClass(m.Side),
				EntryPrice:      m.EntryPrice,
				EntryAmount:     m.EntryAmount,
				StopLossPrice:   m.StopLoss,
				TakeProfitPrice: m.TakeProfit,
				Leverage:        m.Leverage,
			},
			Valid:     m.Valid,
			Executed:  m.Executed,
			CreatedAt: fromMillis(m.CreatedAtUnix),
		}
		if len(m.Reasons) > 0 {
			if err := json.Unmarshal(m.Reasons, &e.Reasons); err != nil {
				return nil, err
			}
		}
		if len(e.Reasons) == 0 {
			e.Reasons = nil
		}
		out = append(out, e)
	}
	return out, nil
}
