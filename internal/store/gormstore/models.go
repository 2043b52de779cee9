package gormstore

import "gorm.io/datatypes"

type portfolioModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Name           string         `gorm:"column:name"`
	TemplateID     string         `gorm:"column:template_id;index"`
	Asset          string         `gorm:"column:asset"`
	Status         string         `gorm:"column:status;index"`
	InitialCapital float64        `gorm:"column:initial_capital"`
	Cash           string         `gorm:"column:cash"`
	Holding        string         `gorm:"column:holding"`
	TotalValue     float64        `gorm:"column:total_value"`
	LastPrice      float64        `gorm:"column:last_price"`
	Overrides      datatypes.JSON `gorm:"column:overrides;type:TEXT"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`
}

func (portfolioModel) TableName() string { return "portfolios" }

type runtimeStateModel struct {
	PortfolioID      string  `gorm:"column:portfolio_id;primaryKey"`
	BullishCount     int     `gorm:"column:bullish_count"`
	BullishSince     *int64  `gorm:"column:bullish_since"`
	BearishCount     int     `gorm:"column:bearish_count"`
	BearishSince     *int64  `gorm:"column:bearish_since"`
	LastConviction   float64 `gorm:"column:last_conviction"`
	PositionFraction float64 `gorm:"column:position_fraction"`
	UpdatedAtUnix    int64   `gorm:"column:updated_at"`
}

func (runtimeStateModel) TableName() string { return "portfolio_runtime_state" }

type cycleModel struct {
	CycleID        string         `gorm:"column:cycle_id;primaryKey"`
	BatchID        string         `gorm:"column:batch_id;index"`
	PortfolioID    string         `gorm:"column:portfolio_id;index"`
	TemplateID     string         `gorm:"column:template_id"`
	Policy         string         `gorm:"column:policy"`
	Status         string         `gorm:"column:status"`
	Signal         string         `gorm:"column:signal"`
	Conviction     float64        `gorm:"column:conviction"`
	ErrorKind      string         `gorm:"column:error_kind"`
	Record         datatypes.JSON `gorm:"column:record;type:TEXT"`
	StartedAtUnix  int64          `gorm:"column:started_at;index"`
	FinishedAtUnix *int64         `gorm:"column:finished_at"`
}

func (cycleModel) TableName() string { return "execution_cycles" }

type bracketModel struct {
	ID            int64          `gorm:"column:id;primaryKey;autoIncrement"`
	CycleID       string         `gorm:"column:cycle_id;index"`
	PortfolioID   string         `gorm:"column:portfolio_id;index"`
	Asset         string         `gorm:"column:asset"`
	Side          string         `gorm:"column:side"`
	EntryPrice    float64        `gorm:"column:entry_price"`
	EntryAmount   float64        `gorm:"column:entry_amount"`
	StopLoss      float64        `gorm:"column:stop_loss"`
	TakeProfit    float64        `gorm:"column:take_profit"`
	Leverage      float64        `gorm:"column:leverage"`
	Valid         bool           `gorm:"column:valid"`
	Executed      bool           `gorm:"column:executed"`
	Reasons       datatypes.JSON `gorm:"column:reasons;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (bracketModel) TableName() string { return "bracket_orders" }

type tradeModel struct {
	ID             int64   `gorm:"column:id;primaryKey;autoIncrement"`
	PortfolioID    string  `gorm:"column:portfolio_id;index"`
	CycleID        string  `gorm:"column:cycle_id"`
	Asset          string  `gorm:"column:asset"`
	Side           string  `gorm:"column:side"`
	Amount         float64 `gorm:"column:amount"`
	Price          float64 `gorm:"column:price"`
	Notional       float64 `gorm:"column:notional"`
	ExecutedAtUnix int64   `gorm:"column:executed_at"`
}

func (tradeModel) TableName() string { return "trades" }

type snapshotModel struct {
	ID          int64   `gorm:"column:id;primaryKey;autoIncrement"`
	PortfolioID string  `gorm:"column:portfolio_id;index"`
	Timestamp   int64   `gorm:"column:ts;index"`
	Price       float64 `gorm:"column:price"`
	Cash        float64 `gorm:"column:cash"`
	Holding     float64 `gorm:"column:holding"`
	TotalValue  float64 `gorm:"column:total_value"`
}

func (snapshotModel) TableName() string { return "portfolio_snapshots" }
