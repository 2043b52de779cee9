// Package decisionlog keeps an append-only audit log of batch runs and policy
// evaluations in SQLite, next to the gorm-managed tables.
package decisionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"automoney/internal/decision"
	"automoney/internal/logger"
	"automoney/internal/types"

	_ "modernc.org/sqlite"
)

// DecisionLogStore stores batch summaries and per-cycle decision traces.
type DecisionLogStore struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	ownsDB bool
}

// DecisionLogRecord is one policy evaluation.
type DecisionLogRecord struct {
	ID            int64                `json:"id"`
	Timestamp     int64                `json:"ts"`
	CycleID       string               `json:"cycle_id"`
	BatchID       string               `json:"batch_id,omitempty"`
	TemplateID    string               `json:"template_id"`
	PortfolioID   string               `json:"portfolio_id"`
	Policy        string               `json:"policy"`
	Signal        string               `json:"signal"`
	Conviction    float64              `json:"conviction"`
	ShouldExecute bool                 `json:"should_execute"`
	ElapsedMS     int64                `json:"elapsed_ms"`
	Decision      types.SignalDecision `json:"decision"`
	Error         string               `json:"error,omitempty"`
}

// BatchRecord is a stored batch summary.
type BatchRecord struct {
	types.BatchSummary
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// Query narrows List calls; zero fields match everything.
type Query struct {
	TemplateID  string
	PortfolioID string
	BatchID     string
	Limit       int
	Offset      int
}

// NewDecisionLogStore opens (or creates) the SQLite file at path.
func NewDecisionLogStore(path string) (*DecisionLogStore, error) {
	if path == "" {
		return nil, fmt.Errorf("decision log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DecisionLogStore{db: db, path: path, ownsDB: true}, nil
}

// UseExternalDB switches to a connection opened elsewhere (for example by
// gorm) so both share one SQLite file without lock contention.
func (s *DecisionLogStore) UseExternalDB(db *sql.DB) error {
	if s == nil {
		return fmt.Errorf("decision log store not initialized")
	}
	if db == nil {
		return fmt.Errorf("external db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ownsDB && s.db != nil && s.db != db {
		_ = s.db.Close()
	}
	s.db = db
	s.ownsDB = false
	return nil
}

// NewFromDB wraps an existing connection without taking ownership.
func NewFromDB(db *sql.DB) (*DecisionLogStore, error) {
	s := &DecisionLogStore{}
	if err := s.UseExternalDB(db); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DecisionLogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if !s.ownsDB {
		s.db = nil
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *DecisionLogStore) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("decision log store not initialized")
	}
	return s.db, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS batch_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id TEXT NOT NULL UNIQUE,
			template_id TEXT NOT NULL,
			status TEXT NOT NULL,
			instances INTEGER NOT NULL DEFAULT 0,
			completed INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			batch_error TEXT,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_batch_runs_template_started ON batch_runs(template_id, started_at DESC);`,
		`CREATE TABLE IF NOT EXISTS decision_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			cycle_id TEXT,
			batch_id TEXT,
			template_id TEXT,
			portfolio_id TEXT,
			policy TEXT,
			signal TEXT,
			conviction REAL,
			should_execute INTEGER,
			decision_json TEXT,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_decision_logs_portfolio_ts ON decision_logs(portfolio_id, ts DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_decision_logs_batch ON decision_logs(batch_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("decision log schema: %w", err)
		}
	}
	cols := []struct {
		table  string
		column string
		typ    string
	}{
		{"batch_runs", "trades", "INTEGER NOT NULL DEFAULT 0"},
		{"decision_logs", "elapsed_ms", "INTEGER DEFAULT 0"},
	}
	for _, col := range cols {
		if err := addColumnIfMissing(db, col.table, col.column, col.typ); err != nil {
			return err
		}
	}
	return nil
}

func addColumnIfMissing(db *sql.DB, table, column, typ string) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer rows.Close()
	exists := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			exists = true
			break
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()
	if exists {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, typ))
	return err
}

// RecordBatch stores a batch summary. Re-recording the same batch id
// overwrites the earlier row.
func (s *DecisionLogStore) RecordBatch(ctx context.Context, b types.BatchSummary) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if b.BatchID == "" {
		return fmt.Errorf("batch summary without id")
	}
	batchErr := ""
	if b.Error != nil {
		raw, err := json.Marshal(b.Error)
		if err != nil {
			return err
		}
		batchErr = string(raw)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO batch_runs
			(batch_id, template_id, status, instances, completed, failed, trades, batch_error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(batch_id) DO UPDATE SET
			status = excluded.status,
			instances = excluded.instances,
			completed = excluded.completed,
			failed = excluded.failed,
			trades = excluded.trades,
			batch_error = excluded.batch_error,
			finished_at = excluded.finished_at`,
		b.BatchID,
		b.TemplateID,
		b.Status(),
		b.Instances,
		b.Completed,
		b.Failed,
		b.Trades,
		batchErr,
		b.StartedAt.UnixMilli(),
		b.FinishedAt.UnixMilli(),
	)
	return err
}

// ListBatches returns batch summaries, newest first.
func (s *DecisionLogStore) ListBatches(ctx context.Context, q Query) ([]BatchRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	where, args := buildFilter(q, "template_id", "batch_id")
	query := `SELECT id, batch_id, template_id, status, instances, completed, failed, trades,
			COALESCE(batch_error, ''), started_at, finished_at
		FROM batch_runs` + where + ` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(q.Limit), max(q.Offset, 0))
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BatchRecord
	for rows.Next() {
		var rec BatchRecord
		var batchErr string
		var started, finished int64
		if err := rows.Scan(&rec.ID, &rec.BatchID, &rec.TemplateID, &rec.Status, &rec.Instances,
			&rec.Completed, &rec.Failed, &rec.Trades, &batchErr, &started, &finished); err != nil {
			return nil, err
		}
		rec.StartedAt = time.UnixMilli(started).UTC()
		rec.FinishedAt = time.UnixMilli(finished).UTC()
		if batchErr != "" {
			var ce types.CycleError
			if err := json.Unmarshal([]byte(batchErr), &ce); err == nil {
				rec.Error = &ce
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Insert appends one decision record.
func (s *DecisionLogStore) Insert(ctx context.Context, rec DecisionLogRecord) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	ts := rec.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	raw, err := json.Marshal(rec.Decision)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO decision_logs
			(ts, cycle_id, batch_id, template_id, portfolio_id, policy, signal, conviction,
			 should_execute, elapsed_ms, decision_json, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts,
		rec.CycleID,
		rec.BatchID,
		rec.TemplateID,
		rec.PortfolioID,
		rec.Policy,
		rec.Signal,
		rec.Conviction,
		boolToInt(rec.ShouldExecute),
		rec.ElapsedMS,
		string(raw),
		rec.Error,
	)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// ListDecisions returns decision records, newest first.
func (s *DecisionLogStore) ListDecisions(ctx context.Context, q Query) ([]DecisionLogRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	where, args := buildFilter(q, "template_id", "batch_id", "portfolio_id")
	query := `SELECT id, ts, COALESCE(cycle_id, ''), COALESCE(batch_id, ''), COALESCE(template_id, ''),
			COALESCE(portfolio_id, ''), COALESCE(policy, ''), COALESCE(signal, ''), COALESCE(conviction, 0),
			COALESCE(should_execute, 0), COALESCE(elapsed_ms, 0), COALESCE(decision_json, ''), COALESCE(error, '')
		FROM decision_logs` + where + ` ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(q.Limit), max(q.Offset, 0))
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DecisionLogRecord
	for rows.Next() {
		var rec DecisionLogRecord
		var execute int
		var raw string
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.CycleID, &rec.BatchID, &rec.TemplateID,
			&rec.PortfolioID, &rec.Policy, &rec.Signal, &rec.Conviction, &execute, &rec.ElapsedMS, &raw, &rec.Error); err != nil {
			return nil, err
		}
		rec.ShouldExecute = execute != 0
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &rec.Decision); err != nil {
				return nil, fmt.Errorf("decision log %d: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func buildFilter(q Query, columns ...string) (string, []any) {
	values := map[string]string{
		"template_id":  strings.TrimSpace(q.TemplateID),
		"batch_id":     strings.TrimSpace(q.BatchID),
		"portfolio_id": strings.TrimSpace(q.PortfolioID),
	}
	var clauses []string
	var args []any
	for _, col := range columns {
		if v := values[col]; v != "" {
			clauses = append(clauses, col+" = ?")
			args = append(args, v)
		}
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// DecisionLogObserver writes every policy evaluation to the store.
type DecisionLogObserver struct {
	store *DecisionLogStore
	log   *logger.Entry
}

var _ decision.Observer = (*DecisionLogObserver)(nil)

func NewDecisionLogObserver(store *DecisionLogStore) *DecisionLogObserver {
	if store == nil {
		return nil
	}
	return &DecisionLogObserver{store: store, log: logger.Named("decisionlog")}
}

func (o *DecisionLogObserver) AfterDecide(ctx context.Context, trace decision.Trace) {
	if o == nil || o.store == nil {
		return
	}
	rec := DecisionLogRecord{
		Timestamp:     time.Now().UnixMilli(),
		CycleID:       trace.CycleID,
		BatchID:       trace.BatchID,
		TemplateID:    trace.TemplateID,
		PortfolioID:   trace.PortfolioID,
		Policy:        trace.Policy,
		Signal:        string(trace.Decision.Signal),
		Conviction:    trace.Decision.ConvictionScore,
		ShouldExecute: trace.Decision.ShouldExecute,
		ElapsedMS:     trace.Elapsed.Milliseconds(),
		Decision:      trace.Decision,
	}
	if trace.Err != nil {
		rec.Error = trace.Err.Error()
	}
	if _, err := o.store.Insert(ctx, rec); err != nil {
		o.log.Warnf("write decision log failed cycle=%s: %v", trace.CycleID, err)
	}
}
