// Package decisionlog 持久化每次流水线运行的审计记录（只追加）。
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

	_ "modernc.org/sqlite"
)

// DecisionLogStore 管理流水线审计日志，方便后续排查。
type DecisionLogStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Record 一次流水线运行的摘要；Payload 保存完整结果的 JSON。
type Record struct {
	ID          int64   `json:"id"`
	TraceID     string  `json:"trace_id"`
	Timestamp   int64   `json:"ts"`
	Symbol      string  `json:"symbol"`
	Action      string  `json:"action"`
	Confidence  float64 `json:"confidence"`
	RejectedBy  string  `json:"rejected_by,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	OrderID     string  `json:"order_id,omitempty"`
	OrderStatus string  `json:"order_status,omitempty"`
	DurationMs  int64   `json:"duration_ms"`
	Payload     string  `json:"payload,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Query 用于筛选审计日志。
type Query struct {
	Symbol     string
	RejectedBy string
	Limit      int
	Offset     int
}

// NewDecisionLogStore 初始化 SQLite 存储。
func NewDecisionLogStore(path string) (*DecisionLogStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("decision log path 不能为空")
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
	return &DecisionLogStore{db: db, path: path}, nil
}

// Close 关闭底层 DB。
func (s *DecisionLogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			action TEXT,
			confidence REAL DEFAULT 0,
			rejected_by TEXT,
			reason TEXT,
			order_id TEXT,
			order_status TEXT,
			duration_ms INTEGER DEFAULT 0,
			payload TEXT,
			error TEXT,
			created_at INTEGER NOT NULL
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_symbol_ts ON pipeline_runs(symbol, ts DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_trace ON pipeline_runs(trace_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *DecisionLogStore) handle() (*sql.DB, error) {
	if s == nil {
		return nil, fmt.Errorf("decision log store 未初始化")
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("decision log store 未初始化")
	}
	return db, nil
}

// Insert 写入一条记录；payload 为任意可 JSON 序列化的完整结果。
func (s *DecisionLogStore) Insert(ctx context.Context, rec Record, payload any) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	now := time.Now().UnixMilli()
	ts := rec.Timestamp
	if ts == 0 {
		ts = now
	}
	body := rec.Payload
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("encode decision payload: %w", err)
		}
		body = string(b)
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO pipeline_runs
			(trace_id, ts, symbol, action, confidence, rejected_by, reason, order_id, order_status,
			 duration_ms, payload, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID,
		ts,
		rec.Symbol,
		rec.Action,
		rec.Confidence,
		rec.RejectedBy,
		rec.Reason,
		rec.OrderID,
		rec.OrderStatus,
		rec.DurationMs,
		body,
		rec.Error,
		now,
	)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, nil
}

const selectColumns = `SELECT id, trace_id, ts, symbol, action, confidence, rejected_by, reason,
	order_id, order_status, duration_ms, payload, error FROM pipeline_runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(scanner rowScanner) (Record, error) {
	var (
		rec         Record
		action      sql.NullString
		rejectedBy  sql.NullString
		reason      sql.NullString
		orderID     sql.NullString
		orderStatus sql.NullString
		duration    sql.NullInt64
		payload     sql.NullString
		errorStr    sql.NullString
	)
	if err := scanner.Scan(&rec.ID, &rec.TraceID, &rec.Timestamp, &rec.Symbol, &action, &rec.Confidence,
		&rejectedBy, &reason, &orderID, &orderStatus, &duration, &payload, &errorStr); err != nil {
		return rec, err
	}
	rec.Action = action.String
	rec.RejectedBy = rejectedBy.String
	rec.Reason = reason.String
	rec.OrderID = orderID.String
	rec.OrderStatus = orderStatus.String
	rec.DurationMs = duration.Int64
	rec.Payload = payload.String
	rec.Error = errorStr.String
	return rec, nil
}

// Get 根据主键返回单条记录。
func (s *DecisionLogStore) Get(ctx context.Context, id int64) (Record, error) {
	if id <= 0 {
		return Record{}, fmt.Errorf("invalid decision id")
	}
	db, err := s.handle()
	if err != nil {
		return Record{}, err
	}
	return scanRecord(db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id))
}

// List 返回最新记录，支持按 symbol / 拒绝关卡过滤。
func (s *DecisionLogStore) List(ctx context.Context, q Query) ([]Record, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	var sb strings.Builder
	var args []any
	sb.WriteString(selectColumns)
	sb.WriteString(" WHERE 1=1")
	if sym := strings.ToUpper(strings.TrimSpace(q.Symbol)); sym != "" {
		sb.WriteString(" AND symbol=?")
		args = append(args, sym)
	}
	if gate := strings.TrimSpace(q.RejectedBy); gate != "" {
		sb.WriteString(" AND rejected_by=?")
		args = append(args, gate)
	}
	sb.WriteString(" ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	return collect(db.QueryContext(ctx, sb.String(), args...))
}

// ListByTraceID 返回同一 trace 的全部记录，按时间升序。
func (s *DecisionLogStore) ListByTraceID(ctx context.Context, traceID string) ([]Record, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	return collect(db.QueryContext(ctx, selectColumns+" WHERE trace_id = ? ORDER BY ts ASC, id ASC", strings.TrimSpace(traceID)))
}

// Count 统计各关卡的拒绝次数；通过的运行记在空字符串下。
func (s *DecisionLogStore) Count(ctx context.Context, since time.Time) (map[string]int, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT COALESCE(rejected_by, ''), COUNT(*) FROM pipeline_runs WHERE ts >= ? GROUP BY 1`,
		since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var gate string
		var n int
		if err := rows.Scan(&gate, &n); err != nil {
			return nil, err
		}
		out[gate] = n
	}
	return out, rows.Err()
}

func collect(rows *sql.Rows, err error) ([]Record, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}
