package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying sql.DB handle (used by TSDB).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS analysis_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			tier TEXT NOT NULL,
			mode TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			quality_band TEXT NOT NULL DEFAULT '',
			providers_used TEXT NOT NULL DEFAULT '',
			tier_escalated INTEGER NOT NULL DEFAULT 0,
			verified INTEGER NOT NULL DEFAULT 0,
			total_cost_usd REAL NOT NULL DEFAULT 0,
			total_latency_ms INTEGER NOT NULL DEFAULT 0,
			status_code INTEGER NOT NULL DEFAULT 200,
			error_kind TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_logs_ts ON analysis_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_logs_session ON analysis_logs(session_id)`,
		`CREATE TABLE IF NOT EXISTS vote_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL,
			vendor TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			agreement_score REAL NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			error_kind TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vote_logs_ts ON vote_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_vote_logs_provider ON vote_logs(provider)`,
		`CREATE TABLE IF NOT EXISTS approvals (
			id TEXT PRIMARY KEY,
			tool_label TEXT NOT NULL,
			operation TEXT NOT NULL,
			parameters TEXT NOT NULL DEFAULT '{}',
			risk TEXT NOT NULL DEFAULT '',
			requester TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			created_at TEXT NOT NULL,
			decided_at TEXT,
			decider TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_state ON approvals(state)`,
		`CREATE TABLE IF NOT EXISTS approval_transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			at TEXT NOT NULL,
			decider TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approval_transitions_req ON approval_transitions(request_id)`,
		`CREATE TABLE IF NOT EXISTS tool_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			approval_id TEXT NOT NULL DEFAULT '',
			tool_label TEXT NOT NULL,
			operation TEXT NOT NULL,
			success INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			error_kind TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_executions_ts ON tool_executions(timestamp)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			action TEXT NOT NULL,
			resource TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp)`,
		`CREATE TABLE IF NOT EXISTS vault_blob (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			salt BLOB NOT NULL,
			data TEXT NOT NULL DEFAULT '{}'
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Analysis Logs

func (s *SQLiteStore) LogAnalysis(ctx context.Context, entry AnalysisLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_logs (timestamp, request_id, session_id, tier, mode, confidence,
		 quality_band, providers_used, tier_escalated, verified, total_cost_usd,
		 total_latency_ms, status_code, error_kind)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(time.RFC3339), entry.RequestID, entry.SessionID,
		entry.Tier, entry.Mode, entry.Confidence, entry.QualityBand, entry.ProvidersUsed,
		boolInt(entry.TierEscalated), boolInt(entry.Verified), entry.TotalCostUSD,
		entry.TotalLatencyMs, entry.StatusCode, entry.ErrorKind)
	return err
}

func (s *SQLiteStore) ListAnalysisLogs(ctx context.Context, limit int, offset int) ([]AnalysisLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, request_id, session_id, tier, mode, confidence,
		 quality_band, providers_used, tier_escalated, verified, total_cost_usd,
		 total_latency_ms, status_code, error_kind
		 FROM analysis_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []AnalysisLog
	for rows.Next() {
		var l AnalysisLog
		var ts string
		var escalated, verified int
		if err := rows.Scan(&l.ID, &ts, &l.RequestID, &l.SessionID, &l.Tier, &l.Mode,
			&l.Confidence, &l.QualityBand, &l.ProvidersUsed, &escalated, &verified,
			&l.TotalCostUSD, &l.TotalLatencyMs, &l.StatusCode, &l.ErrorKind); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		l.TierEscalated = escalated != 0
		l.Verified = verified != 0
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Vote Logs

func (s *SQLiteStore) LogVote(ctx context.Context, entry VoteLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vote_logs (timestamp, request_id, provider, vendor, model,
		 confidence, agreement_score, cost_usd, latency_ms, error_kind)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(time.RFC3339), entry.RequestID, entry.Provider,
		entry.Vendor, entry.Model, entry.Confidence, entry.AgreementScore,
		entry.CostUSD, entry.LatencyMs, entry.ErrorKind)
	return err
}

func (s *SQLiteStore) ListVoteLogs(ctx context.Context, limit int, offset int) ([]VoteLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, request_id, provider, vendor, model,
		 confidence, agreement_score, cost_usd, latency_ms, error_kind
		 FROM vote_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []VoteLog
	for rows.Next() {
		var l VoteLog
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.RequestID, &l.Provider, &l.Vendor, &l.Model,
			&l.Confidence, &l.AgreementScore, &l.CostUSD, &l.LatencyMs, &l.ErrorKind); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Approvals

func (s *SQLiteStore) SaveApproval(ctx context.Context, rec ApprovalRecord) error {
	var decidedAt *string
	if rec.DecidedAt != nil {
		t := rec.DecidedAt.UTC().Format(time.RFC3339)
		decidedAt = &t
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (id, tool_label, operation, parameters, risk, requester,
		 state, created_at, decided_at, decider, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   state=excluded.state,
		   decided_at=excluded.decided_at,
		   decider=excluded.decider,
		   notes=excluded.notes`,
		rec.ID, rec.ToolLabel, rec.Operation, rec.Parameters, rec.Risk, rec.Requester,
		rec.State, rec.CreatedAt.UTC().Format(time.RFC3339), decidedAt, rec.Decider, rec.Notes)
	return err
}

func (s *SQLiteStore) ListApprovals(ctx context.Context, limit int, offset int) ([]ApprovalRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tool_label, operation, parameters, risk, requester, state,
		 created_at, decided_at, decider, notes
		 FROM approvals ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []ApprovalRecord
	for rows.Next() {
		var r ApprovalRecord
		var createdAt string
		var decidedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.ToolLabel, &r.Operation, &r.Parameters, &r.Risk,
			&r.Requester, &r.State, &createdAt, &decidedAt, &r.Decider, &r.Notes); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if decidedAt.Valid {
			t, _ := time.Parse(time.RFC3339, decidedAt.String)
			r.DecidedAt = &t
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) LogApprovalTransition(ctx context.Context, tr ApprovalTransition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approval_transitions (request_id, from_state, to_state, at, decider, notes)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tr.RequestID, tr.FromState, tr.ToState, tr.At.UTC().Format(time.RFC3339),
		tr.Decider, tr.Notes)
	return err
}

func (s *SQLiteStore) ListApprovalTransitions(ctx context.Context, limit int, offset int) ([]ApprovalTransition, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, from_state, to_state, at, decider, notes
		 FROM approval_transitions ORDER BY at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var trs []ApprovalTransition
	for rows.Next() {
		var tr ApprovalTransition
		var at string
		if err := rows.Scan(&tr.ID, &tr.RequestID, &tr.FromState, &tr.ToState, &at,
			&tr.Decider, &tr.Notes); err != nil {
			return nil, err
		}
		tr.At, _ = time.Parse(time.RFC3339, at)
		trs = append(trs, tr)
	}
	return trs, rows.Err()
}

// Tool Executions

func (s *SQLiteStore) LogToolExecution(ctx context.Context, entry ToolExecutionLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_executions (timestamp, request_id, approval_id, tool_label,
		 operation, success, cost_usd, latency_ms, error_kind)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(time.RFC3339), entry.RequestID, entry.ApprovalID,
		entry.ToolLabel, entry.Operation, boolInt(entry.Success), entry.CostUSD,
		entry.LatencyMs, entry.ErrorKind)
	return err
}

func (s *SQLiteStore) ListToolExecutions(ctx context.Context, limit int, offset int) ([]ToolExecutionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, request_id, approval_id, tool_label, operation,
		 success, cost_usd, latency_ms, error_kind
		 FROM tool_executions ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []ToolExecutionLog
	for rows.Next() {
		var l ToolExecutionLog
		var ts string
		var success int
		if err := rows.Scan(&l.ID, &ts, &l.RequestID, &l.ApprovalID, &l.ToolLabel,
			&l.Operation, &success, &l.CostUSD, &l.LatencyMs, &l.ErrorKind); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		l.Success = success != 0
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Audit Logs

func (s *SQLiteStore) LogAudit(ctx context.Context, entry AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (timestamp, action, resource, detail, request_id)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(time.RFC3339), entry.Action, entry.Resource,
		entry.Detail, entry.RequestID)
	return err
}

func (s *SQLiteStore) ListAuditLogs(ctx context.Context, limit int, offset int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, action, resource, detail, request_id
		 FROM audit_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []AuditEntry
	for rows.Next() {
		var l AuditEntry
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.Action, &l.Resource, &l.Detail, &l.RequestID); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Vault persistence

func (s *SQLiteStore) SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error {
	j, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal vault data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vault_blob (id, salt, data) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET salt=excluded.salt, data=excluded.data`,
		salt, string(j))
	return err
}

func (s *SQLiteStore) LoadVaultBlob(ctx context.Context) ([]byte, map[string]string, error) {
	var salt []byte
	var dataStr string
	err := s.db.QueryRowContext(ctx, `SELECT salt, data FROM vault_blob WHERE id = 1`).Scan(&salt, &dataStr)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(dataStr), &data); err != nil {
		return nil, nil, fmt.Errorf("unmarshal vault data: %w", err)
	}
	return salt, data, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
