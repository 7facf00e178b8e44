// Package history persists emitted snapshots byte-for-byte, plus the diffs
// and risk verdicts computed between them, in a local sqlite file.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"supravault/internal/core/ports"
	"supravault/internal/engine/model"
	"supravault/internal/shared/observability"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	driverName  = "sqlite"
	maxAttempts = 5
)

var _ ports.SnapshotStore = (*Store)(nil)

type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

// DiffRecord is one stored diff row.
type DiffRecord struct {
	IdentityKey    string
	PreviousScanID string
	CurrentScanID  string
	Changed        bool
	MaxSeverity    model.ChangeSeverity
	RiskLevel      model.RiskLevel
	Diff           json.RawMessage
	Risk           json.RawMessage
	CreatedAt      string
}

func Open(path string) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("history path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("history path %q is a directory, expected file", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cleanPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite history %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite history %q: %w", cleanPath, err)
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema %q: %w", cleanPath, err)
	}

	return &Store{path: cleanPath, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveSnapshot stores rec.Payload unchanged. Saving the same scan id twice
// replaces the earlier row.
func (s *Store) SaveSnapshot(ctx context.Context, rec ports.SnapshotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(rec.IdentityKey)
	if key == "" || strings.TrimSpace(rec.ScanID) == "" {
		return fmt.Errorf("snapshot identity key and scan id are required")
	}
	if len(rec.Payload) == 0 {
		return fmt.Errorf("snapshot payload must not be empty")
	}
	if rec.CapturedAt == "" {
		rec.CapturedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}

	query := `
INSERT INTO snapshots (identity_key, scan_id, captured_at_utc, aggregate_hash, payload)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(identity_key, scan_id) DO UPDATE SET
  captured_at_utc=excluded.captured_at_utc,
  aggregate_hash=excluded.aggregate_hash,
  payload=excluded.payload
`
	err := s.withRetry("save snapshot", func() error {
		_, err := s.db.ExecContext(ctx, query, key, rec.ScanID, rec.CapturedAt, rec.Aggregate, rec.Payload)
		return err
	})
	if err == nil {
		observability.HistoryWritesTotal.WithLabelValues("snapshots").Inc()
	}
	return err
}

// LatestSnapshots returns up to n snapshots for identityKey, newest first.
func (s *Store) LatestSnapshots(ctx context.Context, identityKey string, n int) ([]ports.SnapshotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 {
		n = 1
	}
	query := `
SELECT identity_key, scan_id, captured_at_utc, aggregate_hash, payload
FROM snapshots
WHERE identity_key = ?
ORDER BY captured_at_utc DESC, rowid DESC
LIMIT ?
`
	var rows *sql.Rows
	err := s.withRetry("load snapshots", func() error {
		var qErr error
		rows, qErr = s.db.QueryContext(ctx, query, strings.TrimSpace(identityKey), n)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ports.SnapshotRecord, 0, n)
	for rows.Next() {
		var rec ports.SnapshotRecord
		if err := rows.Scan(&rec.IdentityKey, &rec.ScanID, &rec.CapturedAt, &rec.Aggregate, &rec.Payload); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return out, nil
}

func (s *Store) SaveDiff(ctx context.Context, identityKey string, diff model.DiffResult, risk model.RiskSynthesis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	diffJSON, err := json.Marshal(diff)
	if err != nil {
		return fmt.Errorf("encode diff: %w", err)
	}
	riskJSON, err := json.Marshal(risk)
	if err != nil {
		return fmt.Errorf("encode risk: %w", err)
	}
	changed := 0
	if diff.Changed {
		changed = 1
	}

	query := `
INSERT INTO diffs (identity_key, previous_scan_id, current_scan_id, changed, max_severity, risk_level, diff_json, risk_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(identity_key, current_scan_id) DO UPDATE SET
  previous_scan_id=excluded.previous_scan_id,
  changed=excluded.changed,
  max_severity=excluded.max_severity,
  risk_level=excluded.risk_level,
  diff_json=excluded.diff_json,
  risk_json=excluded.risk_json
`
	err = s.withRetry("save diff", func() error {
		_, err := s.db.ExecContext(ctx, query,
			strings.TrimSpace(identityKey),
			diff.PreviousScanID,
			diff.CurrentScanID,
			changed,
			string(diff.MaxSeverity),
			string(risk.RiskLevel),
			diffJSON,
			riskJSON,
		)
		return err
	})
	if err == nil {
		observability.HistoryWritesTotal.WithLabelValues("diffs").Inc()
	}
	return err
}

// ListDiffs returns up to limit diffs for identityKey, newest first.
func (s *Store) ListDiffs(ctx context.Context, identityKey string, limit int) ([]DiffRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	query := `
SELECT identity_key, previous_scan_id, current_scan_id, changed, max_severity, risk_level, diff_json, risk_json, created_at_utc
FROM diffs
WHERE identity_key = ?
ORDER BY created_at_utc DESC, rowid DESC
LIMIT ?
`
	var rows *sql.Rows
	err := s.withRetry("load diffs", func() error {
		var qErr error
		rows, qErr = s.db.QueryContext(ctx, query, strings.TrimSpace(identityKey), limit)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]DiffRecord, 0)
	for rows.Next() {
		var (
			rec      DiffRecord
			changed  int
			severity string
			level    string
			diffRaw  []byte
			riskRaw  []byte
		)
		if err := rows.Scan(&rec.IdentityKey, &rec.PreviousScanID, &rec.CurrentScanID, &changed, &severity, &level, &diffRaw, &riskRaw, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan diff row: %w", err)
		}
		rec.Changed = changed == 1
		rec.MaxSeverity = model.ChangeSeverity(severity)
		rec.RiskLevel = model.RiskLevel(level)
		rec.Diff = diffRaw
		rec.Risk = riskRaw
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diff rows: %w", err)
	}
	return out, nil
}

func (s *Store) withRetry(op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isLockError(err) || attempt == maxAttempts {
			break
		}
		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Ping reports whether the database still answers.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("history store not open")
	}
	return s.db.PingContext(ctx)
}

func IsCorruptError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "malformed") || strings.Contains(msg, "not a database") || errors.Is(err, os.ErrInvalid)
}
