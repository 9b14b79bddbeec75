package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nuvalla/gateway/pkg/contracts"
)

// SQLiteStore persists ledger entries in SQLite. The action_id primary
// key makes check-and-create atomic at the database: INSERT OR IGNORE
// either creates the row or leaves the winner's row untouched.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the store and runs its migration.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	return NewSQLiteStore(db)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		action_id TEXT PRIMARY KEY,
		target_system TEXT NOT NULL,
		external_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		params JSON,
		created_at DATETIME NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_external
		ON ledger_entries(target_system, external_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) CreateIfAbsent(ctx context.Context, entry *contracts.LedgerEntry) (*contracts.LedgerEntry, bool, error) {
	paramsJSON, err := json.Marshal(entry.Params)
	if err != nil {
		return nil, false, fmt.Errorf("marshal params: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO ledger_entries
			(action_id, target_system, external_id, operation, params, created_at, deleted)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`,
		entry.ActionID, entry.TargetSystem, entry.ExternalID, entry.Operation,
		string(paramsJSON), entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert ledger entry: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if affected == 1 {
		return copyEntry(entry), true, nil
	}

	// Lost the race (or replay): return the winner's row.
	existing, err := s.Get(ctx, entry.ActionID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *SQLiteStore) Get(ctx context.Context, actionID string) (*contracts.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT action_id, target_system, external_id, operation, params, created_at, deleted
		 FROM ledger_entries WHERE action_id = ?`, actionID)
	return scanLedgerRow(row)
}

func (s *SQLiteStore) MarkDeleted(ctx context.Context, actionID string) (*contracts.LedgerEntry, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE ledger_entries SET deleted = 1 WHERE action_id = ?`, actionID); err != nil {
		return nil, fmt.Errorf("mark deleted: %w", err)
	}
	return s.Get(ctx, actionID)
}

func (s *SQLiteStore) LookupExternal(ctx context.Context, targetSystem, externalID string) (*contracts.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT action_id, target_system, external_id, operation, params, created_at, deleted
		 FROM ledger_entries WHERE target_system = ? AND external_id = ?`,
		targetSystem, externalID)
	return scanLedgerRow(row)
}

func scanLedgerRow(row *sql.Row) (*contracts.LedgerEntry, error) {
	var (
		entry      contracts.LedgerEntry
		paramsJSON string
		createdAt  string
		deleted    int
	)
	err := row.Scan(&entry.ActionID, &entry.TargetSystem, &entry.ExternalID,
		&entry.Operation, &paramsJSON, &createdAt, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}

	if paramsJSON != "" && paramsJSON != "null" {
		if err := json.Unmarshal([]byte(paramsJSON), &entry.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	entry.Deleted = deleted != 0
	return &entry, nil
}
