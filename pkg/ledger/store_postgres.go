package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/nuvalla/gateway/pkg/contracts"
)

// PostgresStore persists ledger entries in Postgres. Check-and-create
// relies on INSERT ... ON CONFLICT DO NOTHING against the action_id
// primary key, so the single-winner guarantee holds across processes.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing connection pool. Call Migrate
// before first use.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore connects using a lib/pq connection string and runs
// the migration.
func OpenPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres ledger: %w", err)
	}
	s := NewPostgresStore(db)
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate creates the ledger table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		action_id TEXT PRIMARY KEY,
		target_system TEXT NOT NULL,
		external_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		params JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (target_system, external_id)
	)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *PostgresStore) CreateIfAbsent(ctx context.Context, entry *contracts.LedgerEntry) (*contracts.LedgerEntry, bool, error) {
	paramsJSON, err := json.Marshal(entry.Params)
	if err != nil {
		return nil, false, fmt.Errorf("marshal params: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_entries
			(action_id, target_system, external_id, operation, params, created_at, deleted)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		 ON CONFLICT (action_id) DO NOTHING`,
		entry.ActionID, entry.TargetSystem, entry.ExternalID, entry.Operation,
		paramsJSON, entry.CreatedAt,
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

	existing, err := s.Get(ctx, entry.ActionID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *PostgresStore) Get(ctx context.Context, actionID string) (*contracts.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT action_id, target_system, external_id, operation, params, created_at, deleted
		 FROM ledger_entries WHERE action_id = $1`, actionID)
	return scanPostgresRow(row)
}

func (s *PostgresStore) MarkDeleted(ctx context.Context, actionID string) (*contracts.LedgerEntry, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE ledger_entries SET deleted = TRUE WHERE action_id = $1`, actionID); err != nil {
		return nil, fmt.Errorf("mark deleted: %w", err)
	}
	return s.Get(ctx, actionID)
}

func (s *PostgresStore) LookupExternal(ctx context.Context, targetSystem, externalID string) (*contracts.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT action_id, target_system, external_id, operation, params, created_at, deleted
		 FROM ledger_entries WHERE target_system = $1 AND external_id = $2`,
		targetSystem, externalID)
	return scanPostgresRow(row)
}

func scanPostgresRow(row *sql.Row) (*contracts.LedgerEntry, error) {
	var (
		entry      contracts.LedgerEntry
		paramsJSON []byte
	)
	err := row.Scan(&entry.ActionID, &entry.TargetSystem, &entry.ExternalID,
		&entry.Operation, &paramsJSON, &entry.CreatedAt, &entry.Deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}

	if len(paramsJSON) > 0 && string(paramsJSON) != "null" {
		if err := json.Unmarshal(paramsJSON, &entry.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	return &entry, nil
}
