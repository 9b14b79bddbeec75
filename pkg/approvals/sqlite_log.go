package approvals

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nuvalla/gateway/pkg/contracts"
)

// SQLiteLog is an append-only durable log of approval events. Rows are
// never updated or deleted; the table is the audit record of who
// authorized what, and when.
type SQLiteLog struct {
	db *sql.DB
}

// NewSQLiteLog creates the log and runs its migration.
func NewSQLiteLog(db *sql.DB) (*SQLiteLog, error) {
	l := &SQLiteLog{db: db}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLog) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS approvals (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		action_id TEXT NOT NULL,
		approved_by TEXT NOT NULL,
		role TEXT,
		method TEXT,
		approved_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_approvals_action ON approvals(action_id);`
	_, err := l.db.ExecContext(context.Background(), query)
	return err
}

// Append writes one approval row.
func (l *SQLiteLog) Append(ctx context.Context, a contracts.Approval) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO approvals (action_id, approved_by, role, method, approved_at)
		 VALUES (?, ?, ?, ?, ?)`,
		a.ActionID, a.ApprovedBy, a.Role, a.Method,
		a.ApprovedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

// ForAction returns the logged approvals for actionID in append order.
func (l *SQLiteLog) ForAction(ctx context.Context, actionID string) ([]contracts.Approval, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT action_id, approved_by, role, method, approved_at
		 FROM approvals WHERE action_id = ? ORDER BY seq ASC`, actionID)
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Approval
	for rows.Next() {
		var (
			a          contracts.Approval
			approvedAt string
		)
		if err := rows.Scan(&a.ActionID, &a.ApprovedBy, &a.Role, &a.Method, &approvedAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		a.ApprovedAt, err = time.Parse(time.RFC3339Nano, approvedAt)
		if err != nil {
			return nil, fmt.Errorf("parse approved_at: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
