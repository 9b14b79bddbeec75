package ledger

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuvalla/gateway/pkg/contracts"
)

func pgEntry() *contracts.LedgerEntry {
	return &contracts.LedgerEntry{
		ActionID:     "a1",
		TargetSystem: "stripe",
		ExternalID:   "stripe:1a2b3c4d5e",
		Operation:    "payment.execute",
		Params:       map[string]any{"amount_usd": float64(18000)},
		CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPostgresCreateIfAbsent_Created(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	entry := pgEntry()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_entries")).
		WithArgs(entry.ActionID, entry.TargetSystem, entry.ExternalID,
			entry.Operation, sqlmock.AnyArg(), entry.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, created, err := store.CreateIfAbsent(context.Background(), entry)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, entry.ExternalID, got.ExternalID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateIfAbsent_ConflictReturnsWinner(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	entry := pgEntry()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_entries")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	winner := sqlmock.NewRows([]string{
		"action_id", "target_system", "external_id", "operation", "params", "created_at", "deleted",
	}).AddRow("a1", "stripe", "stripe:original00", "payment.execute",
		[]byte(`{"amount_usd":18000}`), entry.CreatedAt, false)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT action_id, target_system, external_id, operation, params, created_at, deleted")).
		WithArgs("a1").
		WillReturnRows(winner)

	got, created, err := store.CreateIfAbsent(context.Background(), entry)
	require.NoError(t, err)
	assert.False(t, created, "conflict means a winner already exists")
	assert.Equal(t, "stripe:original00", got.ExternalID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT action_id")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"action_id", "target_system", "external_id", "operation", "params", "created_at", "deleted",
		}))

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkDeleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	entry := pgEntry()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE ledger_entries SET deleted = TRUE WHERE action_id = $1")).
		WithArgs("a1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT action_id")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{
			"action_id", "target_system", "external_id", "operation", "params", "created_at", "deleted",
		}).AddRow("a1", "stripe", entry.ExternalID, "payment.execute",
			[]byte(`{}`), entry.CreatedAt, true))

	got, err := store.MarkDeleted(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
