// Package ledger makes external side effects idempotent per action id.
//
// The ExecutionLedger wraps a pluggable Store whose check-and-create is
// atomic per key: among concurrent execute calls sharing an action id,
// exactly one creates the entry and all others observe it as an
// idempotent replay. Entries are never physically removed; compensation
// only marks them deleted, preserving the audit trail.
package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nuvalla/gateway/pkg/contracts"
)

// ErrNotFound is returned when no ledger entry exists for the key.
var ErrNotFound = errors.New("ledger: entry not found")

// Store is the durable backing of the ledger.
//
// CreateIfAbsent MUST be atomic with respect to concurrent calls for
// the same action id: two racing retries must not both observe "absent"
// and both create an entry.
type Store interface {
	// CreateIfAbsent stores entry unless one already exists for its
	// action id. It returns the authoritative entry and whether this
	// call created it.
	CreateIfAbsent(ctx context.Context, entry *contracts.LedgerEntry) (*contracts.LedgerEntry, bool, error)

	// Get returns the entry for actionID, or ErrNotFound.
	Get(ctx context.Context, actionID string) (*contracts.LedgerEntry, error)

	// MarkDeleted sets the deleted flag and returns the updated entry,
	// or ErrNotFound. Marking an already-deleted entry is a no-op.
	MarkDeleted(ctx context.Context, actionID string) (*contracts.LedgerEntry, error)

	// LookupExternal returns the entry for a (target system, external id)
	// pair, or ErrNotFound.
	LookupExternal(ctx context.Context, targetSystem, externalID string) (*contracts.LedgerEntry, error)
}

// ExecutionLedger is the per-(action, target-system) idempotent
// side-effect store.
type ExecutionLedger struct {
	store Store
	clock func() time.Time
	log   *slog.Logger
}

// Option configures an ExecutionLedger.
type Option func(*ExecutionLedger)

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(l *ExecutionLedger) { l.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *ExecutionLedger) { l.log = log }
}

// New creates an ExecutionLedger over the given store.
func New(store Store, opts ...Option) *ExecutionLedger {
	l := &ExecutionLedger{
		store: store,
		clock: time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Execute records the side effect for call exactly once. The first call
// for an action id creates an entry with a fresh external id scoped to
// the target system and returns replay=false; every later call returns
// the original entry unchanged with replay=true and produces no new
// external effect. Replay parameters are not re-validated against the
// original.
func (l *ExecutionLedger) Execute(ctx context.Context, call *contracts.ToolCall) (entry *contracts.LedgerEntry, replay bool, err error) {
	if err := call.Validate(); err != nil {
		return nil, false, fmt.Errorf("ledger: %w", err)
	}

	candidate := &contracts.LedgerEntry{
		ActionID:     call.ActionID,
		TargetSystem: call.TargetSystem,
		ExternalID:   newExternalID(call.TargetSystem),
		Operation:    call.Operation,
		Params:       call.Params,
		CreatedAt:    l.clock(),
	}

	stored, created, err := l.store.CreateIfAbsent(ctx, candidate)
	if err != nil {
		return nil, false, fmt.Errorf("ledger: execute %s: %w", call.ActionID, err)
	}
	if !created {
		l.log.Debug("idempotent replay",
			"action_id", call.ActionID,
			"external_id", stored.ExternalID)
		return stored, true, nil
	}

	l.log.Info("side effect committed",
		"action_id", call.ActionID,
		"target_system", call.TargetSystem,
		"external_id", stored.ExternalID,
		"operation", call.Operation)
	return stored, false, nil
}

// Undo marks the entry for actionID deleted and returns a compensation
// identifier derived deterministically from the external id, so repeated
// undo calls are idempotent and return the same identifier. Fails with
// ErrNotFound if the action never committed.
func (l *ExecutionLedger) Undo(ctx context.Context, actionID string) (*contracts.UndoResult, error) {
	entry, err := l.store.MarkDeleted(ctx, actionID)
	if err != nil {
		return nil, fmt.Errorf("ledger: undo %s: %w", actionID, err)
	}

	l.log.Info("side effect compensated",
		"action_id", actionID,
		"external_id", entry.ExternalID)

	return &contracts.UndoResult{
		ActionID:   actionID,
		ExternalID: entry.ExternalID,
		UndoID:     "undo:" + entry.ExternalID,
	}, nil
}

// Lookup is the read accessor for audit and verification.
func (l *ExecutionLedger) Lookup(ctx context.Context, targetSystem, externalID string) (*contracts.LedgerEntry, error) {
	entry, err := l.store.LookupExternal(ctx, targetSystem, externalID)
	if err != nil {
		return nil, fmt.Errorf("ledger: lookup %s/%s: %w", targetSystem, externalID, err)
	}
	return entry, nil
}

// Get returns the entry for actionID, or ErrNotFound.
func (l *ExecutionLedger) Get(ctx context.Context, actionID string) (*contracts.LedgerEntry, error) {
	return l.store.Get(ctx, actionID)
}

// newExternalID generates a system-scoped external identifier, e.g.
// "stripe:1f2e3d4c5b".
func newExternalID(targetSystem string) string {
	u := uuid.New()
	return targetSystem + ":" + hex.EncodeToString(u[:])[:10]
}
