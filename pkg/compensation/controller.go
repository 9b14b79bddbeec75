// Package compensation runs the undo workflow for commits later judged
// unsafe: it marks the ledger entry deleted and synthesizes the UNDO
// decision that replaces the original COMMIT in the caller's result.
package compensation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nuvalla/gateway/pkg/contracts"
	"github.com/nuvalla/gateway/pkg/ledger"
)

// InvariantViolationError signals a caller ordering bug: compensation
// attempted on a call that never reached a terminal COMMIT.
type InvariantViolationError struct {
	ActionID string
	Reason   string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("compensation invariant violation for %s: %s", e.ActionID, e.Reason)
}

// Controller performs compensating undo against the execution ledger.
type Controller struct {
	ledger *ledger.ExecutionLedger
	log    *slog.Logger
}

// NewController creates a compensation controller.
func NewController(l *ledger.ExecutionLedger, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{ledger: l, log: log}
}

// Compensate undoes a previously committed call and returns a Decision
// with state UNDO whose receipt merges the originating commit's receipt
// with the compensation outcome.
//
// commit must be the COMMIT decision that authorized the execution;
// anything else is an InvariantViolationError. A missing ledger entry
// propagates ledger.ErrNotFound, signaling compensation attempted on a
// never-committed action.
func (c *Controller) Compensate(ctx context.Context, call *contracts.ToolCall, entry *contracts.LedgerEntry, commit *contracts.Decision, reason string) (*contracts.Decision, error) {
	if commit == nil || commit.State != contracts.DecisionCommit {
		state := contracts.DecisionState("<none>")
		if commit != nil {
			state = commit.State
		}
		return nil, &InvariantViolationError{
			ActionID: call.ActionID,
			Reason:   fmt.Sprintf("originating decision state is %s, not COMMIT", state),
		}
	}
	if entry == nil {
		return nil, &InvariantViolationError{
			ActionID: call.ActionID,
			Reason:   "no ledger entry supplied",
		}
	}

	undo, err := c.ledger.Undo(ctx, call.ActionID)
	if err != nil {
		return nil, err
	}

	receipt := commit.Receipt.Clone()
	receipt.PostCommitFailure = true
	receipt.UndoID = undo.UndoID

	c.log.Warn("commit compensated",
		"action_id", call.ActionID,
		"external_id", undo.ExternalID,
		"undo_id", undo.UndoID,
		"reason", reason)

	return &contracts.Decision{
		State:         contracts.DecisionUndo,
		Message:       fmt.Sprintf("compensated: %s", reason),
		CommitAllowed: false,
		Receipt:       receipt,
	}, nil
}
