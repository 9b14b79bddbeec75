// Package contracts defines the shared data contracts of the governance
// gateway: tool calls, approvals, decisions, ledger entries, and the
// trace model used for deterministic replay.
//
// All cross-references between contracts are by action id only; no type
// owns another.
package contracts

import (
	"errors"
	"time"
)

// ToolCall is one agent-initiated write attempt against an external
// system. ActionID is the idempotency key: at most one external effect
// is ever produced for it, regardless of retries.
//
// A ToolCall is immutable once constructed.
type ToolCall struct {
	ActionID     string         `json:"action_id"`
	Actor        string         `json:"actor"`
	TargetSystem string         `json:"target_system"` // "stripe", "netsuite", "m365", ...
	Operation    string         `json:"operation"`     // namespaced verb, e.g. "payment.execute"
	Params       map[string]any `json:"params,omitempty"`
	TxnID        string         `json:"txn_id"` // groups calls into one business transaction
	CreatedAt    time.Time      `json:"created_at"`
}

// Validate checks the fields the gateway cannot operate without.
func (c *ToolCall) Validate() error {
	if c == nil {
		return errors.New("tool call is nil")
	}
	if c.ActionID == "" {
		return errors.New("tool call missing action_id")
	}
	if c.TargetSystem == "" {
		return errors.New("tool call missing target_system")
	}
	if c.Operation == "" {
		return errors.New("tool call missing operation")
	}
	return nil
}

// Approval is one human authorization event for an action.
// Approvals are append-only: a human who approves twice yields two
// entries. Distinctness of approvers is a policy concern, not a
// registry concern.
type Approval struct {
	ActionID   string    `json:"action_id"`
	ApprovedBy string    `json:"approved_by"`
	Role       string    `json:"role"`   // "CFO", "RiskOfficer", "TreasuryManager", ...
	Method     string    `json:"method"` // "dashboard", "email", "slack", ...
	ApprovedAt time.Time `json:"approved_at"`
}

// Validate checks the fields required to attribute an approval.
func (a *Approval) Validate() error {
	if a == nil {
		return errors.New("approval is nil")
	}
	if a.ActionID == "" {
		return errors.New("approval missing action_id")
	}
	if a.ApprovedBy == "" {
		return errors.New("approval missing approved_by")
	}
	return nil
}
