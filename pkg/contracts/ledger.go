package contracts

import "time"

// LedgerEntry is the durable record of one committed side effect.
//
// Invariant: for a fixed ActionID exactly one LedgerEntry is ever
// created, and exactly one ExternalID is ever returned to any caller,
// including retries. Entries are never physically removed; compensation
// only sets Deleted.
type LedgerEntry struct {
	ActionID     string         `json:"action_id"`
	TargetSystem string         `json:"target_system"`
	ExternalID   string         `json:"external_id"` // system-assigned id of the created effect
	Operation    string         `json:"operation"`
	Params       map[string]any `json:"params,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	Deleted      bool           `json:"deleted"`
}

// UndoResult is the outcome of a compensating undo. UndoID is derived
// deterministically from the external id, so repeated undo calls return
// the same identifier.
type UndoResult struct {
	ActionID   string `json:"action_id"`
	ExternalID string `json:"external_id"`
	UndoID     string `json:"undo_id"`
}
