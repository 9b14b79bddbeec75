package contracts

// PipelineState is the lifecycle state of one governed tool call.
//
// EVALUATING → {BLOCKED, PENDING_APPROVAL, COMMITTED}; COMMITTED may
// transition to COMPENSATED when a post-commit failure signal arrives.
// BLOCKED and COMPENSATED are terminal.
type PipelineState string

const (
	StateEvaluating      PipelineState = "EVALUATING"
	StateBlocked         PipelineState = "BLOCKED"
	StatePendingApproval PipelineState = "PENDING_APPROVAL"
	StateCommitted       PipelineState = "COMMITTED"
	StateCompensated     PipelineState = "COMPENSATED"
)

// Terminal reports whether no further submission can change the state
// (compensation of a COMMITTED call excepted).
func (s PipelineState) Terminal() bool {
	switch s {
	case StateBlocked, StateCommitted, StateCompensated:
		return true
	default:
		return false
	}
}

// PipelineResult is the observable outcome of one submission: the final
// decision, the ledger entry if the call executed, and the terminal
// pipeline state. It carries everything a caller needs to render an
// audit trail without re-deriving it.
type PipelineResult struct {
	Call     ToolCall      `json:"call"`
	State    PipelineState `json:"state"`
	Decision Decision      `json:"decision"`

	// Entry is set only when the call executed (including idempotent
	// replays of an earlier commit).
	Entry *LedgerEntry `json:"entry,omitempty"`

	// IdempotentReplay marks a resubmission that returned the original
	// ledger entry without producing a new external effect.
	IdempotentReplay bool `json:"idempotent_replay,omitempty"`
}
