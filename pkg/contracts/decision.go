package contracts

// DecisionState is the governance verdict for one evaluation of an action.
type DecisionState string

const (
	DecisionCommit          DecisionState = "COMMIT"
	DecisionBlock           DecisionState = "BLOCK"
	DecisionRequireApproval DecisionState = "REQUIRE_APPROVAL"
	DecisionUndo            DecisionState = "UNDO"
)

// ReceiptSchemaVersion is the current Receipt schema version.
const ReceiptSchemaVersion = 1

// Receipt carries policy-specific audit data attached to a Decision.
// Well-known fields are typed; anything policy-specific beyond them
// goes into the Ext map.
type Receipt struct {
	SchemaVersion int    `json:"schema_version"`
	Policy        string `json:"policy,omitempty"` // rule that produced the decision

	// Approval accounting at evaluation time.
	ApprovalCount int      `json:"approval_count,omitempty"`
	Approvers     []string `json:"approvers,omitempty"`

	// Compensation outcome, set only on UNDO decisions.
	PostCommitFailure bool   `json:"post_commit_failure,omitempty"`
	UndoID            string `json:"undo_id,omitempty"`

	Ext map[string]string `json:"ext,omitempty"`
}

// NewReceipt returns a Receipt at the current schema version.
func NewReceipt(policy string) Receipt {
	return Receipt{SchemaVersion: ReceiptSchemaVersion, Policy: policy}
}

// Clone returns a deep copy so a synthesized decision can extend the
// originating receipt without mutating it.
func (r Receipt) Clone() Receipt {
	out := r
	if r.Approvers != nil {
		out.Approvers = append([]string(nil), r.Approvers...)
	}
	if r.Ext != nil {
		out.Ext = make(map[string]string, len(r.Ext))
		for k, v := range r.Ext {
			out.Ext[k] = v
		}
	}
	return out
}

// Decision is the verdict produced by one policy evaluation of one
// ToolCall. A retried action may receive a different Decision on each
// attempt as approvals accumulate. Decisions are never mutated.
type Decision struct {
	State   DecisionState `json:"state"`
	Message string        `json:"message"`

	// CommitAllowed is a redundant-but-explicit gate: execution requires
	// State == COMMIT AND CommitAllowed.
	CommitAllowed bool `json:"commit_allowed"`

	// RequiredApprovals is only meaningful under REQUIRE_APPROVAL.
	RequiredApprovals int `json:"required_approvals,omitempty"`

	Receipt Receipt `json:"receipt"`
}

// Executable reports whether this decision authorizes execution.
// Anything else means "do not execute".
func (d *Decision) Executable() bool {
	return d != nil && d.State == DecisionCommit && d.CommitAllowed
}
