package contracts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCallValidate(t *testing.T) {
	valid := ToolCall{
		ActionID:     "act-1",
		Actor:        "agent:demo",
		TargetSystem: "stripe",
		Operation:    "payment.execute",
		CreatedAt:    time.Now(),
	}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*ToolCall)
	}{
		{"missing action_id", func(c *ToolCall) { c.ActionID = "" }},
		{"missing target_system", func(c *ToolCall) { c.TargetSystem = "" }},
		{"missing operation", func(c *ToolCall) { c.Operation = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			call := valid
			tc.mutate(&call)
			assert.Error(t, call.Validate())
		})
	}

	var nilCall *ToolCall
	assert.Error(t, nilCall.Validate())
}

func TestApprovalValidate(t *testing.T) {
	valid := Approval{ActionID: "act-1", ApprovedBy: "cfo@example.com"}
	require.NoError(t, valid.Validate())

	missing := valid
	missing.ApprovedBy = ""
	assert.Error(t, missing.Validate())

	var nilApproval *Approval
	assert.Error(t, nilApproval.Validate())
}

func TestReceiptClone(t *testing.T) {
	r := NewReceipt("payment_threshold")
	r.ApprovalCount = 2
	r.Approvers = []string{"cfo@example.com", "risk@example.com"}
	r.Ext = map[string]string{"region": "eu"}

	clone := r.Clone()
	clone.Approvers[0] = "mutated"
	clone.Ext["region"] = "us"
	clone.PostCommitFailure = true
	clone.UndoID = "undo:erp:abc"

	assert.Equal(t, "cfo@example.com", r.Approvers[0])
	assert.Equal(t, "eu", r.Ext["region"])
	assert.False(t, r.PostCommitFailure)
	assert.Empty(t, r.UndoID)
	assert.Equal(t, ReceiptSchemaVersion, clone.SchemaVersion)
	assert.Equal(t, "payment_threshold", clone.Policy)
}

func TestDecisionExecutable(t *testing.T) {
	assert.True(t, (&Decision{State: DecisionCommit, CommitAllowed: true}).Executable())
	assert.False(t, (&Decision{State: DecisionCommit}).Executable())
	assert.False(t, (&Decision{State: DecisionBlock, CommitAllowed: true}).Executable())
	assert.False(t, (&Decision{State: DecisionRequireApproval}).Executable())

	var nilDecision *Decision
	assert.False(t, nilDecision.Executable())
}

func TestPipelineStateTerminal(t *testing.T) {
	assert.True(t, StateBlocked.Terminal())
	assert.True(t, StateCommitted.Terminal())
	assert.True(t, StateCompensated.Terminal())
	assert.False(t, StateEvaluating.Terminal())
	assert.False(t, StatePendingApproval.Terminal())
}
