package contracts

// ScheduledApproval associates an approval with a position in a trace:
// the approval is delivered after the step with that 1-based index has
// run (0 delivers before the first step).
type ScheduledApproval struct {
	Approval         `json:",inline"`
	DeliverAfterStep int `json:"deliver_after_step"`
}

// ScenarioTrace is a deterministic replay trace: an ordered sequence of
// tool calls plus the approvals that arrive "in the world" while the
// transaction runs. Built once per trace; read-only during replay.
type ScenarioTrace struct {
	Name      string              `json:"name"`
	Story     string              `json:"story,omitempty"`
	ToolCalls []ToolCall          `json:"tool_calls"`
	Approvals []ScheduledApproval `json:"approvals,omitempty"`
}
