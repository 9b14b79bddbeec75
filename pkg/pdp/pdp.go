// Package pdp defines the policy decision port, the gateway's boundary
// to the policy engine.
//
// The gateway delegates the "is this action risky" question to a
// pluggable DecisionPort and keeps the enforcement around it: the
// decision-to-action lifecycle, idempotent execution, approval
// aggregation, and compensating undo.
//
// Every DecisionPort implementation MUST:
//   - Be fail-closed: an error means "do not execute", never COMMIT
//   - Never execute the call itself; evaluation and execution are
//     strictly separated so BLOCK/REQUIRE_APPROVAL never side-effects
//   - Behave as a pure function of (call, approvals) from the gateway's
//     point of view
package pdp

import (
	"context"
	"errors"

	"github.com/nuvalla/gateway/pkg/canonicalize"
	"github.com/nuvalla/gateway/pkg/contracts"
)

// ErrNoMatchingRule is returned when no policy rule matches the call.
// Absence of a matching rule is a configuration error, not an implicit
// allow.
var ErrNoMatchingRule = errors.New("pdp: no policy rule matches call")

// DecisionPort is the stable interface for policy evaluation.
type DecisionPort interface {
	// Evaluate returns the verdict for call given the approvals
	// accumulated so far. MUST be fail-closed.
	Evaluate(ctx context.Context, call *contracts.ToolCall, approvals []contracts.Approval) (*contracts.Decision, error)
}

// DecisionFunc adapts a plain function to DecisionPort.
type DecisionFunc func(ctx context.Context, call *contracts.ToolCall, approvals []contracts.Approval) (*contracts.Decision, error)

// Evaluate implements DecisionPort.
func (f DecisionFunc) Evaluate(ctx context.Context, call *contracts.ToolCall, approvals []contracts.Approval) (*contracts.Decision, error) {
	return f(ctx, call, approvals)
}

// DecisionHash produces a deterministic "sha256:<hex>" hash of the
// decision using JCS canonicalization, for audit trail binding.
func DecisionHash(d *contracts.Decision) (string, error) {
	return canonicalize.CanonicalHash(d)
}
