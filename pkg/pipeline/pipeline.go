// Package pipeline orchestrates the governed execution of agent tool
// calls: evaluate, gate, execute, compensate.
//
// Per ToolCall the lifecycle is a small state machine:
//
//	EVALUATING → BLOCKED            (terminal)
//	EVALUATING → PENDING_APPROVAL   (caller resubmits after approvals)
//	EVALUATING → COMMITTED          (terminal unless compensated)
//	COMMITTED  → COMPENSATED        (terminal)
//
// The pipeline is fail-closed: a policy port failure surfaces as
// PolicyUnavailableError and the call is never executed.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nuvalla/gateway/pkg/approvals"
	"github.com/nuvalla/gateway/pkg/audit"
	"github.com/nuvalla/gateway/pkg/compensation"
	"github.com/nuvalla/gateway/pkg/contracts"
	"github.com/nuvalla/gateway/pkg/ledger"
	"github.com/nuvalla/gateway/pkg/observability"
	"github.com/nuvalla/gateway/pkg/pdp"
)

// Pipeline is the governance gateway's entry point. It is safe for
// concurrent use by many independent callers.
type Pipeline struct {
	port      pdp.DecisionPort
	ledger    *ledger.ExecutionLedger
	approvals *approvals.Registry
	comp      *compensation.Controller

	trail   *audit.Trail
	metrics *observability.Metrics
	tracer  trace.Tracer
	log     *slog.Logger
	clock   func() time.Time

	mu     sync.Mutex
	states map[string]contracts.PipelineState
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAuditTrail records every evaluation, commit, approval, and
// compensation on the given trail.
func WithAuditTrail(t *audit.Trail) Option {
	return func(p *Pipeline) { p.trail = t }
}

// WithMetrics enables the pipeline's OTel instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTracer sets the tracer used for per-submission spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// New wires a pipeline over its collaborators.
func New(port pdp.DecisionPort, l *ledger.ExecutionLedger, reg *approvals.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		port:      port,
		ledger:    l,
		approvals: reg,
		tracer:    noop.NewTracerProvider().Tracer(""),
		log:       slog.Default(),
		clock:     time.Now,
		states:    make(map[string]contracts.PipelineState),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.comp = compensation.NewController(l, p.log)
	return p
}

// SubmitOption modifies one submission.
type SubmitOption func(*submitConfig)

type submitConfig struct {
	postCommitFailure bool
	failureReason     string
}

// WithPostCommitFailure signals that a downstream failure follows this
// call's commit: after a successful COMMIT the pipeline compensates and
// returns the synthesized UNDO decision in place of the COMMIT.
func WithPostCommitFailure(reason string) SubmitOption {
	return func(c *submitConfig) {
		c.postCommitFailure = true
		c.failureReason = reason
	}
}

// Submit runs one tool call through the gateway.
func (p *Pipeline) Submit(ctx context.Context, call *contracts.ToolCall, opts ...SubmitOption) (*contracts.PipelineResult, error) {
	if err := call.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	cfg := submitConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	start := p.clock()
	ctx, span := p.tracer.Start(ctx, "gateway.submit", trace.WithAttributes(
		attribute.String("action_id", call.ActionID),
		attribute.String("target_system", call.TargetSystem),
		attribute.String("operation", call.Operation),
	))
	defer span.End()
	p.metrics.RecordSubmission(ctx, call.TargetSystem)

	result, err := p.submit(ctx, call, &cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.String("decision", string(result.Decision.State)))
	}
	p.metrics.RecordLatency(ctx, p.clock().Sub(start))
	return result, err
}

func (p *Pipeline) submit(ctx context.Context, call *contracts.ToolCall, cfg *submitConfig) (*contracts.PipelineResult, error) {
	p.setState(call.ActionID, contracts.StateEvaluating)

	accumulated := p.approvals.For(call.ActionID)

	decision, err := p.port.Evaluate(ctx, call, accumulated)
	if err != nil {
		// Fail-closed: the call stays un-executed, the caller may retry.
		p.log.Error("policy evaluation failed",
			"action_id", call.ActionID, "error", err)
		return nil, &PolicyUnavailableError{ActionID: call.ActionID, Err: err}
	}
	p.metrics.RecordDecision(ctx, string(decision.State))
	p.auditDecision(call, decision, len(accumulated))

	result := &contracts.PipelineResult{Call: *call, Decision: *decision}

	switch {
	case decision.State == contracts.DecisionBlock:
		p.setState(call.ActionID, contracts.StateBlocked)
		result.State = contracts.StateBlocked
		p.log.Info("call blocked",
			"action_id", call.ActionID, "message", decision.Message)
		return result, nil

	case decision.State == contracts.DecisionRequireApproval:
		p.setState(call.ActionID, contracts.StatePendingApproval)
		result.State = contracts.StatePendingApproval
		p.log.Info("call pending approval",
			"action_id", call.ActionID,
			"required", decision.RequiredApprovals,
			"accumulated", len(accumulated))
		return result, nil

	case decision.Executable():
		return p.execute(ctx, call, decision, cfg, result)

	default:
		// COMMIT without commit_allowed, or an unknown state: do not execute.
		p.setState(call.ActionID, contracts.StateBlocked)
		result.State = contracts.StateBlocked
		p.log.Warn("decision not executable, treating as blocked",
			"action_id", call.ActionID, "state", string(decision.State))
		return result, nil
	}
}

func (p *Pipeline) execute(ctx context.Context, call *contracts.ToolCall, decision *contracts.Decision, cfg *submitConfig, result *contracts.PipelineResult) (*contracts.PipelineResult, error) {
	entry, replay, err := p.ledger.Execute(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("pipeline: execute %s: %w", call.ActionID, err)
	}
	result.Entry = entry
	result.IdempotentReplay = replay

	if replay && entry.Deleted {
		// The original effect was compensated; a replay must not
		// resurrect COMMITTED.
		p.metrics.RecordReplay(ctx)
		p.setState(call.ActionID, contracts.StateCompensated)
		result.State = contracts.StateCompensated
		p.log.Info("replay of compensated action",
			"action_id", call.ActionID,
			"external_id", entry.ExternalID)
		return result, nil
	}

	p.setState(call.ActionID, contracts.StateCommitted)
	result.State = contracts.StateCommitted

	if replay {
		p.metrics.RecordReplay(ctx)
	} else {
		p.auditCommit(call, entry)
	}

	if !cfg.postCommitFailure {
		return result, nil
	}

	undo, err := p.comp.Compensate(ctx, call, entry, decision, cfg.failureReason)
	if err != nil {
		return nil, err
	}
	p.setState(call.ActionID, contracts.StateCompensated)
	p.metrics.RecordCompensation(ctx, call.TargetSystem)
	p.auditCompensation(call, undo)

	result.State = contracts.StateCompensated
	result.Decision = *undo
	return result, nil
}

// RecordApproval ingests one human approval event.
func (p *Pipeline) RecordApproval(ctx context.Context, approval contracts.Approval) error {
	if err := p.approvals.Record(ctx, approval); err != nil {
		return err
	}
	if p.trail != nil {
		_, _ = p.trail.Append(audit.EventApproval, approval.ActionID, approval.ApprovedBy, map[string]any{
			"role":   approval.Role,
			"method": approval.Method,
		})
	}
	return nil
}

// State returns the last observed pipeline state for actionID.
func (p *Pipeline) State(actionID string) (contracts.PipelineState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.states[actionID]
	return s, ok
}

func (p *Pipeline) setState(actionID string, s contracts.PipelineState) {
	p.mu.Lock()
	p.states[actionID] = s
	p.mu.Unlock()
}

func (p *Pipeline) auditDecision(call *contracts.ToolCall, decision *contracts.Decision, approvalCount int) {
	if p.trail == nil {
		return
	}
	hash, err := pdp.DecisionHash(decision)
	if err != nil {
		hash = "unhashable"
	}
	_, _ = p.trail.Append(audit.EventEvaluation, call.ActionID, call.Actor, map[string]any{
		"state":          string(decision.State),
		"decision_hash":  hash,
		"approval_count": approvalCount,
		"operation":      call.Operation,
	})
}

func (p *Pipeline) auditCommit(call *contracts.ToolCall, entry *contracts.LedgerEntry) {
	if p.trail == nil {
		return
	}
	_, _ = p.trail.Append(audit.EventCommit, call.ActionID, call.Actor, map[string]any{
		"target_system": entry.TargetSystem,
		"external_id":   entry.ExternalID,
		"operation":     entry.Operation,
	})
}

func (p *Pipeline) auditCompensation(call *contracts.ToolCall, undo *contracts.Decision) {
	if p.trail == nil {
		return
	}
	_, _ = p.trail.Append(audit.EventCompensation, call.ActionID, call.Actor, map[string]any{
		"undo_id": undo.Receipt.UndoID,
	})
}
