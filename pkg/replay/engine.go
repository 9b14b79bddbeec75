// Package replay runs recorded scenario traces through the governance
// pipeline: ordered tool calls interleaved with approvals that arrive
// at specific steps of the business transaction.
//
// Replay is how a misbehaving agent session is re-examined under
// governance: the same calls, the same approval timing, a deterministic
// per-step report of what would have been blocked, held, committed, or
// compensated.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nuvalla/gateway/pkg/approvals"
	"github.com/nuvalla/gateway/pkg/contracts"
	"github.com/nuvalla/gateway/pkg/pipeline"
)

// ForcePostCommitFailureParam is the legacy trace flag marking a call
// whose commit is followed by a downstream failure.
const ForcePostCommitFailureParam = "force_post_commit_failure"

// StepResult is the outcome of one replayed step.
type StepResult struct {
	Index              int                       `json:"index"` // 1-based
	Call               contracts.ToolCall        `json:"call"`
	DeliveredApprovals []contracts.Approval      `json:"delivered_approvals,omitempty"`
	Result             *contracts.PipelineResult `json:"result,omitempty"`
	Err                string                    `json:"error,omitempty"`
}

// TraceReport summarizes one replayed trace.
type TraceReport struct {
	Trace   string                          `json:"trace"`
	Steps   []StepResult                    `json:"steps"`
	Summary map[contracts.DecisionState]int `json:"summary"`

	// PolicyFailures counts steps where the decision port itself failed
	// (fail-closed, call left un-executed).
	PolicyFailures int `json:"policy_failures,omitempty"`
}

// Engine replays scenario traces against a pipeline.
type Engine struct {
	pipeline *pipeline.Pipeline
	registry *approvals.Registry
	log      *slog.Logger
}

// NewEngine creates a replay engine. The registry must be the same one
// the pipeline consults for approvals.
func NewEngine(p *pipeline.Pipeline, reg *approvals.Registry, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{pipeline: p, registry: reg, log: log}
}

// Run replays the trace: before step N runs, every approval scheduled
// to deliver after step N-1 is recorded, exactly in the order the trace
// author scheduled it.
func (e *Engine) Run(ctx context.Context, trace *contracts.ScenarioTrace) (*TraceReport, error) {
	if trace == nil || len(trace.ToolCalls) == 0 {
		return nil, errors.New("replay: trace has no tool calls")
	}

	for _, sa := range trace.Approvals {
		e.registry.Schedule(sa.DeliverAfterStep, sa.Approval)
	}

	report := &TraceReport{
		Trace:   trace.Name,
		Summary: make(map[contracts.DecisionState]int),
	}
	e.log.Info("replaying trace", "trace", trace.Name, "steps", len(trace.ToolCalls))

	for i := range trace.ToolCalls {
		call := trace.ToolCalls[i]
		idx := i + 1

		delivered, err := e.registry.ReleaseDue(ctx, idx-1)
		if err != nil {
			return nil, fmt.Errorf("replay: deliver approvals before step %d: %w", idx, err)
		}

		step := StepResult{Index: idx, Call: call, DeliveredApprovals: delivered}

		result, err := e.pipeline.Submit(ctx, &call, submitOptions(&call)...)
		if err != nil {
			step.Err = err.Error()
			var unavailable *pipeline.PolicyUnavailableError
			if errors.As(err, &unavailable) {
				report.PolicyFailures++
			}
		} else {
			step.Result = result
			report.Summary[result.Decision.State]++
		}
		report.Steps = append(report.Steps, step)
	}

	// Approvals scheduled at or past the final step still get recorded,
	// so a later replay or audit sees the complete timeline.
	if _, err := e.registry.ReleaseAll(ctx); err != nil {
		return nil, fmt.Errorf("replay: deliver trailing approvals: %w", err)
	}

	return report, nil
}

func submitOptions(call *contracts.ToolCall) []pipeline.SubmitOption {
	if flag, ok := call.Params[ForcePostCommitFailureParam].(bool); ok && flag {
		return []pipeline.SubmitOption{
			pipeline.WithPostCommitFailure("post-commit failure recorded in trace"),
		}
	}
	return nil
}
