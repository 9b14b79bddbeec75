// Package approvals accumulates human authorization events keyed by
// action id, and supports scheduled delivery of approvals relative to a
// step position during trace replay.
//
// The registry is append-only. It never deduplicates by approver: a
// human who approves twice yields two entries. Whether duplicates count
// toward a quorum is a policy concern (see pdp.Rule.DistinctApprovers).
package approvals

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/nuvalla/gateway/pkg/contracts"
)

const shardCount = 16

// Log is an optional durable sink for recorded approvals.
type Log interface {
	Append(ctx context.Context, approval contracts.Approval) error
}

// Registry accumulates approvals per action id.
type Registry struct {
	shards [shardCount]registryShard

	schedMu   sync.Mutex
	scheduled []scheduledApproval

	log  Log
	slog *slog.Logger
}

type registryShard struct {
	mu       sync.RWMutex
	byAction map[string][]contracts.Approval
}

type scheduledApproval struct {
	step      int
	approval  contracts.Approval
	delivered bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLog sets a durable write-through approval log.
func WithLog(log Log) Option {
	return func(r *Registry) { r.log = log }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.slog = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{slog: slog.Default()}
	for i := range r.shards {
		r.shards[i].byAction = make(map[string][]contracts.Approval)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) shard(actionID string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(actionID))
	return &r.shards[h.Sum32()%shardCount]
}

// Record appends the approval to its action's list. Recording order
// within one action id matches call arrival order.
func (r *Registry) Record(ctx context.Context, approval contracts.Approval) error {
	if err := approval.Validate(); err != nil {
		return fmt.Errorf("approvals: %w", err)
	}

	sh := r.shard(approval.ActionID)
	sh.mu.Lock()
	sh.byAction[approval.ActionID] = append(sh.byAction[approval.ActionID], approval)
	sh.mu.Unlock()

	if r.log != nil {
		if err := r.log.Append(ctx, approval); err != nil {
			return fmt.Errorf("approvals: append to log: %w", err)
		}
	}

	r.slog.Info("approval recorded",
		"action_id", approval.ActionID,
		"approved_by", approval.ApprovedBy,
		"role", approval.Role)
	return nil
}

// For returns all approvals recorded so far for actionID, in recording
// order. An empty slice means no approval has yet arrived.
func (r *Registry) For(actionID string) []contracts.Approval {
	sh := r.shard(actionID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return append([]contracts.Approval(nil), sh.byAction[actionID]...)
}

// Count returns the number of approvals recorded for actionID.
func (r *Registry) Count(actionID string) int {
	sh := r.shard(actionID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.byAction[actionID])
}

// Schedule stores an approval for release once replay reaches step.
// Within the same step, delivery order is insertion order.
func (r *Registry) Schedule(step int, approval contracts.Approval) {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()
	r.scheduled = append(r.scheduled, scheduledApproval{step: step, approval: approval})
}

// ReleaseDue records and returns all approvals scheduled at or before
// step that have not yet been delivered, in the order the trace author
// scheduled them.
func (r *Registry) ReleaseDue(ctx context.Context, step int) ([]contracts.Approval, error) {
	return r.release(ctx, func(s *scheduledApproval) bool { return s.step <= step })
}

// ReleaseAll records and returns every undelivered scheduled approval
// regardless of step, so approvals scheduled past the end of a trace
// still reach the record and never leak into a later run.
func (r *Registry) ReleaseAll(ctx context.Context) ([]contracts.Approval, error) {
	return r.release(ctx, func(*scheduledApproval) bool { return true })
}

func (r *Registry) release(ctx context.Context, due func(*scheduledApproval) bool) ([]contracts.Approval, error) {
	r.schedMu.Lock()
	var out []contracts.Approval
	for i := range r.scheduled {
		s := &r.scheduled[i]
		if s.delivered || !due(s) {
			continue
		}
		s.delivered = true
		out = append(out, s.approval)
	}
	r.schedMu.Unlock()

	for _, a := range out {
		if err := r.Record(ctx, a); err != nil {
			return nil, err
		}
	}
	return out, nil
}
