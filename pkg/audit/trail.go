// Package audit provides the gateway's append-only audit trail.
//
// Every entry is hash-chained to its predecessor over its JCS canonical
// form, so a caller can verify offline that the recorded sequence of
// evaluations, commits, approvals, and compensations was not rewritten.
package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nuvalla/gateway/pkg/canonicalize"
)

// EventType categorizes an audit event.
type EventType string

const (
	EventEvaluation   EventType = "EVALUATION"
	EventCommit       EventType = "COMMIT"
	EventApproval     EventType = "APPROVAL"
	EventCompensation EventType = "COMPENSATION"
)

// Entry is an immutable, hash-chained audit record.
type Entry struct {
	ID          string         `json:"id"`
	Sequence    uint64         `json:"sequence"`
	Type        EventType      `json:"type"`
	ActionID    string         `json:"action_id"`
	Actor       string         `json:"actor,omitempty"`
	ContentHash string         `json:"content_hash"`
	PrevHash    string         `json:"prev_hash"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
}

// Trail is an append-only, hash-chained audit log.
type Trail struct {
	mu       sync.RWMutex
	entries  []Entry
	headHash string
	clock    func() time.Time
}

// NewTrail creates an empty trail.
func NewTrail() *Trail {
	return &Trail{headHash: "genesis", clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (t *Trail) WithClock(clock func() time.Time) *Trail {
	t.clock = clock
	return t
}

// Append adds an event to the trail and returns its sequence number.
func (t *Trail) Append(eventType EventType, actionID, actor string, data map[string]any) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq := uint64(len(t.entries)) + 1
	ts := t.clock()
	contentHash, err := entryHash(seq, eventType, actionID, actor, ts, data, t.headHash)
	if err != nil {
		return 0, fmt.Errorf("audit: hash entry: %w", err)
	}

	entry := Entry{
		ID:          uuid.New().String(),
		Sequence:    seq,
		Type:        eventType,
		ActionID:    actionID,
		Actor:       actor,
		ContentHash: contentHash,
		PrevHash:    t.headHash,
		Timestamp:   ts,
		Data:        data,
	}
	t.entries = append(t.entries, entry)
	t.headHash = contentHash
	return seq, nil
}

// ForAction returns every entry recorded for actionID, in order.
func (t *Trail) ForAction(actionID string) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Entry
	for _, e := range t.entries {
		if e.ActionID == actionID {
			out = append(out, e)
		}
	}
	return out
}

// Head returns the current head hash.
func (t *Trail) Head() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.headHash
}

// Length returns the number of entries.
func (t *Trail) Length() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Verify checks the integrity of the whole chain.
func (t *Trail) Verify() (bool, string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	prevHash := "genesis"
	for i, e := range t.entries {
		if e.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, e.PrevHash)
		}
		computed, err := entryHash(e.Sequence, e.Type, e.ActionID, e.Actor, e.Timestamp, e.Data, e.PrevHash)
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d", i+1)
		}
		if computed != e.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prevHash = e.ContentHash
	}
	return true, "chain verified"
}

func entryHash(seq uint64, eventType EventType, actionID, actor string, ts time.Time, data map[string]any, prevHash string) (string, error) {
	hashInput := struct {
		Seq      uint64         `json:"seq"`
		Type     EventType      `json:"type"`
		ActionID string         `json:"action_id"`
		Actor    string         `json:"actor"`
		At       time.Time      `json:"at"`
		Data     map[string]any `json:"data"`
		PrevHash string         `json:"prev"`
	}{seq, eventType, actionID, actor, ts, data, prevHash}
	return canonicalize.CanonicalHash(hashInput)
}
