package ledger

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/nuvalla/gateway/pkg/contracts"
)

const shardCount = 16

// MemoryStore is a sharded in-memory Store. Each shard holds its own
// lock, so check-and-create on one action id never serializes against
// unrelated actions.
type MemoryStore struct {
	shards [shardCount]memoryShard
}

type memoryShard struct {
	mu       sync.RWMutex
	byAction map[string]*contracts.LedgerEntry
	byExt    map[string]string // targetSystem + "\x00" + externalID -> actionID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].byAction = make(map[string]*contracts.LedgerEntry)
		s.shards[i].byExt = make(map[string]string)
	}
	return s
}

func (s *MemoryStore) shard(actionID string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(actionID))
	return &s.shards[h.Sum32()%shardCount]
}

// CreateIfAbsent performs the check-and-create inside one shard lock.
func (s *MemoryStore) CreateIfAbsent(ctx context.Context, entry *contracts.LedgerEntry) (*contracts.LedgerEntry, bool, error) {
	_ = ctx
	sh := s.shard(entry.ActionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if existing, ok := sh.byAction[entry.ActionID]; ok {
		return copyEntry(existing), false, nil
	}

	stored := copyEntry(entry)
	sh.byAction[entry.ActionID] = stored
	sh.byExt[extKey(entry.TargetSystem, entry.ExternalID)] = entry.ActionID
	return copyEntry(stored), true, nil
}

func (s *MemoryStore) Get(ctx context.Context, actionID string) (*contracts.LedgerEntry, error) {
	_ = ctx
	sh := s.shard(actionID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	entry, ok := sh.byAction[actionID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEntry(entry), nil
}

func (s *MemoryStore) MarkDeleted(ctx context.Context, actionID string) (*contracts.LedgerEntry, error) {
	_ = ctx
	sh := s.shard(actionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.byAction[actionID]
	if !ok {
		return nil, ErrNotFound
	}
	entry.Deleted = true
	return copyEntry(entry), nil
}

// LookupExternal consults each shard's local ext index in turn; the
// owning shard of the external id is not known up front because entries
// shard by action id.
func (s *MemoryStore) LookupExternal(ctx context.Context, targetSystem, externalID string) (*contracts.LedgerEntry, error) {
	_ = ctx
	key := extKey(targetSystem, externalID)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		actionID, ok := sh.byExt[key]
		var entry *contracts.LedgerEntry
		if ok {
			entry = copyEntry(sh.byAction[actionID])
		}
		sh.mu.RUnlock()
		if ok {
			return entry, nil
		}
	}
	return nil, ErrNotFound
}

func extKey(targetSystem, externalID string) string {
	return targetSystem + "\x00" + externalID
}

func copyEntry(e *contracts.LedgerEntry) *contracts.LedgerEntry {
	if e == nil {
		return nil
	}
	out := *e
	if e.Params != nil {
		out.Params = make(map[string]any, len(e.Params))
		for k, v := range e.Params {
			out.Params[k] = v
		}
	}
	return &out
}
