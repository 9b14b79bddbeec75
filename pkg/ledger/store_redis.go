package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nuvalla/gateway/pkg/contracts"
)

// redisCreateScript performs the check-and-create atomically in Redis.
// KEYS[1] = entry hash key, KEYS[2] = external-id index key
// ARGV[1] = entry JSON, ARGV[2] = action id
var redisCreateScript = redis.NewScript(`
if redis.call("HSETNX", KEYS[1], "entry", ARGV[1]) == 1 then
    redis.call("SET", KEYS[2], ARGV[2])
    return 1
end
return 0
`)

// redisDeleteScript marks an existing entry deleted; it never creates.
var redisDeleteScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], "entry") == 0 then
    return 0
end
redis.call("HSET", KEYS[1], "deleted", "1")
return 1
`)

// RedisStore keeps the ledger in Redis, for deployments where several
// gateway instances share one idempotency domain. Atomicity comes from
// Lua scripts running single-threaded on the server.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store over an existing client. Keys are
// namespaced under prefix (default "nuvalla").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "nuvalla"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// OpenRedisStore dials Redis and verifies connectivity.
func OpenRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ledger: ping: %w", err)
	}
	return NewRedisStore(client, ""), nil
}

// Close closes the client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) entryKey(actionID string) string {
	return s.prefix + ":ledger:" + actionID
}

func (s *RedisStore) extIndexKey(targetSystem, externalID string) string {
	return s.prefix + ":ledger:ext:" + targetSystem + ":" + externalID
}

func (s *RedisStore) CreateIfAbsent(ctx context.Context, entry *contracts.LedgerEntry) (*contracts.LedgerEntry, bool, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, false, fmt.Errorf("marshal entry: %w", err)
	}

	keys := []string{
		s.entryKey(entry.ActionID),
		s.extIndexKey(entry.TargetSystem, entry.ExternalID),
	}
	created, err := redisCreateScript.Run(ctx, s.client, keys, string(raw), entry.ActionID).Int()
	if err != nil {
		return nil, false, fmt.Errorf("redis create: %w", err)
	}
	if created == 1 {
		return copyEntry(entry), true, nil
	}

	existing, err := s.Get(ctx, entry.ActionID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *RedisStore) Get(ctx context.Context, actionID string) (*contracts.LedgerEntry, error) {
	vals, err := s.client.HMGet(ctx, s.entryKey(actionID), "entry", "deleted").Result()
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, ErrNotFound
	}

	var entry contracts.LedgerEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	if flag, ok := vals[1].(string); ok && flag == "1" {
		entry.Deleted = true
	}
	return &entry, nil
}

func (s *RedisStore) MarkDeleted(ctx context.Context, actionID string) (*contracts.LedgerEntry, error) {
	deleted, err := redisDeleteScript.Run(ctx, s.client, []string{s.entryKey(actionID)}).Int()
	if err != nil {
		return nil, fmt.Errorf("redis mark deleted: %w", err)
	}
	if deleted == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, actionID)
}

func (s *RedisStore) LookupExternal(ctx context.Context, targetSystem, externalID string) (*contracts.LedgerEntry, error) {
	actionID, err := s.client.Get(ctx, s.extIndexKey(targetSystem, externalID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis lookup: %w", err)
	}
	return s.Get(ctx, actionID)
}
