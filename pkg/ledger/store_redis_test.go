package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nuvalla/gateway/pkg/contracts"
)

// TestRedisStore_Integration requires a running Redis.
// We skip if connection fails.
func TestRedisStore_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	store := NewRedisStore(client, "nuvalla-test-"+time.Now().Format("150405.000000"))

	entry := &contracts.LedgerEntry{
		ActionID:     "a1",
		TargetSystem: "stripe",
		ExternalID:   "stripe:redis000001",
		Operation:    "payment.execute",
		CreatedAt:    time.Now().UTC(),
	}

	got, created, err := store.CreateIfAbsent(ctx, entry)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !created {
		t.Errorf("Expected created=true for fresh key")
	}
	if got.ExternalID != entry.ExternalID {
		t.Errorf("Expected external id %s, got %s", entry.ExternalID, got.ExternalID)
	}

	// Second create loses the race.
	loser := *entry
	loser.ExternalID = "stripe:redis000002"
	got, created, err = store.CreateIfAbsent(ctx, &loser)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if created {
		t.Errorf("Expected created=false on replay")
	}
	if got.ExternalID != entry.ExternalID {
		t.Errorf("Expected winner's external id, got %s", got.ExternalID)
	}

	// Lookup by external id.
	found, err := store.LookupExternal(ctx, "stripe", entry.ExternalID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if found.ActionID != "a1" {
		t.Errorf("Expected action a1, got %s", found.ActionID)
	}

	// Undo semantics.
	marked, err := store.MarkDeleted(ctx, "a1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !marked.Deleted {
		t.Errorf("Expected deleted=true")
	}
	if _, err := store.MarkDeleted(ctx, "never-there"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
