package approvals

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuvalla/gateway/pkg/contracts"
)

func approval(actionID, by, role string) contracts.Approval {
	return contracts.Approval{
		ActionID:   actionID,
		ApprovedBy: by,
		Role:       role,
		Method:     "dashboard",
		ApprovedAt: time.Now(),
	}
}

func TestRecordAndFor(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	assert.Empty(t, r.For("a1"), "no approvals yet")

	require.NoError(t, r.Record(ctx, approval("a1", "maria", "CFO")))
	require.NoError(t, r.Record(ctx, approval("a1", "raj", "RiskOfficer")))
	require.NoError(t, r.Record(ctx, approval("a2", "maria", "CFO")))

	got := r.For("a1")
	require.Len(t, got, 2)
	assert.Equal(t, "maria", got[0].ApprovedBy, "recording order preserved")
	assert.Equal(t, "raj", got[1].ApprovedBy)
	assert.Equal(t, 1, r.Count("a2"))
}

func TestRecordKeepsDuplicates(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, approval("a1", "maria", "CFO")))
	require.NoError(t, r.Record(ctx, approval("a1", "maria", "CFO")))

	assert.Equal(t, 2, r.Count("a1"),
		"the registry never deduplicates; distinctness is the policy's call")
}

func TestRecordRejectsInvalid(t *testing.T) {
	r := NewRegistry()
	err := r.Record(context.Background(), contracts.Approval{ApprovedBy: "maria"})
	require.Error(t, err)
}

func TestForIsMonotonic(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	prev := 0
	for i := 0; i < 10; i++ {
		require.NoError(t, r.Record(ctx, approval("a1", fmt.Sprintf("user-%d", i), "Ops")))
		n := len(r.For("a1"))
		assert.GreaterOrEqual(t, n, prev, "approval count never decreases")
		prev = n
	}
}

func TestConcurrentRecord(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Record(ctx, approval("a1", fmt.Sprintf("user-%d", i), "Ops"))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, writers, r.Count("a1"))
}

func TestScheduleAndReleaseDue(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	r.Schedule(0, approval("a1", "maria", "CFO"))
	r.Schedule(2, approval("a2", "raj", "RiskOfficer"))
	r.Schedule(2, approval("a2", "lena", "TreasuryManager"))

	due, err := r.ReleaseDue(ctx, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "maria", due[0].ApprovedBy)
	assert.Equal(t, 1, r.Count("a1"), "released approvals feed into Record")

	due, err = r.ReleaseDue(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, due, "step 2 approvals are not yet due")

	due, err = r.ReleaseDue(ctx, 2)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "raj", due[0].ApprovedBy, "same-step delivery keeps insertion order")
	assert.Equal(t, "lena", due[1].ApprovedBy)

	due, err = r.ReleaseDue(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, due, "approvals are delivered exactly once")
}

func TestReleaseAll(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	r.Schedule(1, approval("a1", "maria", "CFO"))
	r.Schedule(99, approval("a2", "raj", "RiskOfficer"))

	_, err := r.ReleaseDue(ctx, 1)
	require.NoError(t, err)

	due, err := r.ReleaseAll(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1, "only the undelivered schedule remains")
	assert.Equal(t, "raj", due[0].ApprovedBy)
	assert.Equal(t, 1, r.Count("a2"))

	due, err = r.ReleaseAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, due, "nothing left to deliver")
}

func TestSQLiteLogRoundTrip(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "approvals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log, err := NewSQLiteLog(db)
	require.NoError(t, err)

	r := NewRegistry(WithLog(log))
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, approval("a1", "maria", "CFO")))
	require.NoError(t, r.Record(ctx, approval("a1", "raj", "RiskOfficer")))

	logged, err := log.ForAction(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, logged, 2)
	assert.Equal(t, "maria", logged[0].ApprovedBy)
	assert.Equal(t, "raj", logged[1].ApprovedBy)
}
