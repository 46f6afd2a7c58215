package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOrdersByDueTimeThenKey(t *testing.T) {
	q := New()
	base := time.Unix(1000, 0)

	q.PushOrUpdate("b", base)
	q.PushOrUpdate("a", base)
	q.PushOrUpdate("c", base.Add(time.Second))

	k1, _, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", k1, "equal due-times break ties by key")

	k2, _, _ := q.Pop()
	assert.Equal(t, "b", k2)

	k3, _, _ := q.Pop()
	assert.Equal(t, "c", k3)

	_, _, ok = q.Pop()
	assert.False(t, ok)
}

func TestPushOrUpdateReschedules(t *testing.T) {
	q := New()
	now := time.Now()

	q.PushOrUpdate("x", now.Add(time.Hour))
	q.PushOrUpdate("y", now)
	require.Equal(t, 2, q.Len())

	// Reschedule x to be due before y.
	q.PushOrUpdate("x", now.Add(-time.Minute))

	k, _, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "x", k)
}

func TestRemoveByKey(t *testing.T) {
	q := New()
	now := time.Now()
	q.PushOrUpdate("a", now)
	q.PushOrUpdate("b", now.Add(time.Second))

	assert.True(t, q.RemoveByKey("a"))
	assert.False(t, q.RemoveByKey("a"), "second remove finds nothing")
	assert.Equal(t, 1, q.Len())

	k, _, _ := q.Pop()
	assert.Equal(t, "b", k)
}

func TestDueBy(t *testing.T) {
	q := New()
	now := time.Now()
	q.PushOrUpdate("past", now.Add(-time.Minute))
	q.PushOrUpdate("future", now.Add(time.Hour))

	due := q.DueBy(now)
	require.Equal(t, []string{"past"}, due)
	assert.Equal(t, 1, q.Len())
	assert.True(t, q.Contains("future"))
}

func TestSnapshotRoundTrip(t *testing.T) {
	q := New()
	now := time.Now()
	q.PushOrUpdate("a", now)
	q.PushOrUpdate("b", now.Add(2*time.Second))
	q.PushOrUpdate("c", now.Add(time.Second))

	snap := q.Snapshot()
	restored := Restore(snap)

	require.Equal(t, q.Len(), restored.Len())
	for {
		wantKey, wantDue, ok := q.Pop()
		if !ok {
			break
		}
		gotKey, gotDue, ok := restored.Pop()
		require.True(t, ok)
		assert.Equal(t, wantKey, gotKey)
		assert.True(t, wantDue.Equal(gotDue))
	}
}

func TestReplaceWithPreservesIdentity(t *testing.T) {
	q := New()
	q.PushOrUpdate("stale", time.Now())

	held := q // a caller holding the original pointer across a restore
	fresh := New()
	now := time.Now()
	fresh.PushOrUpdate("a", now)
	fresh.PushOrUpdate("b", now.Add(time.Second))

	q.ReplaceWith(fresh)

	assert.False(t, held.Contains("stale"))
	assert.True(t, held.Contains("a"))
	assert.True(t, held.Contains("b"))
	assert.Equal(t, 2, held.Len())
}
