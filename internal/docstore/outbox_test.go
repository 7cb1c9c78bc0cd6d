package docstore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDeliveries_MarksDispatched(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.Commit(ctx, Create("items", "a", item{Name: "a"})))

	changes, err := s.PendingChanges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)

	require.NoError(t, s.EnqueueDeliveries(ctx, changes[0].Seq, []string{"one", "two"}))

	changes, err = s.PendingChanges(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, changes)

	counts, err := s.DeliveryCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[DeliveryPending])
}

func TestEnqueueDeliveries_Idempotent(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.Commit(ctx, Create("items", "a", item{Name: "a"})))
	changes, err := s.PendingChanges(ctx, 10)
	require.NoError(t, err)
	seq := changes[0].Seq

	require.NoError(t, s.EnqueueDeliveries(ctx, seq, []string{"one"}))
	require.NoError(t, s.CompleteDelivery(ctx, seq, "one"))
	require.NoError(t, s.EnqueueDeliveries(ctx, seq, []string{"one"}))

	counts, err := s.DeliveryCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[DeliveryDone])
	assert.Equal(t, int64(0), counts[DeliveryPending], "re-enqueue must not resurrect a finished delivery")
}

func TestDueDeliveries_RespectsSchedule(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.Commit(ctx, Create("items", "a", item{Name: "a"})))
	changes, err := s.PendingChanges(ctx, 10)
	require.NoError(t, err)
	seq := changes[0].Seq
	require.NoError(t, s.EnqueueDeliveries(ctx, seq, []string{"sub"}))

	due, err := s.DueDeliveries(ctx, clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "sub", due[0].Subscriber)
	assert.Equal(t, seq, due[0].Change.Seq)
	assert.Equal(t, "items", due[0].Change.Collection)
	require.NotNil(t, due[0].Change.After)

	retryAt := clock.Now().Add(time.Minute)
	require.NoError(t, s.FailDelivery(ctx, seq, "sub", errors.New("store down"), retryAt, false))

	due, err = s.DueDeliveries(ctx, clock.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "not due before retryAt")

	due, err = s.DueDeliveries(ctx, retryAt, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)
	assert.Equal(t, "store down", due[0].LastError)
}

func TestFailDelivery_DeadAndRequeue(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.Commit(ctx, Create("items", "a", item{Name: "a"})))
	changes, err := s.PendingChanges(ctx, 10)
	require.NoError(t, err)
	seq := changes[0].Seq
	require.NoError(t, s.EnqueueDeliveries(ctx, seq, []string{"sub"}))

	require.NoError(t, s.FailDelivery(ctx, seq, "sub", errors.New("gave up"), clock.Now(), true))

	due, err := s.DueDeliveries(ctx, clock.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "dead deliveries are never due")

	dead, err := s.Deliveries(ctx, DeliveryDead, 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "gave up", dead[0].LastError)

	ok, err := s.RequeueDelivery(ctx, seq, "sub")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.RequeueDelivery(ctx, seq, "sub")
	require.NoError(t, err)
	assert.False(t, ok, "already pending")

	due, err = s.DueDeliveries(ctx, clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 0, due[0].Attempts)
}

func TestRequeueDead(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.Commit(ctx, Create("items", "a", item{Name: "a"})))
	changes, err := s.PendingChanges(ctx, 10)
	require.NoError(t, err)
	seq := changes[0].Seq
	require.NoError(t, s.EnqueueDeliveries(ctx, seq, []string{"x", "y"}))
	require.NoError(t, s.FailDelivery(ctx, seq, "x", nil, clock.Now(), true))
	require.NoError(t, s.FailDelivery(ctx, seq, "y", nil, clock.Now(), true))

	n, err := s.RequeueDead(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	counts, err := s.DeliveryCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[DeliveryDead])
	assert.Equal(t, int64(2), counts[DeliveryPending])
}

func TestCompleteDelivery_OnlyPending(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.Commit(ctx, Create("items", "a", item{Name: "a"})))
	changes, err := s.PendingChanges(ctx, 10)
	require.NoError(t, err)
	seq := changes[0].Seq
	require.NoError(t, s.EnqueueDeliveries(ctx, seq, []string{"sub"}))
	require.NoError(t, s.FailDelivery(ctx, seq, "sub", nil, clock.Now(), true))

	require.NoError(t, s.CompleteDelivery(ctx, seq, "sub"))

	dead, err := s.Deliveries(ctx, DeliveryDead, 0)
	require.NoError(t, err)
	assert.Len(t, dead, 1, "a dead delivery is not completed behind the operator's back")
}

func TestUndispatchedCount(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.Commit(ctx, Create("items", "a", item{Name: "a"}), Create("items", "b", item{Name: "b"})))

	n, err := s.UndispatchedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	changes, err := s.PendingChanges(ctx, 10)
	require.NoError(t, err)
	require.NoError(t, s.EnqueueDeliveries(ctx, changes[0].Seq, nil))

	n, err = s.UndispatchedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
