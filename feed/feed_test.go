package feed

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pumppulse/models"
)

func event(i int) models.TokenEvent {
	return models.TokenEvent{
		Signature:  fmt.Sprintf("sig-%d", i),
		Mint:       fmt.Sprintf("mint-%d", i),
		Source:     models.SourcePumpPortal,
		ReceivedAt: int64(i),
	}
}

func TestPublishKeepsNewestFirstAndEvicts(t *testing.T) {
	f := New(3, 16)

	for i := 1; i <= 5; i++ {
		f.Publish(event(i))
	}

	snapshot := f.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, "sig-5", snapshot[0].Signature)
	assert.Equal(t, "sig-4", snapshot[1].Signature)
	assert.Equal(t, "sig-3", snapshot[2].Signature)
	assert.Equal(t, uint64(5), f.TotalPublished())
}

func TestSnapshotPlusLiveEqualsHistory(t *testing.T) {
	f := New(100, 64)

	// Some history before the subscriber shows up.
	for i := 1; i <= 4; i++ {
		f.Publish(event(i))
	}

	_, snapshot, live := f.Subscribe()

	for i := 5; i <= 8; i++ {
		f.Publish(event(i))
	}

	var got []string
	// Snapshot is newest first; walk it backwards to rebuild history.
	for i := len(snapshot) - 1; i >= 0; i-- {
		got = append(got, snapshot[i].Signature)
	}
	for i := 0; i < 4; i++ {
		got = append(got, (<-live).Signature)
	}

	want := []string{"sig-1", "sig-2", "sig-3", "sig-4", "sig-5", "sig-6", "sig-7", "sig-8"}
	assert.Equal(t, want, got)
}

func TestSubscribeSnapshotIsCopy(t *testing.T) {
	f := New(10, 16)
	f.Publish(event(1))

	_, snapshot, _ := f.Subscribe()
	require.Len(t, snapshot, 1)

	f.Publish(event(2))
	assert.Len(t, snapshot, 1, "snapshot must not change after later publishes")
	assert.Equal(t, "sig-1", snapshot[0].Signature)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	f := New(10, 16)

	id, _, live := f.Subscribe()
	f.Unsubscribe(id)

	// Publishing after removal must not error or deliver.
	f.Publish(event(1))

	_, open := <-live
	assert.False(t, open, "channel should be closed after unsubscribe")
	assert.Equal(t, 0, f.Subscribers())

	// Idempotent.
	f.Unsubscribe(id)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	f := New(10, 1)

	_, _, live := f.Subscribe()

	// Buffer holds one; the second undrained publish drops the subscriber.
	f.Publish(event(1))
	f.Publish(event(2))

	assert.Equal(t, 0, f.Subscribers())

	got, open := <-live
	assert.True(t, open)
	assert.Equal(t, "sig-1", got.Signature)

	_, open = <-live
	assert.False(t, open, "dropped subscriber's channel must be closed")
}

func TestIndependentSubscribers(t *testing.T) {
	f := New(10, 16)

	idA, _, liveA := f.Subscribe()
	_, _, liveB := f.Subscribe()

	f.Publish(event(1))
	assert.Equal(t, "sig-1", (<-liveA).Signature)
	assert.Equal(t, "sig-1", (<-liveB).Signature)

	f.Unsubscribe(idA)
	f.Publish(event(2))
	assert.Equal(t, "sig-2", (<-liveB).Signature)
}

func TestCapacityBoundsSnapshot(t *testing.T) {
	f := New(2, 16)

	for i := 1; i <= 50; i++ {
		f.Publish(event(i))
	}

	assert.Equal(t, 2, f.Len())
	snapshot := f.Snapshot()
	assert.Equal(t, "sig-50", snapshot[0].Signature)
	assert.Equal(t, "sig-49", snapshot[1].Signature)
}
