package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pumppulse/models"
	"pumppulse/source"
	"pumppulse/utils"
)

// fakeAdapter fails failuresBeforeConnect times, then connects and
// emits one message per session before blocking until cancelled or
// told to fail again.
type fakeAdapter struct {
	id                    models.SourceID
	failuresBeforeConnect int32
	fatalErr              error

	runs     atomic.Int32
	connects atomic.Int32
	failNext chan struct{}
}

func newFakeAdapter(id models.SourceID, failures int32) *fakeAdapter {
	return &fakeAdapter{
		id:                    id,
		failuresBeforeConnect: failures,
		failNext:              make(chan struct{}, 1),
	}
}

func (a *fakeAdapter) ID() models.SourceID { return a.id }

func (a *fakeAdapter) Run(ctx context.Context, ready func(), out chan<- models.RawMessage) error {
	run := a.runs.Add(1)

	if a.fatalErr != nil {
		return a.fatalErr
	}
	if run <= a.failuresBeforeConnect {
		return errors.New("connect refused")
	}

	ready()
	session := a.connects.Add(1)

	select {
	case out <- models.RawMessage{Source: a.id, Data: []byte{byte(session)}, ReceivedAt: time.Now()}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-a.failNext:
		return errors.New("connection reset")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTestSupervisor(a source.Adapter, out chan models.RawMessage) *Supervisor {
	return New(a, out, time.Millisecond, 10*time.Millisecond, zap.NewNop().Sugar())
}

func TestConnectsAfterFailures(t *testing.T) {
	out := make(chan models.RawMessage, 8)
	adapter := newFakeAdapter("test", 3)
	sup := newTestSupervisor(adapter, out)

	sup.Start(context.Background())
	defer sup.Stop()

	require.Eventually(t, sup.Connected, time.Second, time.Millisecond)
	assert.Equal(t, int32(4), adapter.runs.Load())
	assert.Equal(t, models.StateConnected, sup.State())
}

func TestReconnectResumesFlow(t *testing.T) {
	out := make(chan models.RawMessage, 8)
	adapter := newFakeAdapter("test", 0)
	sup := newTestSupervisor(adapter, out)

	sup.Start(context.Background())
	defer sup.Stop()

	first := <-out
	assert.Equal(t, []byte{1}, first.Data)

	// Kill the connection; the supervisor must bring it back and the
	// next session's message must flow as before.
	adapter.failNext <- struct{}{}

	second := <-out
	assert.Equal(t, []byte{2}, second.Data)
	require.Eventually(t, sup.Connected, time.Second, time.Millisecond)
}

func TestFatalErrorStopsRetrying(t *testing.T) {
	out := make(chan models.RawMessage, 8)
	adapter := newFakeAdapter("test", 0)
	adapter.fatalErr = source.Fatal(errors.New("bad credentials"))
	sup := newTestSupervisor(adapter, out)

	sup.Start(context.Background())

	select {
	case err := <-sup.Fatal():
		assert.True(t, source.IsFatal(err))
	case <-time.After(time.Second):
		t.Fatal("fatal error never reported")
	}

	require.Eventually(t, func() bool {
		return sup.State() == models.StateDisconnected
	}, time.Second, time.Millisecond)

	// No further attempts after giving up.
	runs := adapter.runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, runs, adapter.runs.Load())

	sup.Stop()
}

func TestStopDuringBackoff(t *testing.T) {
	out := make(chan models.RawMessage, 8)
	adapter := newFakeAdapter("test", 1000)
	sup := New(adapter, out, 50*time.Millisecond, time.Second, zap.NewNop().Sugar())

	sup.Start(context.Background())
	require.Eventually(t, func() bool {
		return sup.State() == models.StateBackoff
	}, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		sup.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop hung during backoff")
	}
	assert.Equal(t, models.StateDisconnected, sup.State())
}

func TestBackoffGrowthWithinJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second
	bo := utils.NewExponentialBackoff(base, max)

	expected := base
	for attempt := 0; attempt < 6; attempt++ {
		delay := bo.NextBackOff()

		lower := time.Duration(float64(expected) * 0.75)
		upper := time.Duration(float64(expected) * 1.25)
		assert.GreaterOrEqual(t, delay, lower, "attempt %d", attempt)
		assert.LessOrEqual(t, delay, upper, "attempt %d", attempt)

		expected *= 2
		if expected > max {
			expected = max
		}
	}
}

func TestBackoffResetsAfterConnect(t *testing.T) {
	bo := utils.NewExponentialBackoff(10*time.Millisecond, time.Second)

	for i := 0; i < 5; i++ {
		bo.NextBackOff()
	}
	grown := bo.NextBackOff()
	assert.Greater(t, grown, 50*time.Millisecond)

	bo.Reset()
	fresh := bo.NextBackOff()
	assert.LessOrEqual(t, fresh, time.Duration(float64(10*time.Millisecond)*1.25))
}

func TestGroupAggregatesFatal(t *testing.T) {
	out := make(chan models.RawMessage, 8)

	healthy := newFakeAdapter("healthy", 0)
	broken := newFakeAdapter("broken", 0)
	broken.fatalErr = source.Fatal(errors.New("subscribe rejected"))

	group := NewGroup()
	group.Add(newTestSupervisor(healthy, out))
	group.Add(newTestSupervisor(broken, out))

	ctx, cancel := context.WithCancel(context.Background())
	group.Start(ctx)
	// Cancel before Stop so the fatal watchers can drain.
	defer group.Stop()
	defer cancel()

	select {
	case <-group.FatalDone():
		require.Error(t, group.FatalErr())
	case <-time.After(time.Second):
		t.Fatal("group never observed the fatal error")
	}

	require.Eventually(t, group.Connected, time.Second, time.Millisecond)

	states := group.States()
	assert.Equal(t, models.StateConnected, states["healthy"])
	assert.Equal(t, models.StateDisconnected, states["broken"])
}
