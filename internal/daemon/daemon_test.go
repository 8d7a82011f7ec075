package daemon

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counter(n *atomic.Int32) Cycle {
	return func(context.Context) error {
		n.Add(1)
		return nil
	}
}

func TestRunOnceRunsBothCycles(t *testing.T) {
	var syncs, maintains atomic.Int32
	w := New(60, 1440, counter(&syncs), counter(&maintains), nil)

	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, int32(1), syncs.Load())
	assert.Equal(t, int32(1), maintains.Load())
}

func TestRunOnceSyncFailureStillMaintains(t *testing.T) {
	var maintains atomic.Int32
	w := New(60, 1440, func(context.Context) error { return fmt.Errorf("sync broke") }, counter(&maintains), nil)

	err := w.RunOnce(context.Background())
	require.EqualError(t, err, "sync broke")
	assert.Equal(t, int32(1), maintains.Load())
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	var syncs, maintains atomic.Int32
	w := New(60, 1440, counter(&syncs), counter(&maintains), nil)

	w.Start(context.Background())
	require.Eventually(t, func() bool {
		return syncs.Load() >= 1 && maintains.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)
	w.Stop()

	after := syncs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, syncs.Load(), "no cycles after Stop")
}

func TestStopIsIdempotent(t *testing.T) {
	w := New(60, 1440, nil, nil, nil)
	w.Start(context.Background())
	w.Stop()
	w.Stop()
}

func TestIndependentIntervals(t *testing.T) {
	var syncs, maintains atomic.Int32
	w := New(60, 1440, counter(&syncs), counter(&maintains), nil)
	// Tight sync interval, long maintain interval: sync should lap maintain.
	w.SyncInterval = 20 * time.Millisecond
	w.MaintainInterval = time.Hour

	w.Start(context.Background())
	require.Eventually(t, func() bool { return syncs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	w.Stop()

	assert.Equal(t, int32(1), maintains.Load())
}

func TestContextCancelStopsLoop(t *testing.T) {
	var syncs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	w := New(60, 1440, counter(&syncs), nil, nil)

	w.Start(ctx)
	require.Eventually(t, func() bool { return syncs.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	w.Wait()
}
