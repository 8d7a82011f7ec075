package lock

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lerim/internal/models"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "writer.lock")
}

func TestAcquireAndRelease(t *testing.T) {
	path := lockPath(t)

	g, err := Acquire(path, "tester", "sync", Options{})
	require.NoError(t, err)
	require.NotNil(t, g)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var s State
	require.NoError(t, json.Unmarshal(b, &s))
	assert.Equal(t, os.Getpid(), s.PID)
	assert.Equal(t, "tester", s.Owner)
	assert.Equal(t, "sync", s.Command)
	assert.False(t, s.HeartbeatAt.IsZero())

	g.Release()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Double release is a no-op.
	g.Release()
}

func TestAcquireBusyWhenHolderAlive(t *testing.T) {
	path := lockPath(t)

	g, err := Acquire(path, "first", "sync", Options{})
	require.NoError(t, err)
	defer g.Release()

	_, err = Acquire(path, "second", "maintain", Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrLockBusy))

	var busy *models.LockBusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "first", busy.Owner)
	assert.Equal(t, os.Getpid(), busy.PID)
}

func TestAcquireReclaimsStaleHeartbeat(t *testing.T) {
	path := lockPath(t)

	// A live pid with an old heartbeat is reclaimable: the holder process
	// exists but its cycle stopped updating the lock.
	host, _ := os.Hostname()
	stale := State{
		PID:         os.Getpid(),
		Owner:       "zombie",
		Command:     "sync",
		Host:        host,
		StartedAt:   time.Now().UTC().Add(-time.Hour),
		HeartbeatAt: time.Now().UTC().Add(-10 * time.Minute),
	}
	b, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))

	g, err := Acquire(path, "fresh", "sync", Options{StaleSeconds: 60})
	require.NoError(t, err)
	defer g.Release()

	cur, err := readState(path)
	require.NoError(t, err)
	assert.Equal(t, "fresh", cur.Owner)
}

func TestAcquireReclaimsDeadPID(t *testing.T) {
	path := lockPath(t)

	host, _ := os.Hostname()
	// Large pids are near-certainly unused on test hosts.
	stale := State{
		PID:         1 << 22,
		Owner:       "dead",
		Command:     "sync",
		Host:        host,
		StartedAt:   time.Now().UTC(),
		HeartbeatAt: time.Now().UTC(),
	}
	b, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))

	g, err := Acquire(path, "fresh", "sync", Options{})
	require.NoError(t, err)
	g.Release()
}

func TestAcquireReclaimsCorruptState(t *testing.T) {
	path := lockPath(t)
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	g, err := Acquire(path, "fresh", "sync", Options{})
	require.NoError(t, err)
	g.Release()
}

func TestHeartbeatRefreshes(t *testing.T) {
	path := lockPath(t)

	g, err := Acquire(path, "tester", "sync", Options{})
	require.NoError(t, err)
	defer g.Release()

	before, err := readState(path)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, g.Heartbeat())

	after, err := readState(path)
	require.NoError(t, err)
	assert.True(t, after.HeartbeatAt.After(before.HeartbeatAt))
}

func TestReleaseLeavesForeignLock(t *testing.T) {
	path := lockPath(t)

	g, err := Acquire(path, "tester", "sync", Options{})
	require.NoError(t, err)

	// Simulate a reclaim by another process while we were presumed dead.
	other := State{PID: os.Getpid() + 1, Owner: "other", HeartbeatAt: time.Now().UTC()}
	b, err := json.Marshal(other)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))

	g.Release()
	_, err = os.Stat(path)
	assert.NoError(t, err, "release must not unlink a lock held by someone else")
}
