// Package lock provides the advisory writer lock that serializes every
// memory-mutating cycle on a host. It is a plain lock file with JSON state:
// exclusive create wins, a dead or silent holder is reclaimed.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/dotcommander/lerim/internal/models"
)

// DefaultStaleSeconds is how long a holder may go without a heartbeat before
// its lock is considered abandoned.
const DefaultStaleSeconds = 60

// State is the JSON payload written into the lock file.
type State struct {
	PID         int       `json:"pid"`
	Owner       string    `json:"owner"`
	Command     string    `json:"command"`
	Host        string    `json:"host"`
	StartedAt   time.Time `json:"started_at"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
}

// Guard is a held writer lock. Release it with Release (defer-safe; releasing
// twice is a no-op).
type Guard struct {
	path     string
	state    State
	released bool
}

// Options tune Acquire. Zero values pick the defaults.
type Options struct {
	StaleSeconds int
	// now is injected by tests.
	now func() time.Time
}

// Acquire takes the writer lock at path for this process. When another live
// process holds it, a LockBusyError (matching models.ErrLockBusy) is returned
// carrying the holder's state. A stale lock — dead pid, or heartbeat older
// than StaleSeconds — is unlinked and acquisition retried once.
func Acquire(path, owner, command string, opts Options) (*Guard, error) {
	stale := opts.StaleSeconds
	if stale <= 0 {
		stale = DefaultStaleSeconds
	}
	now := opts.now
	if now == nil {
		now = time.Now
	}

	for attempt := 0; attempt < 2; attempt++ {
		g, err := tryCreate(path, owner, command, now())
		if err == nil {
			return g, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock %s: %w", path, err)
		}

		state, readErr := readState(path)
		if readErr == nil && holderAlive(state, now().UTC(), stale) {
			return nil, &models.LockBusyError{
				Owner:       state.Owner,
				PID:         state.PID,
				Command:     state.Command,
				Host:        state.Host,
				HeartbeatAt: state.HeartbeatAt,
			}
		}

		// Unreadable state counts as stale: a torn write from a crashed
		// holder must not wedge the lock forever.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reclaim stale lock %s: %w", path, err)
		}
	}
	// The retry collided again: another process won the reclaim race.
	state, err := readState(path)
	if err != nil {
		return nil, &models.LockBusyError{Owner: "unknown", Command: command}
	}
	return nil, &models.LockBusyError{
		Owner:       state.Owner,
		PID:         state.PID,
		Command:     state.Command,
		Host:        state.Host,
		HeartbeatAt: state.HeartbeatAt,
	}
}

func tryCreate(path, owner, command string, now time.Time) (*Guard, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) //nolint:gosec // G302/G304: advisory lock file under our own index dir
	if err != nil {
		return nil, err
	}

	host, _ := os.Hostname()
	state := State{
		PID:         os.Getpid(),
		Owner:       owner,
		Command:     command,
		Host:        host,
		StartedAt:   now.UTC(),
		HeartbeatAt: now.UTC(),
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(state); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("write lock state: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return &Guard{path: path, state: state}, nil
}

// Heartbeat rewrites the lock state with a fresh heartbeat timestamp. It
// keeps a long-running cycle's hold from looking abandoned.
func (g *Guard) Heartbeat() error {
	if g == nil || g.released {
		return nil
	}
	g.state.HeartbeatAt = time.Now().UTC()
	b, err := json.Marshal(g.state)
	if err != nil {
		return err
	}
	// Plain truncate-write: the file is small and readers tolerate a torn
	// read by treating it as stale.
	return os.WriteFile(g.path, append(b, '\n'), 0o644) //nolint:gosec // G306: lock state is not sensitive
}

// Release unlinks the lock, but only when the file still records our pid —
// a reclaiming process may have replaced it while we were presumed dead.
func (g *Guard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	state, err := readState(g.path)
	if err != nil || state.PID != g.state.PID {
		return
	}
	_ = os.Remove(g.path)
}

// Path returns the lock file location.
func (g *Guard) Path() string { return g.path }

func readState(path string) (State, error) {
	b, err := os.ReadFile(path) //nolint:gosec // G304: lock path comes from the layout
	if err != nil {
		return State{}, err
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return State{}, fmt.Errorf("parse lock state: %w", err)
	}
	if s.PID == 0 {
		return State{}, errors.New("lock state missing pid")
	}
	return s, nil
}

// holderAlive reports whether the recorded holder is still live on this host
// and recently heartbeating. A holder on another host cannot be probed, so
// only its heartbeat age is considered.
func holderAlive(s State, now time.Time, staleSeconds int) bool {
	if now.Sub(s.HeartbeatAt) > time.Duration(staleSeconds)*time.Second {
		return false
	}
	host, _ := os.Hostname()
	if s.Host != "" && host != "" && s.Host != host {
		return true
	}
	return pidAlive(s.PID)
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 performs the permission/existence check without delivering
	// anything. EPERM means the pid exists under another user.
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
