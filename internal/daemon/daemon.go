// Package daemon schedules background sync and maintain cycles on
// independent intervals.
package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Cycle is one schedulable unit of work.
type Cycle func(ctx context.Context) error

// Worker runs the two cycles on their intervals until stopped. Cycle
// failures are logged and the loop keeps going; a broken LLM must not kill
// the scheduler.
type Worker struct {
	SyncInterval     time.Duration
	MaintainInterval time.Duration
	Sync             Cycle
	Maintain         Cycle
	Logger           *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a worker from interval minutes and the two cycle funcs.
func New(syncMinutes, maintainMinutes int, syncCycle, maintainCycle Cycle, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		SyncInterval:     time.Duration(syncMinutes) * time.Minute,
		MaintainInterval: time.Duration(maintainMinutes) * time.Minute,
		Sync:             syncCycle,
		Maintain:         maintainCycle,
		Logger:           logger.With("component", "daemon"),
		stop:             make(chan struct{}),
	}
}

// RunOnce runs one sync cycle followed by one maintain cycle. Both run even
// if the first fails; the first error is returned.
func (w *Worker) RunOnce(ctx context.Context) error {
	syncErr := w.runCycle(ctx, "sync", w.Sync)
	maintainErr := w.runCycle(ctx, "maintain", w.Maintain)
	if syncErr != nil {
		return syncErr
	}
	return maintainErr
}

// Start launches the scheduler goroutine. Both cycles run immediately on
// start, then on their intervals.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
}

// Stop signals the scheduler and waits for the in-flight cycle to finish.
// Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}

// Wait blocks until the scheduler goroutine exits.
func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) loop(ctx context.Context) {
	now := time.Now()
	nextSync := now
	nextMaintain := now

	for {
		now = time.Now()
		// Sync first when both are due.
		if !now.Before(nextSync) {
			_ = w.runCycle(ctx, "sync", w.Sync)
			nextSync = time.Now().Add(w.SyncInterval)
		}
		if !now.Before(nextMaintain) {
			_ = w.runCycle(ctx, "maintain", w.Maintain)
			nextMaintain = time.Now().Add(w.MaintainInterval)
		}

		sleep := time.Until(earlier(nextSync, nextMaintain))
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

func (w *Worker) runCycle(ctx context.Context, name string, cycle Cycle) error {
	if cycle == nil {
		return nil
	}
	started := time.Now()
	err := cycle(ctx)
	if err != nil {
		w.Logger.Warn("cycle failed", "cycle", name, "elapsed", time.Since(started), "err", err)
		return err
	}
	w.Logger.Debug("cycle finished", "cycle", name, "elapsed", time.Since(started))
	return nil
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
