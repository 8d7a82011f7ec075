// Package actions holds the operations shared by the CLI and the HTTP API,
// so both surfaces return the same shapes.
package actions

import (
	"github.com/dotcommander/lerim/internal/app"
	"github.com/dotcommander/lerim/internal/memory"
	"github.com/dotcommander/lerim/internal/models"
	"github.com/dotcommander/lerim/internal/store"
)

// StatusReport aggregates everything `lerim status` and GET /api/status show.
type StatusReport struct {
	Root           string                   `json:"root"`
	Sessions       int                      `json:"sessions"`
	Queue          map[models.JobStatus]int `json:"queue"`
	ActiveMemories int                      `json:"memories"`
	TrackedReads   int                      `json:"tracked_reads"`
	Platforms      []models.Platform        `json:"platforms"`
	Projects       []models.Project         `json:"projects"`
	LastSync       *models.ServiceRun       `json:"last_sync,omitempty"`
	LastMaintain   *models.ServiceRun       `json:"last_maintain,omitempty"`
	SchemaCurrent  int64                    `json:"schema_current"`
	SchemaLatest   int64                    `json:"schema_latest"`
}

// Status collects the report. Partial failures are real failures here: a
// status that silently omits the queue is worse than an error.
func Status(rt *app.Runtime) (*StatusReport, error) {
	sessions, err := store.CountSessionDocs(rt.Sessions)
	if err != nil {
		return nil, err
	}
	queue, err := store.CountJobsByStatus(rt.Sessions)
	if err != nil {
		return nil, err
	}
	memories, err := memory.CountActive(rt.Layout.MemoryRoot())
	if err != nil {
		return nil, err
	}
	tracked, err := rt.Tracker.Count(rt.Layout.MemoryRoot())
	if err != nil {
		return nil, err
	}
	lastSync, err := store.LatestServiceRun(rt.Sessions, models.ServiceJobSync)
	if err != nil {
		return nil, err
	}
	lastMaintain, err := store.LatestServiceRun(rt.Sessions, models.ServiceJobMaintain)
	if err != nil {
		return nil, err
	}
	current, latest, err := store.SchemaVersion(rt.Sessions)
	if err != nil {
		return nil, err
	}

	return &StatusReport{
		Root:           rt.Layout.Root,
		Sessions:       sessions,
		Queue:          queue,
		ActiveMemories: memories,
		TrackedReads:   tracked,
		Platforms:      rt.Platforms.List(),
		Projects:       rt.Projects.List(),
		LastSync:       lastSync,
		LastMaintain:   lastMaintain,
		SchemaCurrent:  current,
		SchemaLatest:   latest,
	}, nil
}
