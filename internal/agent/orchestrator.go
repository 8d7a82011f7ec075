package agent

import (
	"context"
	"time"

	"github.com/dotcommander/lerim/internal/access"
	"github.com/dotcommander/lerim/internal/models"
	"github.com/dotcommander/lerim/internal/workspace"
)

// SyncTask is everything the orchestrator needs to process one claimed
// extract job. The run folder already exists; the orchestrator is responsible
// for leaving the full sync artifact set behind.
type SyncTask struct {
	RunID      string
	AgentType  string
	TracePath  string
	RepoName   string
	Run        *workspace.Run
	MemoryRoot string
	// WorkspaceRoot and CacheDir round out the read boundary.
	WorkspaceRoot string
	CacheDir      string
	StartTime     time.Time
}

// MaintainTask drives one maintenance run over the memory tree.
type MaintainTask struct {
	Run           *workspace.Run
	MemoryRoot    string
	WorkspaceRoot string
	AccessStats   map[string]models.AccessRecord
	Policy        access.Policy
}

// Orchestrator is the narrow interface the pipelines reach the LLM through.
// Implementations run an in-process tool loop, bridge to an external agent
// subprocess, or stub the whole thing for tests — the artifact contract is
// the same either way.
type Orchestrator interface {
	RunSync(ctx context.Context, task SyncTask) error
	RunMaintain(ctx context.Context, task MaintainTask) error
	Chat(ctx context.Context, question string, limit int) (string, error)
}
