package models

import (
	"encoding/json"
	"time"
)

// ID strategy:
// - session_docs and service_runs use int64 rowids (append-mostly, efficient indexing)
// - run_id is the cross-adapter session identity: "{platform}-{native id}",
//   unique across all adapters
// - background API jobs use UUIDs (handed back to the caller immediately)

// JobTypeExtract names the only queued job family today; the column exists
// so future job kinds share the same queue. Service-run audit rows use the
// ServiceJob constants instead.
const JobTypeExtract = "extract"

// DefaultMaxAttempts is how many times a queue job may run before it is
// moved to the dead letter state.
const DefaultMaxAttempts = 3

// JobStatus represents the state of a queue job.
type JobStatus string

// Job status constants. Legal transitions:
//
//	pending  -> running     (claim)
//	running  -> done        (complete)
//	running  -> failed      (error, attempts < max_attempts; available_at pushed out)
//	running  -> dead_letter (error, attempts >= max_attempts)
//	running  -> pending     (stale reclaim: heartbeat older than claim timeout)
//	failed   -> running     (claim after available_at)
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusRunning    JobStatus = "running"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDeadLetter JobStatus = "dead_letter"
)

// IsTerminal returns true when the job can never run again without a forced re-enqueue.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusDeadLetter
}

// AllJobStatuses returns the canonical status set, used to zero-fill count maps.
func AllJobStatuses() []JobStatus {
	return []JobStatus{JobStatusPending, JobStatusRunning, JobStatusDone, JobStatusFailed, JobStatusDeadLetter}
}

// RetryBackoffSeconds returns the retry delay after the given attempt count:
// 30s doubling per attempt, capped at one hour.
func RetryBackoffSeconds(attempts int) int {
	if attempts < 1 {
		attempts = 1
	}
	secs := 30
	for i := 1; i < attempts; i++ {
		secs *= 2
		if secs >= 3600 {
			return 3600
		}
	}
	return secs
}

// Job is one durable unit of extraction work keyed by (run_id, job_type).
type Job struct {
	ID          int64      `json:"id"`
	RunID       string     `json:"run_id"`
	JobType     string     `json:"job_type"`
	AgentType   string     `json:"agent_type,omitempty"`
	SessionPath string     `json:"session_path,omitempty"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Trigger     string     `json:"trigger,omitempty"`
	AvailableAt time.Time  `json:"available_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SessionRecord is the indexed view of one coding-agent session.
// Content and TurnsJSON can be large; they stay out of JSON payloads and are
// fetched explicitly where needed.
type SessionRecord struct {
	ID            int64      `json:"id,omitempty"`
	RunID         string     `json:"run_id"`
	AgentType     string     `json:"agent_type"`
	SessionPath   string     `json:"session_path"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	RepoPath      string     `json:"repo_path,omitempty"`
	RepoName      string     `json:"repo_name,omitempty"`
	Status        string     `json:"status,omitempty"`
	DurationMS    int64      `json:"duration_ms,omitempty"`
	MessageCount  int        `json:"message_count"`
	ToolCallCount int        `json:"tool_call_count"`
	ErrorCount    int        `json:"error_count"`
	TotalTokens   int64      `json:"total_tokens"`
	Summaries     []string   `json:"summaries,omitempty"`
	SummaryText   string     `json:"summary_text,omitempty"`
	Tags          string     `json:"tags,omitempty"`
	Outcome       string     `json:"outcome,omitempty"`
	ContentHash   string     `json:"content_hash"`
	Content       string     `json:"-"`
	TurnsJSON     string     `json:"-"`
	Changed       bool       `json:"changed,omitempty"`
	IndexedAt     time.Time  `json:"indexed_at,omitempty"`
	Snippet       string     `json:"snippet,omitempty"`
}

// Service job types recorded in the audit log.
const (
	ServiceJobSync     = "sync"
	ServiceJobMaintain = "maintain"
)

// ServiceRunStatus is the outcome of one sync or maintain cycle.
type ServiceRunStatus string

// Service run status constants. lock_busy is an expected outcome, not a failure.
const (
	ServiceRunCompleted ServiceRunStatus = "completed"
	ServiceRunPartial   ServiceRunStatus = "partial"
	ServiceRunFailed    ServiceRunStatus = "failed"
	ServiceRunLockBusy  ServiceRunStatus = "lock_busy"
)

// ServiceRun is one append-only audit row for a sync or maintain invocation.
type ServiceRun struct {
	ID          int64            `json:"id"`
	JobType     string           `json:"job_type"`
	Status      ServiceRunStatus `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Trigger     string           `json:"trigger,omitempty"`
	Details     json.RawMessage  `json:"details,omitempty"`
}

// AccessRecord tracks when and how often a memory file was read or written.
type AccessRecord struct {
	MemoryID     string    `json:"memory_id"`
	MemoryRoot   string    `json:"memory_root"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int       `json:"access_count"`
}

// Platform is one connected session source in the registry.
type Platform struct {
	Name        string    `json:"name"`
	SourcePath  string    `json:"source_path"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Project is one registered project root.
type Project struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	AddedAt time.Time `json:"added_at"`
}

// Primitive is the kind of a memory file.
type Primitive string

// Memory primitive constants.
const (
	PrimitiveDecision Primitive = "decision"
	PrimitiveLearning Primitive = "learning"
	PrimitiveSummary  Primitive = "summary"
)

// Valid reports whether p is a known primitive kind.
func (p Primitive) Valid() bool {
	switch p {
	case PrimitiveDecision, PrimitiveLearning, PrimitiveSummary:
		return true
	}
	return false
}

// LearningKind classifies a learning primitive.
type LearningKind string

// Learning kind constants.
const (
	LearningInsight    LearningKind = "insight"
	LearningProcedure  LearningKind = "procedure"
	LearningFriction   LearningKind = "friction"
	LearningPitfall    LearningKind = "pitfall"
	LearningPreference LearningKind = "preference"
)

// Valid reports whether k is a known learning kind.
func (k LearningKind) Valid() bool {
	switch k {
	case LearningInsight, LearningProcedure, LearningFriction, LearningPitfall, LearningPreference:
		return true
	}
	return false
}

// ViewerMessage is one normalized message inside a ViewerSession.
type ViewerMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
	IsError   bool       `json:"is_error,omitempty"`
}

// ViewerSession is the adapter-normalized form of a raw session transcript.
type ViewerSession struct {
	SessionID         string          `json:"session_id"`
	CWD               string          `json:"cwd,omitempty"`
	GitBranch         string          `json:"git_branch,omitempty"`
	Messages          []ViewerMessage `json:"messages"`
	TotalInputTokens  int64           `json:"total_input_tokens"`
	TotalOutputTokens int64           `json:"total_output_tokens"`
	Meta              map[string]any  `json:"meta,omitempty"`
}

// SyncCounts aggregates the add/update/no_op decisions of one extract run.
type SyncCounts struct {
	Add    int `json:"add"`
	Update int `json:"update"`
	NoOp   int `json:"no_op"`
}

// Total returns the number of candidates the counts cover.
func (c SyncCounts) Total() int { return c.Add + c.Update + c.NoOp }

// SyncSummary is the result of one sync cycle.
type SyncSummary struct {
	IndexedSessions   int      `json:"indexed_sessions"`
	ExtractedSessions int      `json:"extracted_sessions"`
	SkippedSessions   int      `json:"skipped_sessions"`
	FailedSessions    int      `json:"failed_sessions"`
	LearningsNew      int      `json:"learnings_new"`
	LearningsUpdated  int      `json:"learnings_updated"`
	RunIDs            []string `json:"run_ids"`
	Window            string   `json:"window,omitempty"`
	DryRun            bool     `json:"dry_run,omitempty"`
}

// MaintainCounts aggregates the actions of one maintain cycle.
type MaintainCounts struct {
	Merged       int `json:"merged"`
	Archived     int `json:"archived"`
	Consolidated int `json:"consolidated"`
	Decayed      int `json:"decayed"`
	Unchanged    int `json:"unchanged"`
}

// MaintainSummary is the result of one maintain cycle.
type MaintainSummary struct {
	MemoryRoot    string         `json:"memory_root"`
	WorkspaceRoot string         `json:"workspace_root"`
	RunFolder     string         `json:"run_folder,omitempty"`
	Artifacts     []string       `json:"artifacts,omitempty"`
	Counts        MaintainCounts `json:"counts"`
	DryRun        bool           `json:"dry_run,omitempty"`
}
