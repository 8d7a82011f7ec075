package agent

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/lerim/internal/access"
	"github.com/dotcommander/lerim/internal/config"
	"github.com/dotcommander/lerim/internal/llm"
	"github.com/dotcommander/lerim/internal/models"
)

// defaultMaxTurns bounds the tool loop when the role config does not.
const defaultMaxTurns = 25

// Inproc runs the lead agent as an in-process tool loop over an llm.Provider.
type Inproc struct {
	Config   *config.Config
	Provider ProviderFor
	Tracker  *access.Tracker
	Logger   *slog.Logger
	// MemoryRoot is the tree chat-mode runs against; sync and maintain carry
	// their own roots in the task.
	MemoryRoot string
}

// NewInproc builds the in-process orchestrator. provider may be nil, in which
// case roles resolve through the config's provider registry.
func NewInproc(cfg *config.Config, tracker *access.Tracker, logger *slog.Logger) *Inproc {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inproc{
		Config: cfg,
		Provider: func(role string) (llm.Provider, config.RoleConfig, error) {
			return llm.ForRole(cfg, role)
		},
		Tracker: tracker,
		Logger:  logger.With("component", "agent"),
	}
}

// RunSync drives one extract job: tool loop in sync mode, with the pipelines
// bound to this run.
func (o *Inproc) RunSync(ctx context.Context, task SyncTask) error {
	tb := &Toolbox{
		Mode:       ModeSync,
		MemoryRoot: task.MemoryRoot,
		Run:        task.Run,
		RunID:      task.RunID,
		ReadRoots:  readRoots(task),
		WriteRoots: []string{task.MemoryRoot, task.Run.Dir},
		Tracker:    o.Tracker,
		Pipelines: &Pipelines{
			Provider:   o.Provider,
			MemoryRoot: task.MemoryRoot,
			RunID:      task.RunID,
			RunTime:    task.Run.StartedAt,
			AgentType:  task.AgentType,
			RepoName:   task.RepoName,
			Logger:     o.Logger,
		},
		Explore: o.exploreFunc(task.MemoryRoot, readRoots(task), task),
	}

	prompt := BuildSyncPrompt(task.RunID, task.AgentType, task.TracePath, task.Run.Dir, task.MemoryRoot)
	final, err := o.loop(ctx, config.RoleLead, tb, prompt)
	if err != nil {
		return err
	}
	return task.Run.AppendAgentLog(final + "\n")
}

// RunMaintain drives one maintenance run in maintain mode.
func (o *Inproc) RunMaintain(ctx context.Context, task MaintainTask) error {
	roots := []string{task.MemoryRoot, task.WorkspaceRoot, task.Run.Dir}
	tb := &Toolbox{
		Mode:       ModeMaintain,
		MemoryRoot: task.MemoryRoot,
		Run:        task.Run,
		ReadRoots:  roots,
		WriteRoots: []string{task.MemoryRoot, task.Run.Dir},
		Tracker:    o.Tracker,
		Explore:    o.exploreFunc(task.MemoryRoot, roots, SyncTask{Run: task.Run}),
	}

	prompt := BuildMaintainPrompt(task.MemoryRoot, task.Run.Dir, task.AccessStats, task.Policy)
	final, err := o.loop(ctx, config.RoleLead, tb, prompt)
	if err != nil {
		return err
	}
	return task.Run.AppendAgentLog(final + "\n")
}

// Chat answers a question over the memory tree with the read-only tool set.
func (o *Inproc) Chat(ctx context.Context, question string, limit int) (string, error) {
	tb := &Toolbox{
		Mode:       ModeChat,
		MemoryRoot: o.MemoryRoot,
		ReadRoots:  []string{o.MemoryRoot},
		Tracker:    o.Tracker,
	}
	tb.Explore = o.exploreFunc(o.MemoryRoot, tb.ReadRoots, SyncTask{})
	return o.loop(ctx, config.RoleLead, tb, BuildChatPrompt(o.MemoryRoot, question, limit))
}

// loop is the shared agent turn loop: send the conversation with the mode's
// tool specs, execute every requested tool call (in parallel within one
// turn), feed the results back, and stop when the model answers with no tool
// calls or the turn budget runs out.
func (o *Inproc) loop(ctx context.Context, role string, tb *Toolbox, prompt string) (string, error) {
	provider, rc, err := o.Provider(role)
	if err != nil {
		return "", err
	}
	maxTurns := rc.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}
	specs := tb.Specs()

	for turn := 0; turn < maxTurns; turn++ {
		resp, err := provider.Chat(ctx, llm.Request{
			Model:       rc.Model,
			Messages:    messages,
			Tools:       specs,
			Temperature: rc.Temperature,
			MaxTokens:   rc.MaxTokens,
		})
		if err != nil {
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		// The contract allows extract_pipeline and summarize_pipeline in one
		// turn; running every turn's calls concurrently covers that.
		results := make([]string, len(resp.ToolCalls))
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for i, call := range resp.ToolCalls {
			g.Go(func() error {
				out := tb.Execute(gctx, call)
				mu.Lock()
				results[i] = out
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return "", err
		}
		for i, call := range resp.ToolCalls {
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    results[i],
				ToolCallID: call.ID,
			})
		}
	}
	return "", &models.PipelineError{Stage: "agent", Err: fmt.Errorf("turn budget exhausted after %d turns", maxTurns)}
}

// exploreFunc builds the read-only subagent delegate: a bounded chat loop
// with the explorer role over the same read roots, no write tools.
func (o *Inproc) exploreFunc(memoryRoot string, roots []string, task SyncTask) ExploreFunc {
	return func(ctx context.Context, taskText string) (string, error) {
		sub := &Toolbox{
			Mode:       ModeChat,
			MemoryRoot: memoryRoot,
			Run:        task.Run,
			ReadRoots:  roots,
			Tracker:    o.Tracker,
		}
		// Explorers cannot delegate further: one level of fan-out only.
		sub.Explore = func(context.Context, string) (string, error) {
			return "", fmt.Errorf("explore is not available to subagents")
		}
		return o.loop(ctx, config.RoleExplorer, sub, taskText)
	}
}

func readRoots(task SyncTask) []string {
	roots := []string{task.MemoryRoot, task.WorkspaceRoot, task.Run.Dir}
	if task.CacheDir != "" {
		roots = append(roots, task.CacheDir)
	}
	if task.TracePath != "" {
		roots = append(roots, filepath.Dir(task.TracePath))
	}
	return roots
}
