package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/dotcommander/lerim/internal/config"
	"github.com/dotcommander/lerim/internal/models"
)

const disableSubprocessEnv = "LERIM_DISABLE_SUBPROCESS"

// stderrCap bounds how much subprocess stderr is kept for error messages.
const stderrCap = 4096

// Subprocess bridges to an external agent CLI: the prompt goes in on stdin,
// the child owns its own LLM auth and tool loop, and the artifact contract is
// validated after it exits. The child receives the run boundary in its
// environment.
type Subprocess struct {
	Command string
	Args    []string
	Logger  *slog.Logger
}

// NewSubprocess validates the configured command and builds the bridge.
func NewSubprocess(cfg config.SubprocessConfig, logger *slog.Logger) (*Subprocess, error) {
	if strings.TrimSpace(os.Getenv(disableSubprocessEnv)) != "" {
		return nil, fmt.Errorf("subprocess agent execution disabled by %s", disableSubprocessEnv)
	}
	if cfg.Command == "" {
		return nil, &models.ConfigError{Field: "llm.subprocess.command", Reason: "no command configured for subprocess mode"}
	}
	if _, err := exec.LookPath(cfg.Command); err != nil {
		return nil, fmt.Errorf("agent command %q not found in PATH: %w", cfg.Command, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subprocess{Command: cfg.Command, Args: cfg.Args, Logger: logger.With("component", "agent")}, nil
}

// limitedWriter caps captured bytes, discarding overflow. Buggy or hostile
// children cannot grow our memory with unbounded stderr.
type limitedWriter struct {
	buf      bytes.Buffer
	maxBytes int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	originalLen := len(p)
	remaining := w.maxBytes - w.buf.Len()
	if remaining <= 0 {
		return originalLen, nil
	}
	if len(p) > remaining {
		p = p[:remaining]
	}
	w.buf.Write(p)
	return originalLen, nil
}

// RunSync invokes the child for one extract job. The child writes the
// artifact set into the run folder itself.
func (s *Subprocess) RunSync(ctx context.Context, task SyncTask) error {
	prompt := BuildSyncPrompt(task.RunID, task.AgentType, task.TracePath, task.Run.Dir, task.MemoryRoot)
	env := []string{
		"LERIM_RUN_DIR=" + task.Run.Dir,
		"LERIM_MEMORY_ROOT=" + task.MemoryRoot,
		"LERIM_TRACE_PATH=" + task.TracePath,
		"LERIM_RUN_ID=" + task.RunID,
	}
	out, err := s.run(ctx, prompt, env)
	if err != nil {
		return err
	}
	return task.Run.AppendAgentLog(out + "\n")
}

// RunMaintain invokes the child for one maintenance run.
func (s *Subprocess) RunMaintain(ctx context.Context, task MaintainTask) error {
	prompt := BuildMaintainPrompt(task.MemoryRoot, task.Run.Dir, task.AccessStats, task.Policy)
	env := []string{
		"LERIM_RUN_DIR=" + task.Run.Dir,
		"LERIM_MEMORY_ROOT=" + task.MemoryRoot,
	}
	out, err := s.run(ctx, prompt, env)
	if err != nil {
		return err
	}
	return task.Run.AppendAgentLog(out + "\n")
}

// Chat forwards a question to the child and returns its stdout.
func (s *Subprocess) Chat(ctx context.Context, question string, limit int) (string, error) {
	return s.run(ctx, BuildChatPrompt("", question, limit), nil)
}

func (s *Subprocess) run(ctx context.Context, prompt string, extraEnv []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context expired before exec: %w", err)
	}
	if strings.ContainsRune(prompt, 0) {
		return "", errors.New("prompt contains null byte")
	}

	cmd := exec.CommandContext(ctx, s.Command, s.Args...) //nolint:gosec // G204: command validated with LookPath at construction
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout bytes.Buffer
	stderrW := &limitedWriter{maxBytes: stderrCap}
	cmd.Stdout = &stdout
	cmd.Stderr = stderrW

	if err := cmd.Run(); err != nil {
		stderrMsg := strings.TrimSpace(stderrW.buf.String())
		if stderrW.buf.Len() >= stderrW.maxBytes {
			stderrMsg += " (truncated)"
		}
		return "", &models.PipelineError{
			Stage: "subprocess",
			Err:   fmt.Errorf("%s failed: %w: %s", s.Command, err, stderrMsg),
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}
