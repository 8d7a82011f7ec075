package agent

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dotcommander/lerim/internal/contract"
	"github.com/dotcommander/lerim/internal/memory"
	"github.com/dotcommander/lerim/internal/models"
	"github.com/dotcommander/lerim/internal/workspace"
)

// Stub is the deterministic orchestrator used by tests and dry runs: no LLM,
// no network. It applies the real decision policy to a fixed candidate list
// and writes a contract-complete artifact set, so everything downstream of
// the orchestrator is exercised for real.
type Stub struct {
	// Candidates returns the primitives "extracted" from a trace. Nil means
	// one canned learning per session.
	Candidates func(tracePath string) []memory.Candidate
	// Err, when set, makes every run fail — for retry/dead-letter tests.
	Err error
	// MaintainCounts seeds the maintain report. Zero value reports every
	// active memory unchanged.
	MaintainCounts *models.MaintainCounts
	// ChatAnswer is returned verbatim by Chat.
	ChatAnswer string
}

func (s *Stub) candidates(tracePath string) []memory.Candidate {
	if s.Candidates != nil {
		return s.Candidates(tracePath)
	}
	return []memory.Candidate{{
		Primitive:  models.PrimitiveLearning,
		Title:      "Session produced a reusable lesson",
		Body:       "Extracted from " + filepath.Base(tracePath) + ".",
		Kind:       string(models.LearningInsight),
		Confidence: 0.7,
	}}
}

// RunSync applies the decision policy and writes the full sync artifact set.
func (s *Stub) RunSync(_ context.Context, task SyncTask) error {
	if s.Err != nil {
		return s.Err
	}

	cands := s.candidates(task.TracePath)
	if err := task.Run.WriteArtifact(workspace.ArtifactExtract, cands); err != nil {
		return err
	}

	existing, err := memory.List(task.MemoryRoot, memory.ListOptions{})
	if err != nil {
		return err
	}

	var counts models.SyncCounts
	var actions []contract.Action
	var written []string
	for _, c := range cands {
		decision, matched := memory.Decide(existing, c)
		switch decision {
		case memory.DecideNoOp:
			counts.NoOp++
			actions = append(actions, contract.Action{Type: "no_op", Title: c.Title, Path: matched.Path})
		case memory.DecideUpdate:
			// Updates rewrite the matched file in place, keeping its id and
			// created time.
			f := &memory.File{
				Front: memory.Frontmatter{
					ID:      matched.ID,
					Title:   matched.Title,
					Kind:    matched.Kind,
					Tags:    matched.Tags,
					Created: matched.Created,
					Updated: memory.Timestamp(task.Run.StartedAt),
					Source:  matched.Source,
				},
				Body: c.Body + "\n",
			}
			rendered, err := f.Render()
			if err != nil {
				return err
			}
			if err := memory.WriteFileAtomic(matched.Path, []byte(rendered)); err != nil {
				return err
			}
			counts.Update++
			actions = append(actions, contract.Action{Type: "update", Title: matched.Title, Path: matched.Path})
			written = append(written, matched.Path)
		default:
			dir := "learnings"
			if c.Primitive == models.PrimitiveDecision {
				dir = "decisions"
			}
			conf := c.Confidence
			f := &memory.File{
				Front: memory.Frontmatter{Title: c.Title, Kind: c.Kind, Tags: c.Tags, Confidence: &conf},
				Body:  c.Body + "\n",
			}
			rendered, err := f.Render()
			if err != nil {
				return err
			}
			path, err := memory.WriteNormalized(memory.WriteRequest{
				MemoryRoot:    task.MemoryRoot,
				RequestedPath: filepath.Join(task.MemoryRoot, dir, "candidate.md"),
				RunID:         task.RunID,
				Content:       rendered,
			})
			if err != nil {
				return err
			}
			counts.Add++
			actions = append(actions, contract.Action{Type: "add", Title: c.Title, Path: path})
			written = append(written, path)
		}
	}

	summaryPath, err := memory.WriteSummary(task.MemoryRoot, task.Run.StartedAt,
		"summary "+task.RunID, fmt.Sprintf("---\ntitle: summary %s\nrun_id: %s\n---\n\nStub summary.\n", task.RunID, task.RunID))
	if err != nil {
		return err
	}
	if err := task.Run.WriteArtifact(workspace.ArtifactSummary, map[string]string{"summary_path": summaryPath}); err != nil {
		return err
	}
	if err := task.Run.WriteArtifact(workspace.ArtifactMemoryActions, map[string]any{
		"counts":               counts,
		"actions":              actions,
		"written_memory_paths": written,
		"trace_path":           task.TracePath,
	}); err != nil {
		return err
	}
	if err := task.Run.AppendSubagentLog(map[string]any{"task": "stub", "result": "ok"}); err != nil {
		return err
	}
	return task.Run.AppendAgentLog("stub sync run complete\n")
}

// RunMaintain writes a contract-complete maintain report without touching the
// memory tree.
func (s *Stub) RunMaintain(_ context.Context, task MaintainTask) error {
	if s.Err != nil {
		return s.Err
	}
	counts := models.MaintainCounts{}
	if s.MaintainCounts != nil {
		counts = *s.MaintainCounts
	} else {
		entries, err := memory.List(task.MemoryRoot, memory.ListOptions{})
		if err != nil {
			return err
		}
		counts.Unchanged = len(entries)
	}
	if err := task.Run.WriteArtifact(workspace.ArtifactMaintain, map[string]any{
		"counts":  counts,
		"actions": []contract.Action{},
	}); err != nil {
		return err
	}
	if err := task.Run.AppendSubagentLog(map[string]any{"task": "stub", "result": "ok"}); err != nil {
		return err
	}
	return task.Run.AppendAgentLog("stub maintain run complete\n")
}

// Chat returns the canned answer.
func (s *Stub) Chat(context.Context, string, int) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	if s.ChatAnswer != "" {
		return s.ChatAnswer, nil
	}
	return "no relevant memories found", nil
}
