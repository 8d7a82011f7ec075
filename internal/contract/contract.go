// Package contract validates the workspace artifact sets the runtime agent
// must leave behind. The LLM surface stays loose; everything downstream works
// from the one typed result produced here.
package contract

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dotcommander/lerim/internal/models"
	"github.com/dotcommander/lerim/internal/workspace"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// Action is one recorded agent action, shared between the sync and maintain
// reports.
type Action struct {
	Type       string `json:"type"`
	Title      string `json:"title,omitempty"`
	Path       string `json:"path,omitempty"`
	SourcePath string `json:"source_path,omitempty"`
	TargetPath string `json:"target_path,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// SyncResult is the validated outcome of one extract job.
type SyncResult struct {
	Counts             models.SyncCounts `json:"counts"`
	Actions            []Action          `json:"actions,omitempty"`
	WrittenMemoryPaths []string          `json:"written_memory_paths,omitempty"`
	TracePath          string            `json:"trace_path,omitempty"`
	SummaryPath        string            `json:"summary_path"`
	RunDir             string            `json:"run_dir"`
}

// MaintainResult is the validated outcome of one maintain run.
type MaintainResult struct {
	Counts  models.MaintainCounts `json:"counts"`
	Actions []Action              `json:"actions,omitempty"`
	RunDir  string                `json:"run_dir"`
}

// rawReport is the loose shape both action artifacts share before alias
// folding and path checks.
type rawReport struct {
	Counts             map[string]int `json:"counts"`
	Actions            []Action       `json:"actions"`
	WrittenMemoryPaths []string       `json:"written_memory_paths"`
	TracePath          string         `json:"trace_path"`
}

// ValidateSync checks the sync artifact contract for runDir and returns the
// typed result. Violations are ArtifactErrors: Missing for absent files,
// otherwise the reason names the failing rule.
func ValidateSync(runDir, memoryRoot string) (*SyncResult, error) {
	for _, name := range []string{
		workspace.ArtifactExtract,
		workspace.ArtifactSummary,
		workspace.ArtifactMemoryActions,
		workspace.SubagentsLogName,
	} {
		if _, err := os.Stat(filepath.Join(runDir, name)); err != nil {
			return nil, &models.ArtifactError{Artifact: name, Missing: true}
		}
	}

	var summaryPtr struct {
		SummaryPath string `json:"summary_path"`
	}
	if err := workspace.ReadArtifact(runDir, workspace.ArtifactSummary, &summaryPtr); err != nil {
		return nil, &models.ArtifactError{Artifact: workspace.ArtifactSummary, Reason: err.Error()}
	}
	if summaryPtr.SummaryPath == "" {
		return nil, &models.ArtifactError{Artifact: workspace.ArtifactSummary, Reason: "summary_path is empty"}
	}
	if !pathInside(summaryPtr.SummaryPath, memoryRoot) {
		return nil, &models.ArtifactError{
			Artifact: workspace.ArtifactSummary,
			Reason:   fmt.Sprintf("summary_path %q is outside the memory root", summaryPtr.SummaryPath),
		}
	}
	if _, err := os.Stat(summaryPtr.SummaryPath); err != nil {
		return nil, &models.ArtifactError{
			Artifact: workspace.ArtifactSummary,
			Reason:   fmt.Sprintf("summary_path %q does not exist", summaryPtr.SummaryPath),
		}
	}

	if err := validateSchema(runDir, workspace.ArtifactMemoryActions, "schemas/sync_result.schema.json"); err != nil {
		return nil, err
	}

	var raw rawReport
	if err := workspace.ReadArtifact(runDir, workspace.ArtifactMemoryActions, &raw); err != nil {
		return nil, &models.ArtifactError{Artifact: workspace.ArtifactMemoryActions, Reason: err.Error()}
	}

	for _, p := range raw.WrittenMemoryPaths {
		if !pathInside(p, memoryRoot) && !pathInside(p, runDir) {
			return nil, &models.ArtifactError{
				Artifact: workspace.ArtifactMemoryActions,
				Reason:   fmt.Sprintf("written memory path %q is outside the memory root and run folder", p),
			}
		}
	}

	return &SyncResult{
		Counts: models.SyncCounts{
			Add:    countAlias(raw.Counts, "add", "added", "adds"),
			Update: countAlias(raw.Counts, "update", "updated", "updates"),
			NoOp:   countAlias(raw.Counts, "no_op", "noop", "no-op", "skip", "skipped"),
		},
		Actions:            raw.Actions,
		WrittenMemoryPaths: raw.WrittenMemoryPaths,
		TracePath:          raw.TracePath,
		SummaryPath:        summaryPtr.SummaryPath,
		RunDir:             runDir,
	}, nil
}

// ValidateMaintain checks the maintain artifact contract for runDir.
func ValidateMaintain(runDir, memoryRoot string) (*MaintainResult, error) {
	if _, err := os.Stat(filepath.Join(runDir, workspace.ArtifactMaintain)); err != nil {
		return nil, &models.ArtifactError{Artifact: workspace.ArtifactMaintain, Missing: true}
	}
	if err := validateSchema(runDir, workspace.ArtifactMaintain, "schemas/maintain_result.schema.json"); err != nil {
		return nil, err
	}

	var raw rawReport
	if err := workspace.ReadArtifact(runDir, workspace.ArtifactMaintain, &raw); err != nil {
		return nil, &models.ArtifactError{Artifact: workspace.ArtifactMaintain, Reason: err.Error()}
	}

	for _, a := range raw.Actions {
		for _, p := range []string{a.SourcePath, a.TargetPath} {
			if p == "" {
				continue
			}
			if !pathInside(p, memoryRoot) && !pathInside(p, runDir) {
				return nil, &models.ArtifactError{
					Artifact: workspace.ArtifactMaintain,
					Reason:   fmt.Sprintf("action path %q is outside the memory root and run folder", p),
				}
			}
		}
	}

	return &MaintainResult{
		Counts: models.MaintainCounts{
			Merged:       countAlias(raw.Counts, "merged", "merge"),
			Archived:     countAlias(raw.Counts, "archived", "archive"),
			Consolidated: countAlias(raw.Counts, "consolidated", "consolidate"),
			Decayed:      countAlias(raw.Counts, "decayed", "decay"),
			Unchanged:    countAlias(raw.Counts, "unchanged", "kept"),
		},
		Actions: raw.Actions,
		RunDir:  runDir,
	}, nil
}

func validateSchema(runDir, artifact, schemaPath string) error {
	schemaBytes, err := schemaFS.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("load embedded schema %s: %w", schemaPath, err)
	}
	docBytes, err := os.ReadFile(filepath.Join(runDir, artifact)) //nolint:gosec // G304: run dirs come from our own layout
	if err != nil {
		return &models.ArtifactError{Artifact: artifact, Missing: true}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaBytes),
		gojsonschema.NewBytesLoader(docBytes),
	)
	if err != nil {
		return &models.ArtifactError{Artifact: artifact, Reason: fmt.Sprintf("not valid JSON: %v", err)}
	}
	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			reasons = append(reasons, e.String())
		}
		return &models.ArtifactError{Artifact: artifact, Reason: strings.Join(reasons, "; ")}
	}
	return nil
}

// countAlias returns the first present alias's value. Models name count keys
// inconsistently; the contract tolerates the common variants.
func countAlias(counts map[string]int, names ...string) int {
	for _, n := range names {
		if v, ok := counts[n]; ok {
			return v
		}
	}
	return 0
}

// pathInside reports whether path resolves inside root.
func pathInside(path, root string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel == "." || (!strings.HasPrefix(rel, "../") && rel != "..")
}
