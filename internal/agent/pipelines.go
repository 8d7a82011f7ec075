package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dotcommander/lerim/internal/config"
	"github.com/dotcommander/lerim/internal/llm"
	"github.com/dotcommander/lerim/internal/memory"
	"github.com/dotcommander/lerim/internal/models"
)

// traceReadLimit caps how much of a trace file a pipeline feeds the model.
const traceReadLimit = 512 * 1024

// ProviderFor resolves the LLM client for one role. Injectable so pipeline
// tests run without keys or network.
type ProviderFor func(role string) (llm.Provider, config.RoleConfig, error)

// Pipelines are the deterministic LLM-backed stages exposed to the lead agent
// as tools: extraction of candidate primitives and trace summarization.
type Pipelines struct {
	Provider   ProviderFor
	MemoryRoot string
	RunID      string
	RunTime    time.Time
	AgentType  string
	RepoName   string
	Logger     *slog.Logger
}

// Extract runs the extraction stage on tracePath and writes the candidate
// list as JSON to outPath. The model's output is repaired before parse
// failure is declared.
func (p *Pipelines) Extract(ctx context.Context, tracePath, outPath string) ([]memory.Candidate, error) {
	trace, err := readTrace(tracePath)
	if err != nil {
		return nil, &models.PipelineError{Stage: "extract", Err: err}
	}

	provider, rc, err := p.Provider(config.RoleExtract)
	if err != nil {
		return nil, err
	}

	resp, err := provider.Chat(ctx, llm.Request{
		Model:       rc.Model,
		Temperature: rc.Temperature,
		MaxTokens:   rc.MaxTokens,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: extractSystemPrompt},
			{Role: llm.RoleUser, Content: "Session trace:\n\n" + trace},
		},
	})
	if err != nil {
		return nil, err
	}

	var candidates []memory.Candidate
	if err := llm.UnmarshalRepaired(resp.Content, &candidates); err != nil {
		return nil, &models.PipelineError{Stage: "extract", Err: err}
	}

	// Drop malformed entries rather than failing the whole stage.
	kept := candidates[:0]
	for _, c := range candidates {
		if c.Title == "" || !c.Primitive.Valid() || c.Primitive == models.PrimitiveSummary {
			continue
		}
		if c.Confidence <= 0 || c.Confidence > 1 {
			c.Confidence = 0.5
		}
		kept = append(kept, c)
	}

	b, err := json.MarshalIndent(kept, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := memory.WriteFileAtomic(outPath, append(b, '\n')); err != nil {
		return nil, err
	}
	return kept, nil
}

// summaryResponse is what the summarize role must return.
type summaryResponse struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	UserIntent       string   `json:"user_intent"`
	SessionNarrative string   `json:"session_narrative"`
	Tags             []string `json:"tags"`
}

// Summarize runs the summarization stage on tracePath: it writes the summary
// markdown under memory/summaries/YYYYMMDD/HHMMSS/ and records only the
// pointer artifact at outPath. Returns the summary path.
func (p *Pipelines) Summarize(ctx context.Context, tracePath, outPath string) (string, error) {
	trace, err := readTrace(tracePath)
	if err != nil {
		return "", &models.PipelineError{Stage: "summarize", Err: err}
	}

	provider, rc, err := p.Provider(config.RoleSummarize)
	if err != nil {
		return "", err
	}

	resp, err := provider.Chat(ctx, llm.Request{
		Model:       rc.Model,
		Temperature: rc.Temperature,
		MaxTokens:   rc.MaxTokens,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: summarizeSystemPrompt},
			{Role: llm.RoleUser, Content: "Session trace:\n\n" + trace},
		},
	})
	if err != nil {
		return "", err
	}

	var sum summaryResponse
	if err := llm.UnmarshalRepaired(resp.Content, &sum); err != nil {
		return "", &models.PipelineError{Stage: "summarize", Err: err}
	}
	if sum.Title == "" {
		sum.Title = "session-summary"
	}

	runTime := p.RunTime
	if runTime.IsZero() {
		runTime = time.Now()
	}
	content, err := p.renderSummary(sum, tracePath, runTime)
	if err != nil {
		return "", err
	}
	summaryPath, err := memory.WriteSummary(p.MemoryRoot, runTime, sum.Title, content)
	if err != nil {
		return "", err
	}

	pointer, err := json.Marshal(map[string]string{"summary_path": summaryPath})
	if err != nil {
		return "", err
	}
	if err := memory.WriteFileAtomic(outPath, append(pointer, '\n')); err != nil {
		return "", err
	}
	return summaryPath, nil
}

func (p *Pipelines) renderSummary(sum summaryResponse, tracePath string, runTime time.Time) (string, error) {
	slug := memory.Slugify(sum.Title)
	f := &memory.File{
		Front: memory.Frontmatter{
			ID:               slug,
			Title:            sum.Title,
			Created:          memory.Timestamp(runTime),
			Source:           p.RunID,
			Description:      sum.Description,
			UserIntent:       limitWords(sum.UserIntent, 150),
			SessionNarrative: limitWords(sum.SessionNarrative, 200),
			Date:             runTime.UTC().Format("2006-01-02"),
			Time:             runTime.UTC().Format("15:04:05"),
			CodingAgent:      p.AgentType,
			RawTracePath:     tracePath,
			RunID:            p.RunID,
			RepoName:         p.RepoName,
			Tags:             sum.Tags,
		},
		Body: sum.SessionNarrative + "\n",
	}
	return f.Render()
}

func limitWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	return strings.Join(words[:n], " ")
}

func readTrace(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // G304: trace paths are boundary-checked by the toolbox
	if err != nil {
		return "", fmt.Errorf("open trace: %w", err)
	}
	defer func() { _ = f.Close() }()
	b, err := io.ReadAll(io.LimitReader(f, traceReadLimit))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
