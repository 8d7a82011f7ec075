// Package memory implements the durable memory-file layer: YAML frontmatter
// parsing, server-side write normalization, archive moves, listing, export,
// and the deterministic add/update/no_op decision policy.
package memory

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dotcommander/lerim/internal/models"
)

// Frontmatter is the YAML block at the top of every memory file. Kind-specific
// fields stay empty for the kinds that do not carry them.
type Frontmatter struct {
	ID         string   `yaml:"id"`
	Title      string   `yaml:"title"`
	Created    string   `yaml:"created,omitempty"`
	Updated    string   `yaml:"updated,omitempty"`
	Source     string   `yaml:"source,omitempty"`
	Confidence *float64 `yaml:"confidence,omitempty"`
	Tags       []string `yaml:"tags,omitempty"`

	// Learning only.
	Kind string `yaml:"kind,omitempty"`

	// Summary only.
	Description      string `yaml:"description,omitempty"`
	UserIntent       string `yaml:"user_intent,omitempty"`
	SessionNarrative string `yaml:"session_narrative,omitempty"`
	Date             string `yaml:"date,omitempty"`
	Time             string `yaml:"time,omitempty"`
	CodingAgent      string `yaml:"coding_agent,omitempty"`
	RawTracePath     string `yaml:"raw_trace_path,omitempty"`
	RunID            string `yaml:"run_id,omitempty"`
	RepoName         string `yaml:"repo_name,omitempty"`
}

// File is one parsed memory file.
type File struct {
	Front Frontmatter
	Body  string
	// Path is set by readers; Render ignores it.
	Path string
}

const fence = "---"

// Parse splits a memory file into frontmatter and body. The file must start
// with a --- fence; the body is everything after the closing fence and the
// blank separator line, preserved byte for byte.
func Parse(content string) (*File, error) {
	content = strings.TrimPrefix(content, "\uFEFF")
	if !strings.HasPrefix(content, fence) {
		return nil, fmt.Errorf("memory file must start with %q frontmatter fence", fence)
	}
	rest := content[len(fence):]
	rest = strings.TrimPrefix(rest, "\r\n")
	rest = strings.TrimPrefix(rest, "\n")

	idx := strings.Index(rest, "\n"+fence)
	if idx < 0 {
		return nil, fmt.Errorf("frontmatter closing fence not found")
	}
	yamlBlock := rest[:idx+1]
	body := rest[idx+1+len(fence):]
	body = strings.TrimPrefix(body, "\r\n")
	body = strings.TrimPrefix(body, "\n")
	// One blank separator line between fence and body.
	body = strings.TrimPrefix(body, "\r\n")
	body = strings.TrimPrefix(body, "\n")

	var fm Frontmatter
	if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	return &File{Front: fm, Body: body}, nil
}

// Render serializes the file back to its on-disk form: fence, YAML, fence,
// blank line, body.
func (f *File) Render() (string, error) {
	b, err := yaml.Marshal(&f.Front)
	if err != nil {
		return "", fmt.Errorf("render frontmatter: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(fence)
	sb.WriteByte('\n')
	sb.Write(b)
	sb.WriteString(fence)
	sb.WriteString("\n\n")
	sb.WriteString(f.Body)
	return sb.String(), nil
}

// Primitive infers the file's kind from its location under the memory root,
// falling back to field shape when the path is unknown.
func (f *File) Primitive() models.Primitive {
	switch {
	case strings.Contains(f.Path, "/summaries/") || f.Front.RawTracePath != "" || f.Front.SessionNarrative != "":
		return models.PrimitiveSummary
	case strings.Contains(f.Path, "/learnings/") || f.Front.Kind != "":
		return models.PrimitiveLearning
	default:
		return models.PrimitiveDecision
	}
}

// Timestamp is the frontmatter time format: ISO-8601 UTC to the second.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
