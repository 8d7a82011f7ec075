package actions

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dotcommander/lerim/internal/app"
	"github.com/dotcommander/lerim/internal/memory"
	"github.com/dotcommander/lerim/internal/models"
)

// MemoryListOptions filter the list/search operations.
type MemoryListOptions struct {
	Primitive string
	State     string
	Limit     int
}

func (o MemoryListOptions) toQuery() memory.ListOptions {
	return memory.ListOptions{
		Primitive: models.Primitive(o.Primitive),
		State:     o.State,
		Limit:     o.Limit,
	}
}

// MemoryList returns entries from the memory tree, newest first.
func MemoryList(rt *app.Runtime, opts MemoryListOptions) ([]memory.Entry, error) {
	return memory.List(rt.Layout.MemoryRoot(), opts.toQuery())
}

// MemorySearch returns entries matching every word of query.
func MemorySearch(rt *app.Runtime, query string, opts MemoryListOptions) ([]memory.Entry, error) {
	return memory.Search(rt.Layout.MemoryRoot(), query, opts.toQuery())
}

// MemoryGet resolves one entry by id (the filename stem).
func MemoryGet(rt *app.Runtime, id string) (*memory.Entry, error) {
	return memory.Get(rt.Layout.MemoryRoot(), id)
}

// MemoryAddRequest is a manually authored memory.
type MemoryAddRequest struct {
	Primitive  string // "decision" or "learning"; learning by default
	Title      string
	Body       string
	Kind       string
	Confidence float64 // 0 leaves confidence unset
	Tags       []string
}

// MemoryAdd writes a new memory file through the same normalization path the
// sync agent uses, and returns the resulting entry.
func MemoryAdd(rt *app.Runtime, req MemoryAddRequest) (*memory.Entry, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("memory title is required")
	}
	dir := "learnings"
	if req.Primitive == string(models.PrimitiveDecision) {
		dir = "decisions"
	}

	front := memory.Frontmatter{
		Title: req.Title,
		Kind:  req.Kind,
		Tags:  req.Tags,
	}
	if req.Confidence > 0 {
		front.Confidence = &req.Confidence
	}
	f := &memory.File{
		Front: front,
		Body:  strings.TrimSpace(req.Body) + "\n",
	}
	rendered, err := f.Render()
	if err != nil {
		return nil, err
	}
	path, err := memory.WriteNormalized(memory.WriteRequest{
		MemoryRoot:    rt.Layout.MemoryRoot(),
		RequestedPath: filepath.Join(rt.Layout.MemoryRoot(), dir, "manual.md"),
		Content:       rendered,
	})
	if err != nil {
		return nil, err
	}
	if _, err := rt.Tracker.RecordWrite(rt.Layout.MemoryRoot(), path); err != nil {
		rt.Logger.Warn("access tracking failed", "path", path, "err", err)
	}
	return memory.Get(rt.Layout.MemoryRoot(), strings.TrimSuffix(filepath.Base(path), ".md"))
}

// MemoryExport renders the whole tree as JSON or markdown.
func MemoryExport(rt *app.Runtime, format string) ([]byte, error) {
	return memory.Export(rt.Layout.MemoryRoot(), format)
}

// MemoryReset deletes every memory file, archived included. The caller is
// responsible for confirming first.
func MemoryReset(rt *app.Runtime) error {
	return memory.Reset(rt.Layout.MemoryRoot())
}
