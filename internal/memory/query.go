package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dotcommander/lerim/internal/models"
)

// Entry is one memory file as surfaced by list/search/export.
type Entry struct {
	ID        string           `json:"id"`
	Primitive models.Primitive `json:"primitive"`
	Title     string           `json:"title"`
	Created   string           `json:"created,omitempty"`
	Updated   string           `json:"updated,omitempty"`
	Source    string           `json:"source,omitempty"`
	Kind      string           `json:"kind,omitempty"`
	Tags      []string         `json:"tags,omitempty"`
	Archived  bool             `json:"archived,omitempty"`
	Path      string           `json:"path"`
	Body      string           `json:"body,omitempty"`
}

// ListOptions filters List and Search.
type ListOptions struct {
	Primitive models.Primitive // empty = all
	// State "active" (default), "archived", or "all".
	State string
	Limit int
}

// List walks the memory tree and returns entries newest first (by filename,
// which leads with the date). Unparseable files are skipped, not fatal: one
// corrupt file must not hide the rest of the tree.
func List(memoryRoot string, opts ListOptions) ([]Entry, error) {
	var dirs []struct {
		rel       string
		primitive models.Primitive
		archived  bool
	}
	add := func(rel string, p models.Primitive, archived bool) {
		dirs = append(dirs, struct {
			rel       string
			primitive models.Primitive
			archived  bool
		}{rel, p, archived})
	}
	state := opts.State
	if state == "" {
		state = "active"
	}
	if state == "active" || state == "all" {
		add("decisions", models.PrimitiveDecision, false)
		add("learnings", models.PrimitiveLearning, false)
	}
	if state == "archived" || state == "all" {
		add(filepath.Join("archived", "decisions"), models.PrimitiveDecision, true)
		add(filepath.Join("archived", "learnings"), models.PrimitiveLearning, true)
	}

	var out []Entry
	for _, d := range dirs {
		if opts.Primitive != "" && opts.Primitive != d.primitive {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(memoryRoot, d.rel))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, de := range entries {
			if de.IsDir() || !strings.HasSuffix(de.Name(), ".md") {
				continue
			}
			path := filepath.Join(memoryRoot, d.rel, de.Name())
			e, err := readEntry(path, d.primitive, d.archived)
			if err != nil {
				continue
			}
			out = append(out, *e)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Search returns entries whose title, body, or tags contain every word of
// query, case-insensitive.
func Search(memoryRoot, query string, opts ListOptions) ([]Entry, error) {
	limit := opts.Limit
	opts.Limit = 0
	entries, err := List(memoryRoot, opts)
	if err != nil {
		return nil, err
	}
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
		return entries, nil
	}

	var out []Entry
	for _, e := range entries {
		haystack := strings.ToLower(e.Title + "\n" + e.Body + "\n" + strings.Join(e.Tags, " "))
		match := true
		for _, w := range words {
			if !strings.Contains(haystack, w) {
				match = false
				break
			}
		}
		if match {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns the entry with the given id, searching active then archived
// files. Nil when not found.
func Get(memoryRoot, id string) (*Entry, error) {
	entries, err := List(memoryRoot, ListOptions{State: "all"})
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// Export renders the active memory tree as JSON or concatenated markdown.
func Export(memoryRoot, format string) ([]byte, error) {
	entries, err := List(memoryRoot, ListOptions{State: "all"})
	if err != nil {
		return nil, err
	}
	switch format {
	case "", "json":
		return json.MarshalIndent(entries, "", "  ")
	case "markdown":
		var sb strings.Builder
		for _, e := range entries {
			raw, err := os.ReadFile(e.Path) //nolint:gosec // G304: paths come from our own tree walk
			if err != nil {
				continue
			}
			sb.Write(raw)
			if !strings.HasSuffix(sb.String(), "\n") {
				sb.WriteByte('\n')
			}
			sb.WriteString("\n")
		}
		return []byte(sb.String()), nil
	default:
		return nil, fmt.Errorf("unknown export format %q (json|markdown)", format)
	}
}

// Reset removes the whole memory tree under memoryRoot. The CLI guards this
// behind an explicit --yes.
func Reset(memoryRoot string) error {
	for _, rel := range []string{"decisions", "learnings", "summaries", "archived"} {
		if err := os.RemoveAll(filepath.Join(memoryRoot, rel)); err != nil {
			return err
		}
	}
	return nil
}

func readEntry(path string, p models.Primitive, archived bool) (*Entry, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // G304: paths come from our own tree walk
	if err != nil {
		return nil, err
	}
	f, err := Parse(string(raw))
	if err != nil {
		return nil, err
	}
	f.Path = path
	id := f.Front.ID
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(path), ".md")
	}
	return &Entry{
		ID:        id,
		Primitive: p,
		Title:     f.Front.Title,
		Created:   f.Front.Created,
		Updated:   f.Front.Updated,
		Source:    f.Front.Source,
		Kind:      f.Front.Kind,
		Tags:      f.Front.Tags,
		Archived:  archived,
		Path:      path,
		Body:      f.Body,
	}, nil
}

// CountActive returns the number of active decision and learning files.
func CountActive(memoryRoot string) (int, error) {
	entries, err := List(memoryRoot, ListOptions{State: "active"})
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}
