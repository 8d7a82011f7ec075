package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dotcommander/lerim/internal/models"
)

const maxSlugLen = 64

var slugCleaner = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowers s and collapses everything outside [a-z0-9] into single
// hyphens, capped at 64 runes.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugCleaner.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = strings.Trim(s[:maxSlugLen], "-")
	}
	if s == "" {
		s = "untitled"
	}
	return s
}

var (
	compactDatePattern = regexp.MustCompile(`(20\d{6})`)
	dashedDatePattern  = regexp.MustCompile(`(20\d{2})-(\d{2})-(\d{2})`)
)

// RunIDDate extracts a YYYYMMDD date embedded in a run id (compact or dashed
// form). ok is false when the id carries no recognizable date.
func RunIDDate(runID string) (string, bool) {
	if m := compactDatePattern.FindStringSubmatch(runID); m != nil {
		if _, err := time.Parse("20060102", m[1]); err == nil {
			return m[1], true
		}
	}
	if m := dashedDatePattern.FindStringSubmatch(runID); m != nil {
		compact := m[1] + m[2] + m[3]
		if _, err := time.Parse("20060102", compact); err == nil {
			return compact, true
		}
	}
	return "", false
}

// WriteRequest is one write of a decision or learning through the tool
// surface. RequestedPath is what the caller asked for; the server re-derives
// the real filename from the frontmatter title.
type WriteRequest struct {
	MemoryRoot    string
	RequestedPath string
	RunID         string
	Content       string
	Now           time.Time
}

// WriteNormalized validates and normalizes one memory-file write, then writes
// it atomically (temp + rename). Rules enforced here, never trusted to the
// caller:
//
//   - the target folder must be memory/{decisions,learnings}; summaries/ and
//     archived/ are not writable through the tool
//   - title is required; the filename becomes {YYYYMMDD}-{slug(title)}.md with
//     the date taken from the run id, else today
//   - created/updated/source/id are defaulted when missing
//
// Returns the final path, which may differ from the requested one.
func WriteNormalized(req WriteRequest) (string, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	dir, err := targetDir(req.MemoryRoot, req.RequestedPath)
	if err != nil {
		return "", err
	}

	f, err := Parse(req.Content)
	if err != nil {
		return "", &models.ArtifactError{Artifact: filepath.Base(req.RequestedPath), Reason: err.Error()}
	}
	if strings.TrimSpace(f.Front.Title) == "" {
		return "", &models.ArtifactError{Artifact: filepath.Base(req.RequestedPath), Reason: "frontmatter title is required"}
	}

	date, ok := RunIDDate(req.RunID)
	if !ok {
		date = now.UTC().Format("20060102")
	}
	name := date + "-" + Slugify(f.Front.Title) + ".md"
	finalPath := filepath.Join(req.MemoryRoot, dir, name)

	if f.Front.ID == "" {
		f.Front.ID = strings.TrimSuffix(name, ".md")
	}
	if f.Front.Created == "" {
		f.Front.Created = Timestamp(now)
	}
	f.Front.Updated = Timestamp(now)
	if f.Front.Source == "" {
		f.Front.Source = req.RunID
	}
	if dir == "learnings" && f.Front.Kind != "" && !models.LearningKind(f.Front.Kind).Valid() {
		return "", &models.ArtifactError{Artifact: name, Reason: fmt.Sprintf("unknown learning kind %q", f.Front.Kind)}
	}

	rendered, err := f.Render()
	if err != nil {
		return "", err
	}
	if err := WriteFileAtomic(finalPath, []byte(rendered)); err != nil {
		return "", err
	}
	return finalPath, nil
}

// targetDir maps the requested path to its folder under the memory root and
// rejects folders the write tool may not touch.
func targetDir(memoryRoot, requested string) (string, error) {
	rel, err := filepath.Rel(memoryRoot, requested)
	if err != nil || strings.HasPrefix(filepath.ToSlash(rel), "../") {
		return "", &models.BoundaryError{Op: "write", Path: requested}
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	switch parts[0] {
	case "decisions", "learnings":
		return parts[0], nil
	case "summaries":
		return "", &models.BoundaryError{Op: "write", Path: requested}
	default:
		return "", &models.BoundaryError{Op: "write", Path: requested}
	}
}

// WriteSummary writes the summary markdown for one run into
// summaries/YYYYMMDD/HHMMSS/{slug}.md, with the date and time taken from the
// run folder's timestamp.
func WriteSummary(memoryRoot string, runTime time.Time, title, content string) (string, error) {
	date := runTime.UTC().Format("20060102")
	clock := runTime.UTC().Format("150405")
	path := filepath.Join(memoryRoot, "summaries", date, clock, Slugify(title)+".md")
	if err := WriteFileAtomic(path, []byte(content)); err != nil {
		return "", err
	}
	return path, nil
}

// Archive moves a decision or learning into archived/{decisions,learnings}/.
// Summaries are never archived.
func Archive(memoryRoot, path string) (string, error) {
	rel, err := filepath.Rel(memoryRoot, path)
	if err != nil || strings.HasPrefix(filepath.ToSlash(rel), "../") {
		return "", &models.BoundaryError{Op: "archive", Path: path}
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 || (parts[0] != "decisions" && parts[0] != "learnings") {
		return "", fmt.Errorf("only files directly under decisions/ or learnings/ can be archived: %s", path)
	}
	dest := filepath.Join(memoryRoot, "archived", parts[0], parts[1])
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", err
	}
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("archive %s: %w", path, err)
	}
	return dest, nil
}

// WriteFileAtomic writes data to path via a temp file and rename, creating
// parent directories. Readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".lerim-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
