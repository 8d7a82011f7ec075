package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dotcommander/lerim/internal/models"
)

// Platforms is the persisted map of connected session sources. The zero value
// is usable; Load returns an empty registry when the file does not exist.
type Platforms struct {
	path    string
	entries map[string]models.Platform
}

// LoadPlatforms reads the platform registry at path.
func LoadPlatforms(path string) (*Platforms, error) {
	r := &Platforms{path: path, entries: map[string]models.Platform{}}

	b, err := os.ReadFile(path) //nolint:gosec // G304: layout-derived path
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read platform registry: %w", err)
	}

	var raw map[string]models.Platform
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse platform registry %s: %w", path, err)
	}
	for name, p := range raw {
		p.Name = name
		r.entries[name] = p
	}
	return r, nil
}

// List returns connected platforms sorted by name.
func (r *Platforms) List() []models.Platform {
	out := make([]models.Platform, 0, len(r.entries))
	for _, p := range r.entries {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the platform entry for name.
func (r *Platforms) Get(name string) (models.Platform, bool) {
	p, ok := r.entries[name]
	return p, ok
}

// Connect registers (or re-points) a platform and persists the registry.
func (r *Platforms) Connect(name, sourcePath string) (models.Platform, error) {
	if name == "" {
		return models.Platform{}, fmt.Errorf("platform name is required")
	}
	p := models.Platform{Name: name, SourcePath: sourcePath, ConnectedAt: time.Now().UTC()}
	if existing, ok := r.entries[name]; ok {
		p.ConnectedAt = existing.ConnectedAt
	}
	r.entries[name] = p
	if err := r.save(); err != nil {
		return models.Platform{}, err
	}
	return p, nil
}

// Remove deletes a platform entry. Removing an unknown name is an error so
// typos surface.
func (r *Platforms) Remove(name string) error {
	if _, ok := r.entries[name]; !ok {
		return fmt.Errorf("platform %q is not connected", name)
	}
	delete(r.entries, name)
	return r.save()
}

// Seed registers name at sourcePath when it is not already connected.
// Used by auto-connect to pick up default install locations.
func (r *Platforms) Seed(name, sourcePath string) (added bool, err error) {
	if _, ok := r.entries[name]; ok {
		return false, nil
	}
	_, err = r.Connect(name, sourcePath)
	return err == nil, err
}

func (r *Platforms) save() error {
	return saveJSON(r.path, r.entries)
}

// Projects is the persisted list of registered project roots.
type Projects struct {
	path    string
	entries []models.Project
}

// LoadProjects reads the project registry at path.
func LoadProjects(path string) (*Projects, error) {
	r := &Projects{path: path}

	b, err := os.ReadFile(path) //nolint:gosec // G304: layout-derived path
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read project registry: %w", err)
	}
	if err := json.Unmarshal(b, &r.entries); err != nil {
		return nil, fmt.Errorf("parse project registry %s: %w", path, err)
	}
	return r, nil
}

// List returns registered projects sorted by name.
func (r *Projects) List() []models.Project {
	out := make([]models.Project, len(r.entries))
	copy(out, r.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Add registers a project rooted at path. The name is the base of the
// cleaned absolute path; duplicate names or paths are rejected.
func (r *Projects) Add(path string) (models.Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return models.Project{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.Project{}, fmt.Errorf("project path: %w", err)
	}
	if !info.IsDir() {
		return models.Project{}, fmt.Errorf("project path %s is not a directory", abs)
	}

	name := filepath.Base(abs)
	for _, p := range r.entries {
		if p.Name == name || p.Path == abs {
			return models.Project{}, fmt.Errorf("project %q is already registered", name)
		}
	}

	proj := models.Project{Name: name, Path: abs, AddedAt: time.Now().UTC()}
	r.entries = append(r.entries, proj)
	if err := r.save(); err != nil {
		return models.Project{}, err
	}
	return proj, nil
}

// Remove drops a project by name.
func (r *Projects) Remove(name string) error {
	for i, p := range r.entries {
		if p.Name == name {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return r.save()
		}
	}
	return fmt.Errorf("project %q is not registered", name)
}

func (r *Projects) save() error {
	return saveJSON(r.path, r.entries)
}

// saveJSON writes v as indented JSON via temp-file rename so concurrent
// readers never observe a torn registry.
func saveJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".registry-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
