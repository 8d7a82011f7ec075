package actions

import (
	"fmt"
	"os"

	"github.com/dotcommander/lerim/internal/app"
	"github.com/dotcommander/lerim/internal/models"
)

// PlatformInfo is one row of `lerim connect list`.
type PlatformInfo struct {
	Name        string `json:"name"`
	Connected   bool   `json:"connected"`
	SourcePath  string `json:"source_path,omitempty"`
	DefaultPath string `json:"default_path,omitempty"`
	Sessions    int    `json:"sessions"`
}

// ConnectList reports every known adapter and its connection state.
func ConnectList(rt *app.Runtime) ([]PlatformInfo, error) {
	connected := map[string]models.Platform{}
	for _, p := range rt.Platforms.List() {
		connected[p.Name] = p
	}

	var out []PlatformInfo
	for _, name := range rt.Adapters.Names() {
		adapter, err := rt.Adapters.Lookup(name)
		if err != nil {
			return nil, err
		}
		info := PlatformInfo{Name: name, DefaultPath: adapter.DefaultPath()}
		if p, ok := connected[name]; ok {
			info.Connected = true
			info.SourcePath = p.SourcePath
			if n, err := adapter.CountSessions(p.SourcePath); err == nil {
				info.Sessions = n
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// Connect registers a platform's session source. An empty path falls back to
// the adapter's conventional location.
func Connect(rt *app.Runtime, name, path string) (models.Platform, error) {
	adapter, err := rt.Adapters.Lookup(name)
	if err != nil {
		return models.Platform{}, err
	}
	if path == "" {
		path = adapter.DefaultPath()
	}
	if path == "" {
		return models.Platform{}, fmt.Errorf("platform %s has no default path; pass --path", name)
	}
	return rt.Platforms.Connect(name, path)
}

// ConnectAuto connects every adapter whose default path exists on disk.
// Already connected platforms are left alone.
func ConnectAuto(rt *app.Runtime) ([]models.Platform, error) {
	var added []models.Platform
	for _, name := range rt.Adapters.Names() {
		adapter, err := rt.Adapters.Lookup(name)
		if err != nil {
			return nil, err
		}
		path := adapter.DefaultPath()
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		ok, err := rt.Platforms.Seed(name, path)
		if err != nil {
			return nil, err
		}
		if ok {
			p, _ := rt.Platforms.Get(name)
			added = append(added, p)
		}
	}
	return added, nil
}

// Disconnect removes a platform registration. Indexed sessions stay in the
// catalog.
func Disconnect(rt *app.Runtime, name string) error {
	return rt.Platforms.Remove(name)
}
