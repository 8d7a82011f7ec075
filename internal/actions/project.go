package actions

import (
	"github.com/dotcommander/lerim/internal/app"
	"github.com/dotcommander/lerim/internal/models"
)

// ProjectAdd registers a project root for repo-scoped filtering.
func ProjectAdd(rt *app.Runtime, path string) (models.Project, error) {
	return rt.Projects.Add(path)
}

// ProjectList returns the registered projects.
func ProjectList(rt *app.Runtime) []models.Project {
	return rt.Projects.List()
}

// ProjectRemove unregisters a project by name.
func ProjectRemove(rt *app.Runtime, name string) error {
	return rt.Projects.Remove(name)
}
