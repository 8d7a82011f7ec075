// Package pipeline drives the sync and maintain cycles: window resolution,
// writer-lock acquisition, discovery, the job loop, artifact validation, and
// the audit trail.
package pipeline

import (
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/dotcommander/lerim/internal/models"
	"github.com/dotcommander/lerim/internal/store"
)

// Window is the resolved time slice one sync cycle scans. Label preserves the
// original request for the audit row.
type Window struct {
	Since *time.Time
	Until *time.Time
	Label string
}

// WindowAll scans from the oldest catalogued session.
const WindowAll = "all"

var windowPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseWindow parses the duration grammar "<n>{s|m|h|d}". Zero durations and
// unknown units are rejected; "all" is handled by ResolveWindow, not here.
func ParseWindow(spec string) (time.Duration, error) {
	m := windowPattern.FindStringSubmatch(spec)
	if m == nil {
		return 0, fmt.Errorf("invalid window %q: want <n>s, <n>m, <n>h, <n>d, or %q", spec, WindowAll)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid window %q: count must be a positive integer", spec)
	}
	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	return time.Duration(n) * unit, nil
}

// ResolveWindow turns a window spec or an explicit since/until pair into a
// Window. The two forms are mutually exclusive; a missing until means now.
// "all" resolves since to the oldest session start in the catalog, or nil
// when the catalog is empty. Grammar and conflict errors carry the usage
// exit code.
func ResolveWindow(db *sql.DB, spec string, since, until *time.Time, now time.Time) (Window, error) {
	explicit := since != nil || until != nil
	if spec != "" && explicit {
		return Window{}, models.NewExitError(models.ExitUsage,
			fmt.Errorf("window %q conflicts with explicit since/until", spec))
	}

	if explicit {
		u := until
		if u == nil {
			n := now
			u = &n
		}
		return Window{Since: since, Until: u, Label: "explicit"}, nil
	}

	if spec == WindowAll {
		oldest, err := store.EarliestSessionStart(db)
		if err != nil {
			return Window{}, err
		}
		u := now
		return Window{Since: oldest, Until: &u, Label: WindowAll}, nil
	}

	d, err := ParseWindow(spec)
	if err != nil {
		return Window{}, models.NewExitError(models.ExitUsage, err)
	}
	s := now.Add(-d)
	u := now
	return Window{Since: &s, Until: &u, Label: spec}, nil
}
