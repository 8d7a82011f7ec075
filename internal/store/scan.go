package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"
)

// maxErrorLen bounds error messages persisted into job rows.
const maxErrorLen = 2048

func truncateError(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	return msg[:maxErrorLen]
}

// nullableText maps "" to NULL so optional columns stay NULL instead of
// accumulating empty strings.
func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func textOrEmpty(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// marshalSummaries renders the snippet list as a JSON array, NULL when empty.
func marshalSummaries(summaries []string) any {
	if len(summaries) == 0 {
		return nil
	}
	b, err := json.Marshal(summaries)
	if err != nil {
		return nil
	}
	return string(b)
}

func unmarshalSummaries(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil
	}
	return out
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
