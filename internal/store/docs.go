package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dotcommander/lerim/internal/models"
)

// sessionMetaColumns is the select list for listings: everything except the
// large content and turns_json payloads, which only FetchSession loads.
const sessionMetaColumns = `id, run_id, agent_type, repo_path, repo_name, start_time, indexed_at,
	status, duration_ms, message_count, tool_call_count, error_count, total_tokens,
	summaries, summary_text, session_path, tags, outcome, content_hash`

// IndexSession upserts one session document as delete-then-insert so the FTS
// triggers see a clean insert. Idempotent: indexing identical content twice
// leaves exactly one row.
func IndexSession(db *sql.DB, rec *models.SessionRecord) (int64, error) {
	if rec.RunID == "" {
		return 0, fmt.Errorf("index session: empty run_id")
	}
	now := time.Now().UTC()

	var id int64
	err := Transact(db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM session_docs WHERE run_id = ?`, rec.RunID); err != nil {
			return fmt.Errorf("clear stale session doc: %w", err)
		}
		res, err := tx.Exec(`
			INSERT INTO session_docs (
				run_id, agent_type, repo_path, repo_name, start_time, content, indexed_at,
				status, duration_ms, message_count, tool_call_count, error_count, total_tokens,
				summaries, summary_text, turns_json, session_path, tags, outcome, content_hash
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RunID, rec.AgentType, nullableText(rec.RepoPath), nullableText(rec.RepoName),
			nullableTime(rec.StartTime), rec.Content, now,
			nullableText(rec.Status), rec.DurationMS, rec.MessageCount, rec.ToolCallCount,
			rec.ErrorCount, rec.TotalTokens, marshalSummaries(rec.Summaries),
			nullableText(rec.SummaryText), nullableText(rec.TurnsJSON), rec.SessionPath,
			nullableText(rec.Tags), nullableText(rec.Outcome), rec.ContentHash,
		)
		if err != nil {
			return fmt.Errorf("insert session doc: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	rec.ID = id
	rec.IndexedAt = now
	return id, nil
}

// FetchSession loads one full session document including content and
// turns_json. Returns (nil, nil) when the run id is not indexed.
func FetchSession(q Querier, runID string) (*models.SessionRecord, error) {
	row := q.QueryRow(`
		SELECT `+sessionMetaColumns+`, content, turns_json
		FROM session_docs WHERE run_id = ?`, runID)

	rec, extra, err := scanSessionRow(row.Scan, 2)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch session %s: %w", runID, err)
	}
	rec.Content = textOrEmpty(extra[0])
	rec.TurnsJSON = textOrEmpty(extra[1])
	return rec, nil
}

// UpdateExtractFields patches the extraction outputs onto an indexed session.
// Nil fields are left untouched.
func UpdateExtractFields(db *sql.DB, runID string, summaryText, tags, outcome *string) error {
	var sets []string
	var args []any
	if summaryText != nil {
		sets = append(sets, "summary_text = ?")
		args = append(args, nullableText(*summaryText))
	}
	if tags != nil {
		sets = append(sets, "tags = ?")
		args = append(args, nullableText(*tags))
	}
	if outcome != nil {
		sets = append(sets, "outcome = ?")
		args = append(args, nullableText(*outcome))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, runID)

	return Transact(db, func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE session_docs SET `+strings.Join(sets, ", ")+` WHERE run_id = ?`, args...)
		if err != nil {
			return fmt.Errorf("update extract fields: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("session %q not indexed", runID)
		}
		return nil
	})
}

// ListOptions bounds ListWindow.
type ListOptions struct {
	Limit      int
	Offset     int
	AgentTypes []string
	Since      *time.Time
	Until      *time.Time
}

// ListWindow returns session documents ordered newest first (start_time desc,
// indexed_at desc tiebreak) plus the total row count for the same filters.
// Time bounds are inclusive; rows without a start_time are excluded by any
// bounded window.
func ListWindow(q Querier, opts ListOptions) ([]models.SessionRecord, int, error) {
	where, args := sessionFilters(opts.AgentTypes, "", "", opts.Since, opts.Until)

	var total int
	if err := q.QueryRow(`SELECT COUNT(*) FROM session_docs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + sessionMetaColumns + ` FROM session_docs` + where +
		` ORDER BY start_time DESC, indexed_at DESC LIMIT ? OFFSET ?`
	rows, err := q.Query(query, append(args, limit, opts.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.SessionRecord
	for rows.Next() {
		rec, _, err := scanSessionRow(rows.Scan, 0)
		if err != nil {
			return nil, 0, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, *rec)
	}
	return out, total, rows.Err()
}

// KnownRunHashes returns the run_id → content_hash map discovery feeds to
// adapters for incremental skipping.
func KnownRunHashes(q Querier) (map[string]string, error) {
	rows, err := q.Query(`SELECT run_id, content_hash FROM session_docs`)
	if err != nil {
		return nil, fmt.Errorf("load known hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	known := map[string]string{}
	for rows.Next() {
		var runID, hash string
		if err := rows.Scan(&runID, &hash); err != nil {
			return nil, err
		}
		known[runID] = hash
	}
	return known, rows.Err()
}

// EarliestSessionStart returns the oldest start_time in the catalog, nil
// when the catalog is empty or no session carries a start time.
func EarliestSessionStart(q Querier) (*time.Time, error) {
	var ns sql.NullTime
	err := q.QueryRow(`SELECT MIN(start_time) FROM session_docs WHERE start_time IS NOT NULL`).Scan(&ns)
	if err != nil {
		return nil, fmt.Errorf("earliest session start: %w", err)
	}
	if !ns.Valid {
		return nil, nil
	}
	t := ns.Time.UTC()
	return &t, nil
}

// CountSessionDocs returns the total number of indexed sessions.
func CountSessionDocs(q Querier) (int, error) {
	var n int
	err := q.QueryRow(`SELECT COUNT(*) FROM session_docs`).Scan(&n)
	return n, err
}

// RunsStats aggregates catalog counters for the stats endpoint.
type RunsStats struct {
	Sessions      int            `json:"sessions"`
	Messages      int64          `json:"messages"`
	ToolCalls     int64          `json:"tool_calls"`
	Errors        int64          `json:"errors"`
	TotalTokens   int64          `json:"total_tokens"`
	TotalDuration int64          `json:"total_duration_ms"`
	ByAgent       map[string]int `json:"by_agent"`
}

// StatsWindow computes aggregate counters over the given inclusive window.
func StatsWindow(q Querier, agentType string, since, until *time.Time) (*RunsStats, error) {
	where, args := sessionFilters(nil, agentType, "", since, until)

	stats := &RunsStats{ByAgent: map[string]int{}}
	err := q.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(message_count), 0),
			COALESCE(SUM(tool_call_count), 0),
			COALESCE(SUM(error_count), 0),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(duration_ms), 0)
		FROM session_docs`+where, args...).
		Scan(&stats.Sessions, &stats.Messages, &stats.ToolCalls, &stats.Errors,
			&stats.TotalTokens, &stats.TotalDuration)
	if err != nil {
		return nil, fmt.Errorf("stats totals: %w", err)
	}

	rows, err := q.Query(`SELECT agent_type, COUNT(*) FROM session_docs`+where+` GROUP BY agent_type`, args...)
	if err != nil {
		return nil, fmt.Errorf("stats by agent: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var agent string
		var n int
		if err := rows.Scan(&agent, &n); err != nil {
			return nil, err
		}
		stats.ByAgent[agent] = n
	}
	return stats, rows.Err()
}

// sessionFilters builds the shared WHERE clause for listing, stats, and
// keyword search.
func sessionFilters(agentTypes []string, agentType, status string, since, until *time.Time) (string, []any) {
	var conds []string
	var args []any
	if len(agentTypes) > 0 {
		conds = append(conds, "agent_type IN ("+placeholders(len(agentTypes))+")")
		for _, a := range agentTypes {
			args = append(args, a)
		}
	}
	if agentType != "" {
		conds = append(conds, "agent_type = ?")
		args = append(args, agentType)
	}
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}
	if since != nil {
		conds = append(conds, "start_time >= ?")
		args = append(args, since.UTC())
	}
	if until != nil {
		conds = append(conds, "start_time <= ?")
		args = append(args, until.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// scanSessionRow scans the sessionMetaColumns list plus extraCols trailing
// string columns, in order.
func scanSessionRow(scan func(...any) error, extraCols int) (*models.SessionRecord, []sql.NullString, error) {
	var rec models.SessionRecord
	var repoPath, repoName, status, summaries, summaryText, tags, outcome sql.NullString
	var startTime sql.NullTime
	var indexedAt time.Time

	dest := []any{
		&rec.ID, &rec.RunID, &rec.AgentType, &repoPath, &repoName, &startTime, &indexedAt,
		&status, &rec.DurationMS, &rec.MessageCount, &rec.ToolCallCount, &rec.ErrorCount,
		&rec.TotalTokens, &summaries, &summaryText, &rec.SessionPath, &tags, &outcome,
		&rec.ContentHash,
	}
	extra := make([]sql.NullString, extraCols)
	for i := range extra {
		dest = append(dest, &extra[i])
	}
	if err := scan(dest...); err != nil {
		return nil, nil, err
	}

	rec.RepoPath = textOrEmpty(repoPath)
	rec.RepoName = textOrEmpty(repoName)
	rec.Status = textOrEmpty(status)
	rec.StartTime = timePtr(startTime)
	rec.IndexedAt = indexedAt.UTC()
	rec.Summaries = unmarshalSummaries(summaries)
	rec.SummaryText = textOrEmpty(summaryText)
	rec.Tags = textOrEmpty(tags)
	rec.Outcome = textOrEmpty(outcome)
	return &rec, extra, nil
}
