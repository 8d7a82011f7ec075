package store

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/dotcommander/lerim/internal/models"
)

// SearchOptions bounds one catalog search.
type SearchOptions struct {
	Query     string
	AgentType string
	Status    string
	Repo      string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// SearchSessions runs a ranked FTS query over run_id, agent_type, repo_name,
// and content, returning highlighted snippets. When the SQLite build lacks
// the fts5 module the same query degrades to a LIKE scan with a synthetic
// snippet. An empty query behaves like a filtered listing.
func SearchSessions(q Querier, opts SearchOptions) ([]models.SessionRecord, int, error) {
	match := ftsQuery(opts.Query)
	if match == "" {
		recs, total, err := ListWindow(q, ListOptions{
			Limit:      opts.Limit,
			Offset:     opts.Offset,
			AgentTypes: singleOrNil(opts.AgentType),
			Since:      opts.Since,
			Until:      opts.Until,
		})
		return recs, total, err
	}

	recs, total, err := ftsSearch(q, match, opts)
	if err != nil && isMissingFTS(err) {
		return likeSearch(q, opts)
	}
	return recs, total, err
}

func ftsSearch(q Querier, match string, opts SearchOptions) ([]models.SessionRecord, int, error) {
	where, args := searchFilters(opts)

	var total int
	countQuery := `
		SELECT COUNT(*)
		FROM sessions_fts
		JOIN session_docs d ON d.id = sessions_fts.rowid
		WHERE sessions_fts MATCH ?` + where
	if err := q.QueryRow(countQuery, prepend(match, args)...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	// Column 3 of the fts table is content; 12 tokens of context around the hit.
	query := `
		SELECT ` + prefixColumns("d", sessionMetaColumns) + `,
			snippet(sessions_fts, 3, '<mark>', '</mark>', '…', 12)
		FROM sessions_fts
		JOIN session_docs d ON d.id = sessions_fts.rowid
		WHERE sessions_fts MATCH ?` + where + `
		ORDER BY bm25(sessions_fts) LIMIT ? OFFSET ?`
	rows, err := q.Query(query, append(prepend(match, args), limit, opts.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.SessionRecord
	for rows.Next() {
		rec, extra, err := scanSessionRow(rows.Scan, 1)
		if err != nil {
			return nil, 0, fmt.Errorf("scan search row: %w", err)
		}
		rec.Snippet = textOrEmpty(extra[0])
		out = append(out, *rec)
	}
	return out, total, rows.Err()
}

// likeSearch is the degraded path for SQLite builds without fts5: substring
// match over content and identifiers, newest first, no ranking.
func likeSearch(q Querier, opts SearchOptions) ([]models.SessionRecord, int, error) {
	where, args := searchFilters(opts)
	needle := "%" + opts.Query + "%"
	likeCond := ` WHERE (d.content LIKE ? OR d.run_id LIKE ? OR d.repo_name LIKE ?)` + where
	likeArgs := append([]any{needle, needle, needle}, args...)

	var total int
	if err := q.QueryRow(`SELECT COUNT(*) FROM session_docs d`+likeCond, likeArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count keyword search: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + prefixColumns("d", sessionMetaColumns) + ` FROM session_docs d` + likeCond +
		` ORDER BY d.start_time DESC, d.indexed_at DESC LIMIT ? OFFSET ?`
	rows, err := q.Query(query, append(likeArgs, limit, opts.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("keyword search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.SessionRecord
	for rows.Next() {
		rec, _, err := scanSessionRow(rows.Scan, 0)
		if err != nil {
			return nil, 0, fmt.Errorf("scan keyword row: %w", err)
		}
		rec.Snippet = likeSnippet(rec)
		out = append(out, *rec)
	}
	return out, total, rows.Err()
}

// ftsQuery quotes each whitespace token so raw user input can never be
// misread as fts5 operator syntax. Tokens without any letter or digit are
// dropped: they tokenize to empty phrases. Tokens combine with implicit AND;
// an empty result means "no query".
func ftsQuery(raw string) string {
	fields := strings.Fields(raw)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		if !strings.ContainsFunc(f, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r)
		}) {
			continue
		}
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

func searchFilters(opts SearchOptions) (string, []any) {
	var conds []string
	var args []any
	if opts.AgentType != "" {
		conds = append(conds, "d.agent_type = ?")
		args = append(args, opts.AgentType)
	}
	if opts.Status != "" {
		conds = append(conds, "d.status = ?")
		args = append(args, opts.Status)
	}
	if opts.Repo != "" {
		conds = append(conds, "d.repo_name = ?")
		args = append(args, opts.Repo)
	}
	if opts.Since != nil {
		conds = append(conds, "d.start_time >= ?")
		args = append(args, opts.Since.UTC())
	}
	if opts.Until != nil {
		conds = append(conds, "d.start_time <= ?")
		args = append(args, opts.Until.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(conds, " AND "), args
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// likeSnippet stands in for FTS highlight in the degraded path.
func likeSnippet(rec *models.SessionRecord) string {
	if rec.SummaryText != "" {
		return rec.SummaryText
	}
	if len(rec.Summaries) > 0 {
		return rec.Summaries[0]
	}
	return ""
}

func singleOrNil(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func prepend(first any, rest []any) []any {
	return append([]any{first}, rest...)
}
