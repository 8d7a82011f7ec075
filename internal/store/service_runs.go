package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dotcommander/lerim/internal/models"
)

const serviceRunColumns = `id, job_type, status, started_at, completed_at, "trigger", details_json`

// RecordServiceRun appends one audit row for a sync or maintain invocation.
func RecordServiceRun(db *sql.DB, run *models.ServiceRun) (int64, error) {
	var id int64
	err := Transact(db, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO service_runs (job_type, status, started_at, completed_at, "trigger", details_json)
			VALUES (?, ?, ?, ?, ?, ?)`,
			run.JobType, string(run.Status), run.StartedAt.UTC(),
			nullableTime(run.CompletedAt), nullableText(run.Trigger),
			nullableText(string(run.Details)),
		)
		if err != nil {
			return fmt.Errorf("record service run: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	run.ID = id
	return id, nil
}

// LatestServiceRun returns the most recent audit row for jobType, nil when
// none exists yet.
func LatestServiceRun(q Querier, jobType string) (*models.ServiceRun, error) {
	row := q.QueryRow(`
		SELECT `+serviceRunColumns+` FROM service_runs
		WHERE job_type = ? ORDER BY started_at DESC, id DESC LIMIT 1`, jobType)
	run, err := scanServiceRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ListServiceRuns returns recent audit rows for jobType, newest first.
func ListServiceRuns(q Querier, jobType string, limit int) ([]models.ServiceRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := q.Query(`
		SELECT `+serviceRunColumns+` FROM service_runs
		WHERE job_type = ? ORDER BY started_at DESC, id DESC LIMIT ?`, jobType, limit)
	if err != nil {
		return nil, fmt.Errorf("list service runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.ServiceRun
	for rows.Next() {
		run, err := scanServiceRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func scanServiceRun(scan func(...any) error) (*models.ServiceRun, error) {
	var run models.ServiceRun
	var status string
	var startedAt time.Time
	var completedAt sql.NullTime
	var trigger, details sql.NullString

	if err := scan(&run.ID, &run.JobType, &status, &startedAt, &completedAt, &trigger, &details); err != nil {
		return nil, err
	}
	run.Status = models.ServiceRunStatus(status)
	run.StartedAt = startedAt.UTC()
	run.CompletedAt = timePtr(completedAt)
	run.Trigger = textOrEmpty(trigger)
	if details.Valid && details.String != "" {
		run.Details = []byte(details.String)
	}
	return &run, nil
}
