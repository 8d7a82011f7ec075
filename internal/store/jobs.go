package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dotcommander/lerim/internal/models"
)

// DefaultClaimTimeoutSeconds is how long a running job may go without a
// heartbeat before another claim reclaims it.
const DefaultClaimTimeoutSeconds = 300

const jobColumns = `id, run_id, job_type, agent_type, session_path, start_time, status,
	attempts, max_attempts, "trigger", available_at, claimed_at, completed_at,
	heartbeat_at, error, created_at, updated_at`

// EnqueueJob inserts an extract job for rec, or resets an existing one when
// force is set: status back to pending, attempts zeroed, available now, all
// terminal timestamps cleared. Without force an existing row is returned
// unchanged, whatever its state.
func EnqueueJob(db *sql.DB, rec *models.SessionRecord, trigger string, force bool, maxAttempts int) (*models.Job, error) {
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxAttempts
	}
	now := time.Now().UTC()

	var job *models.Job
	err := Transact(db, func(tx *sql.Tx) error {
		existing, err := fetchJobTx(tx, rec.RunID, models.JobTypeExtract)
		if err != nil {
			return err
		}
		switch {
		case existing == nil:
			res, err := tx.Exec(`
				INSERT INTO session_jobs (
					run_id, job_type, agent_type, session_path, start_time, status,
					attempts, max_attempts, "trigger", available_at, created_at, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)`,
				rec.RunID, models.JobTypeExtract, nullableText(rec.AgentType),
				nullableText(rec.SessionPath), nullableTime(rec.StartTime),
				models.JobStatusPending, maxAttempts, nullableText(trigger), now, now, now,
			)
			if err != nil {
				return fmt.Errorf("enqueue job: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			job, err = fetchJobByIDTx(tx, id)
			return err
		case force:
			_, err := tx.Exec(`
				UPDATE session_jobs
				SET status = ?, attempts = 0, max_attempts = ?, "trigger" = ?,
					session_path = ?, start_time = ?, available_at = ?,
					claimed_at = NULL, completed_at = NULL, heartbeat_at = NULL,
					error = NULL, updated_at = ?
				WHERE id = ?`,
				models.JobStatusPending, maxAttempts, nullableText(trigger),
				nullableText(rec.SessionPath), nullableTime(rec.StartTime), now, now, existing.ID,
			)
			if err != nil {
				return fmt.Errorf("reset job: %w", err)
			}
			job, err = fetchJobByIDTx(tx, existing.ID)
			return err
		default:
			job = existing
			return nil
		}
	})
	return job, err
}

// ClaimOptions bounds one claim transaction.
type ClaimOptions struct {
	Limit          int
	RunIDs         []string
	JobType        string
	TimeoutSeconds int
}

// ClaimJobs reclaims stale running jobs and claims up to Limit ready ones,
// all inside a single write transaction so a stale job can never be
// double-claimed. Claim order: newest start_time first, then earliest
// available_at, then id ascending.
func ClaimJobs(db *sql.DB, opts ClaimOptions) ([]models.Job, error) {
	if opts.Limit <= 0 {
		return nil, nil
	}
	jobType := opts.JobType
	if jobType == "" {
		jobType = models.JobTypeExtract
	}
	timeout := opts.TimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultClaimTimeoutSeconds
	}

	var claimed []models.Job
	err := Transact(db, func(tx *sql.Tx) error {
		claimed = claimed[:0] // Transact may retry fn
		now := time.Now().UTC()
		staleBefore := now.Add(-time.Duration(timeout) * time.Second)

		// Stale reclamation first: exhausted jobs go to the dead letter state,
		// the rest return to pending and become claimable immediately.
		if _, err := tx.Exec(`
			UPDATE session_jobs
			SET status = ?, error = ?, completed_at = ?, updated_at = ?
			WHERE status = ? AND heartbeat_at < ? AND attempts >= max_attempts`,
			models.JobStatusDeadLetter, "claim timeout: no heartbeat within lease", now, now,
			models.JobStatusRunning, staleBefore,
		); err != nil {
			return fmt.Errorf("dead-letter stale jobs: %w", err)
		}
		if _, err := tx.Exec(`
			UPDATE session_jobs
			SET status = ?, available_at = ?, updated_at = ?
			WHERE status = ? AND heartbeat_at < ?`,
			models.JobStatusPending, now, now, models.JobStatusRunning, staleBefore,
		); err != nil {
			return fmt.Errorf("reclaim stale jobs: %w", err)
		}

		query := `
			SELECT id FROM session_jobs
			WHERE job_type = ? AND status IN (?, ?) AND available_at <= ?`
		args := []any{jobType, models.JobStatusPending, models.JobStatusFailed, now}
		if len(opts.RunIDs) > 0 {
			query += ` AND run_id IN (` + placeholders(len(opts.RunIDs)) + `)`
			for _, id := range opts.RunIDs {
				args = append(args, id)
			}
		}
		query += ` ORDER BY start_time DESC, available_at ASC, id ASC LIMIT ?`
		args = append(args, opts.Limit)

		rows, err := tx.Query(query, args...)
		if err != nil {
			return fmt.Errorf("select claimable jobs: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return err
		}
		_ = rows.Close()

		for _, id := range ids {
			res, err := tx.Exec(`
				UPDATE session_jobs
				SET status = ?, attempts = attempts + 1, claimed_at = ?, heartbeat_at = ?, updated_at = ?
				WHERE id = ? AND status IN (?, ?)`,
				models.JobStatusRunning, now, now, now, id,
				models.JobStatusPending, models.JobStatusFailed,
			)
			if err != nil {
				return fmt.Errorf("claim job %d: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				continue
			}
			job, err := fetchJobByIDTx(tx, id)
			if err != nil {
				return err
			}
			claimed = append(claimed, *job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// HeartbeatJob refreshes heartbeat_at for a running job. Quietly does nothing
// when the job is no longer running; the ticker goroutine races completion.
func HeartbeatJob(db *sql.DB, runID string) error {
	now := time.Now().UTC()
	return Transact(db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE session_jobs SET heartbeat_at = ?, updated_at = ?
			WHERE run_id = ? AND job_type = ? AND status = ?`,
			now, now, runID, models.JobTypeExtract, models.JobStatusRunning,
		)
		return err
	})
}

// CompleteJob transitions a running job to done.
func CompleteJob(db *sql.DB, runID string) error {
	now := time.Now().UTC()
	return Transact(db, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE session_jobs SET status = ?, completed_at = ?, error = NULL, updated_at = ?
			WHERE run_id = ? AND job_type = ? AND status = ?`,
			models.JobStatusDone, now, now, runID, models.JobTypeExtract, models.JobStatusRunning,
		)
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("no running %s job for %q", models.JobTypeExtract, runID)
		}
		return nil
	})
}

// FailJob records a failure on a running job: dead_letter when attempts are
// exhausted, otherwise failed with available_at pushed out by backoffSeconds.
func FailJob(db *sql.DB, runID, errMsg string, backoffSeconds int) error {
	now := time.Now().UTC()
	return Transact(db, func(tx *sql.Tx) error {
		job, err := fetchJobTx(tx, runID, models.JobTypeExtract)
		if err != nil {
			return err
		}
		if job == nil || job.Status != models.JobStatusRunning {
			return fmt.Errorf("no running %s job for %q", models.JobTypeExtract, runID)
		}

		if job.Attempts >= job.MaxAttempts {
			_, err = tx.Exec(`
				UPDATE session_jobs SET status = ?, error = ?, completed_at = ?, updated_at = ?
				WHERE id = ?`,
				models.JobStatusDeadLetter, truncateError(errMsg), now, now, job.ID,
			)
			return err
		}
		_, err = tx.Exec(`
			UPDATE session_jobs SET status = ?, error = ?, available_at = ?, updated_at = ?
			WHERE id = ?`,
			models.JobStatusFailed, truncateError(errMsg),
			now.Add(time.Duration(backoffSeconds)*time.Second), now, job.ID,
		)
		return err
	})
}

// FetchJob returns the job row for (runID, jobType), or nil when absent.
func FetchJob(q Querier, runID, jobType string) (*models.Job, error) {
	if jobType == "" {
		jobType = models.JobTypeExtract
	}
	row := q.QueryRow(`SELECT `+jobColumns+` FROM session_jobs WHERE run_id = ? AND job_type = ?`, runID, jobType)
	job, err := scanJobRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// CountJobsByStatus returns a map with every canonical status zero-filled.
func CountJobsByStatus(q Querier) (map[models.JobStatus]int, error) {
	counts := map[models.JobStatus]int{}
	for _, s := range models.AllJobStatuses() {
		counts[s] = 0
	}
	rows, err := q.Query(`SELECT status, COUNT(*) FROM session_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

func fetchJobTx(tx *sql.Tx, runID, jobType string) (*models.Job, error) {
	row := tx.QueryRow(`SELECT `+jobColumns+` FROM session_jobs WHERE run_id = ? AND job_type = ?`, runID, jobType)
	job, err := scanJobRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

func fetchJobByIDTx(tx *sql.Tx, id int64) (*models.Job, error) {
	row := tx.QueryRow(`SELECT `+jobColumns+` FROM session_jobs WHERE id = ?`, id)
	return scanJobRow(row.Scan)
}

func scanJobRow(scan func(...any) error) (*models.Job, error) {
	var job models.Job
	var agentType, sessionPath, trigger, errMsg sql.NullString
	var startTime, availableAt sql.NullTime
	var claimedAt, completedAt, heartbeatAt sql.NullTime
	var createdAt, updatedAt time.Time
	var status string

	err := scan(
		&job.ID, &job.RunID, &job.JobType, &agentType, &sessionPath, &startTime, &status,
		&job.Attempts, &job.MaxAttempts, &trigger, &availableAt, &claimedAt, &completedAt,
		&heartbeatAt, &errMsg, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.AgentType = textOrEmpty(agentType)
	job.SessionPath = textOrEmpty(sessionPath)
	job.StartTime = timePtr(startTime)
	job.Status = models.JobStatus(status)
	job.Trigger = textOrEmpty(trigger)
	if availableAt.Valid {
		job.AvailableAt = availableAt.Time.UTC()
	}
	job.ClaimedAt = timePtr(claimedAt)
	job.CompletedAt = timePtr(completedAt)
	job.HeartbeatAt = timePtr(heartbeatAt)
	job.Error = textOrEmpty(errMsg)
	job.CreatedAt = createdAt.UTC()
	job.UpdatedAt = updatedAt.UTC()
	return &job, nil
}
