package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"automator-go/internal/model"
)

const scheduledJobColumns = `job_id, automation_id, user_id, cron_expression, next_run, status, created_at, updated_at`

// SaveScheduledJob persists a schedule descriptor. Exactly one of
// CronExpression and NextRun must be set. An existing job with the same id
// is overwritten and reactivated.
func (s *SQLiteStorage) SaveScheduledJob(ctx context.Context, job *model.ScheduledJob) error {
	if job == nil {
		return fmt.Errorf("%w: job cannot be nil", ErrInvalidInput)
	}
	if err := requireIDs("job ID", job.JobID, "automation ID", job.AutomationID, "user ID", job.UserID); err != nil {
		return err
	}
	if (job.CronExpression == "") == (job.NextRun == nil) {
		return fmt.Errorf("%w: exactly one of cron expression and next run must be set", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.JobActive
	}

	var cronExpr sql.NullString
	if job.CronExpression != "" {
		cronExpr = sql.NullString{String: job.CronExpression, Valid: true}
	}
	var nextRun sql.NullTime
	if job.NextRun != nil {
		nextRun = sql.NullTime{Time: job.NextRun.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (`+scheduledJobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			automation_id = excluded.automation_id,
			user_id = excluded.user_id,
			cron_expression = excluded.cron_expression,
			next_run = excluded.next_run,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		job.JobID, job.AutomationID, job.UserID, cronExpr, nextRun, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save scheduled job: %w", err)
	}
	return nil
}

// GetScheduledJob returns a job by id.
func (s *SQLiteStorage) GetScheduledJob(ctx context.Context, jobID string) (*model.ScheduledJob, error) {
	if err := requireIDs("job ID", jobID); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduledJobColumns+` FROM scheduled_jobs WHERE job_id = ?`, jobID)
	job, err := scanScheduledJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: scheduled job %s", ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get scheduled job: %w", err)
	}
	return job, nil
}

// GetActiveScheduledJobs returns every active job, oldest first.
func (s *SQLiteStorage) GetActiveScheduledJobs(ctx context.Context) ([]model.ScheduledJob, error) {
	return s.queryScheduledJobs(ctx, `
		SELECT `+scheduledJobColumns+`
		FROM scheduled_jobs
		WHERE status = ?
		ORDER BY created_at, job_id`,
		model.JobActive)
}

// ListScheduledJobs returns a user's jobs in any status, newest first.
func (s *SQLiteStorage) ListScheduledJobs(ctx context.Context, userID string) ([]model.ScheduledJob, error) {
	if err := requireIDs("user ID", userID); err != nil {
		return nil, err
	}
	return s.queryScheduledJobs(ctx, `
		SELECT `+scheduledJobColumns+`
		FROM scheduled_jobs
		WHERE user_id = ?
		ORDER BY created_at DESC, job_id`,
		userID)
}

// SetScheduledJobStatus changes a job's persisted status.
func (s *SQLiteStorage) SetScheduledJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	if err := requireIDs("job ID", jobID); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET status = ?, updated_at = ?
		WHERE job_id = ?`,
		status, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("failed to update scheduled job: %w", err)
	}
	return rowsAffected(result, "scheduled job", jobID)
}

// CompleteScheduledJob marks a fired one-time job completed.
func (s *SQLiteStorage) CompleteScheduledJob(ctx context.Context, jobID string) error {
	return s.SetScheduledJobStatus(ctx, jobID, model.JobCompleted)
}

func (s *SQLiteStorage) queryScheduledJobs(ctx context.Context, query string, args ...any) ([]model.ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.ScheduledJob
	for rows.Next() {
		job, err := scanScheduledJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scheduled jobs: %w", err)
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanScheduledJob(row scanner) (*model.ScheduledJob, error) {
	var job model.ScheduledJob
	var cronExpr sql.NullString
	var nextRun sql.NullTime
	if err := row.Scan(&job.JobID, &job.AutomationID, &job.UserID, &cronExpr, &nextRun, &job.Status, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.CronExpression = cronExpr.String
	if nextRun.Valid {
		t := nextRun.Time.UTC()
		job.NextRun = &t
	}
	return &job, nil
}
