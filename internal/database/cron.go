package database

import (
	"context"
	"fmt"
)

// CronJob is a persisted schedule that emits an event when it fires.
type CronJob struct {
	ID        string `db:"id" json:"id"`
	Schedule  string `db:"schedule" json:"schedule"`
	EventType string `db:"event_type" json:"event_type"`
	Payload   string `db:"payload" json:"payload"`
	Enabled   bool   `db:"enabled" json:"enabled"`
}

// CronJobs lists all persisted schedules.
func (s *DB) CronJobs(ctx context.Context) ([]CronJob, error) {
	var jobs []CronJob
	query := `SELECT id, schedule, event_type, payload, enabled FROM cron_jobs ORDER BY id`
	if err := s.db.SelectContext(ctx, &jobs, query); err != nil {
		return nil, fmt.Errorf("list cron jobs: %w", err)
	}
	return jobs, nil
}

// SaveCronJob upserts one schedule.
func (s *DB) SaveCronJob(ctx context.Context, job CronJob) error {
	query := s.rebind(s.upsertQuery("cron_jobs",
		[]string{"id", "schedule", "event_type", "payload", "enabled"}, []string{"id"}))
	_, err := s.db.ExecContext(ctx, query, job.ID, job.Schedule, job.EventType, job.Payload, job.Enabled)
	if err != nil {
		return fmt.Errorf("save cron job %s: %w", job.ID, err)
	}
	return nil
}

// DeleteCronJob removes one schedule.
func (s *DB) DeleteCronJob(ctx context.Context, id string) error {
	query := s.rebind(`DELETE FROM cron_jobs WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete cron job %s: %w", id, err)
	}
	return nil
}
