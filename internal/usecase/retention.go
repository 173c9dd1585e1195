package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
)

// RetentionJob periodically purges conversations that have been idle longer
// than the configured maximum age.
type RetentionJob struct {
	store  domain.ConversationStore
	maxAge time.Duration
	cron   *cron.Cron
	logger *slog.Logger
}

// NewRetentionJob builds the job from config. Returns an error when the
// schedule or max_age cannot be parsed.
func NewRetentionJob(store domain.ConversationStore, cfg config.RetentionConfig, logger *slog.Logger) (*RetentionJob, error) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "0 3 * * *" // daily at 03:00
	}
	maxAgeStr := cfg.MaxAge
	if maxAgeStr == "" {
		maxAgeStr = "720h" // 30 days
	}
	maxAge, err := time.ParseDuration(maxAgeStr)
	if err != nil {
		return nil, fmt.Errorf("parse retention max_age: %w", err)
	}

	job := &RetentionJob{
		store:  store,
		maxAge: maxAge,
		cron:   cron.New(),
		logger: logger,
	}

	if _, err := job.cron.AddFunc(schedule, job.run); err != nil {
		return nil, fmt.Errorf("schedule retention job: %w", err)
	}
	return job, nil
}

// Start begins the schedule. Stop halts it and waits for a running purge.
func (j *RetentionJob) Start() {
	j.cron.Start()
	j.logger.Info("retention job started", "max_age", j.maxAge)
}

func (j *RetentionJob) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

func (j *RetentionJob) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := j.Purge(ctx)
	if err != nil {
		j.logger.Error("retention purge failed", "error", err)
		return
	}
	if n > 0 {
		j.logger.Info("retention purge completed", "conversations", n)
	}
}

// Purge removes conversations idle longer than the max age and returns the
// number removed. Exposed for manual triggering and tests.
func (j *RetentionJob) Purge(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-j.maxAge)
	return j.store.PurgeOlderThan(ctx, cutoff)
}
