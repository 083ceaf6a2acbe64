package stack

import (
	"time"

	"github.com/rs/zerolog"
)

// RetentionJob prunes history records older than the retention window.
// It implements scheduler.Job and runs on a cron schedule.
type RetentionJob struct {
	repo   *Repository
	maxAge time.Duration
	log    zerolog.Logger
}

// NewRetentionJob creates a retention job for the history repository.
func NewRetentionJob(repo *Repository, maxAge time.Duration, log zerolog.Logger) *RetentionJob {
	return &RetentionJob{
		repo:   repo,
		maxAge: maxAge,
		log:    log.With().Str("job", "history_retention").Logger(),
	}
}

// Name returns the job name for scheduler logging.
func (j *RetentionJob) Name() string {
	return "history_retention"
}

// Run deletes history records older than the retention window.
func (j *RetentionJob) Run() error {
	cutoff := time.Now().UTC().Add(-j.maxAge)
	removed, err := j.repo.PruneOlderThan(cutoff)
	if err != nil {
		return err
	}

	j.log.Debug().
		Int64("removed", removed).
		Time("cutoff", cutoff).
		Msg("History retention sweep completed")

	return nil
}
