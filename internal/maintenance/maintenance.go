// Package maintenance runs the background housekeeping jobs: pruning old
// journal rows and sweeping the resolver cache.
package maintenance

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mthorsen/playlistwatch/internal/journal"
	"github.com/mthorsen/playlistwatch/internal/songlink"
)

// Jobs owns the cron runner.
type Jobs struct {
	cron          *cron.Cron
	journal       *journal.Repository
	resolver      *songlink.Resolver
	retentionDays int
	logger        *log.Logger
}

// New creates the maintenance jobs.
func New(jour *journal.Repository, resolver *songlink.Resolver, retentionDays int, logger *log.Logger) *Jobs {
	if logger == nil {
		logger = log.Default()
	}
	return &Jobs{
		cron:          cron.New(),
		journal:       jour,
		resolver:      resolver,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// Start schedules the jobs: journal prune nightly, cache sweep hourly.
func (j *Jobs) Start() error {
	if _, err := j.cron.AddFunc("15 3 * * *", j.pruneJournal); err != nil {
		return err
	}
	if _, err := j.cron.AddFunc("@hourly", j.sweepResolverCache); err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts scheduling and waits for a running job to finish.
func (j *Jobs) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

func (j *Jobs) pruneJournal() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -j.retentionDays)
	removed, err := j.journal.Prune(ctx, cutoff)
	if err != nil {
		j.logger.Printf("maintenance: journal prune: %v", err)
		return
	}
	if removed > 0 {
		j.logger.Printf("maintenance: pruned %d journal row(s) older than %s", removed, cutoff.Format(time.DateOnly))
	}
}

func (j *Jobs) sweepResolverCache() {
	removed := j.resolver.Sweep()
	if removed > 0 {
		j.logger.Printf("maintenance: swept %d expired resolver cache entries", removed)
	}
}
