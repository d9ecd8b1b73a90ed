package station

import (
	"context"
	"time"

	"camstore/internal/model"
)

// Scheduler runs the daily backup at a fixed local wall-clock time. When
// retirement is enabled the images collection is reclaimed after each
// backup. Failures are logged and retried the next day.
type Scheduler struct {
	svc    *Service
	hour   int
	minute int
	// cleanupImages reclaims retired entries after the backup.
	cleanupImages bool
	deleteOrphans bool
}

// NewScheduler creates a Scheduler that fires daily at hour:minute.
func NewScheduler(svc *Service, hour, minute int, deleteOrphans bool) *Scheduler {
	return &Scheduler{
		svc:           svc,
		hour:          hour,
		minute:        minute,
		cleanupImages: svc.opts.RetireArchived,
		deleteOrphans: deleteOrphans,
	}
}

// Serve implements suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	next := s.NextRun(s.svc.clock.Now())
	s.svc.logger.Info("backup scheduled", "next", next.Format(time.RFC3339))

	timer := time.NewTimer(next.Sub(s.svc.clock.Now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			s.RunOnce(ctx)

			next = s.NextRun(s.svc.clock.Now())
			s.svc.logger.Info("backup scheduled", "next", next.Format(time.RFC3339))
			timer.Reset(next.Sub(s.svc.clock.Now()))
		}
	}
}

// RunOnce performs one scheduled backup and the follow-up reclaim.
func (s *Scheduler) RunOnce(ctx context.Context) {
	result, err := s.svc.TriggerBackup(ctx, "")
	if err != nil {
		s.svc.logger.Error("scheduled backup failed", "error", err)
		return
	}
	s.svc.logger.Info("scheduled backup completed", "date", result.Date, "count", result.Count)

	if !s.cleanupImages {
		return
	}
	cleaned, err := s.svc.TriggerCleanup(ctx, model.KindImages, "", s.deleteOrphans)
	if err != nil {
		s.svc.logger.Error("scheduled cleanup failed", "error", err)
		return
	}
	s.svc.logger.Info("scheduled cleanup completed", "deleted", cleaned.DeletedCount)
}

// NextRun returns the first scheduled time strictly after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *Scheduler) String() string { return "backup-scheduler" }
