package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule runs the archiver on a standard five-field cron spec until ctx is
// done. Overlapping runs are skipped.
type Schedule struct {
	cron    *cron.Cron
	entryID cron.EntryID
	logger  *slog.Logger
}

func NewSchedule(spec string, a *Archiver, timeout time.Duration, logger *slog.Logger) (*Schedule, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	id, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := a.Run(ctx, false); err != nil {
			logger.Error("scheduled archive failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid archive schedule %q: %w", spec, err)
	}
	return &Schedule{cron: c, entryID: id, logger: logger}, nil
}

// Next reports when the archiver runs next. Zero before Start.
func (s *Schedule) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// Run starts the scheduler and blocks until ctx is done and any running job
// has finished.
func (s *Schedule) Run(ctx context.Context) {
	s.cron.Start()
	s.logger.Info("archive schedule started", "next", s.Next())
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("archive schedule stopped")
}
