package memory

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
)

// runSweeper runs Sweep on the configured cron schedule until Close.
// The schedule has minute resolution; each due minute fires once.
func (s *Service) runSweeper() {
	defer s.wg.Done()

	gron := gronx.New()
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	var lastFired time.Time
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			minute := now.Truncate(time.Minute)
			if minute.Equal(lastFired) {
				continue
			}
			due, err := gron.IsDue(s.cfg.SweepSchedule, minute)
			if err != nil {
				s.logger.Error("sweep schedule evaluation failed",
					"schedule", s.cfg.SweepSchedule, "err", err)
				return
			}
			if !due {
				continue
			}
			lastFired = minute

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if _, err := s.Sweep(ctx, s.cfg.SweepMaxAge, s.cfg.SweepMinImportance); err != nil {
				s.logger.Error("scheduled sweep failed", "err", err)
			}
			cancel()
		}
	}
}
