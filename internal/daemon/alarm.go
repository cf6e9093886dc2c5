package daemon

import (
	"context"
	"time"
)

// DefaultAlarmPeriod applies when the config leaves alarm_minutes unset.
const DefaultAlarmPeriod = 15 * time.Minute

// RunAlarm calls Tick every period until ctx is done.
func (s *Server) RunAlarm(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = DefaultAlarmPeriod
	}
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs maintenance when due, refreshes the cached roll-ups and
// flushes pending writes.
func (s *Server) Tick(ctx context.Context) {
	if rep, err := s.app.Maintainer.RunIfDue(ctx); err != nil {
		s.logger.Warn("maintenance failed", "error", err)
	} else if rep != nil {
		s.logger.Debug("maintenance ran", "merges", rep.Merges)
	}
	if err := s.app.Rollup.RefreshAll(ctx); err != nil {
		s.logger.Warn("refreshing roll-ups", "error", err)
	}
	if err := s.app.Adapter.Flush(ctx); err != nil {
		s.logger.Warn("flushing store", "error", err)
	}
}
