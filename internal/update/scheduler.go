package update

import (
	"context"
	"time"
)

// AutoChecker is the part of the controller the scheduler drives.
type AutoChecker interface {
	AutoCheck() State
}

// Scheduler triggers automatic checks at a fixed interval. The controller
// decides whether each tick actually checks; a security hold or an
// operation in flight turns it into a no-op.
type Scheduler struct {
	target   AutoChecker
	interval time.Duration
}

// NewScheduler returns a scheduler; a non-positive interval disables it.
func NewScheduler(target AutoChecker, interval time.Duration) *Scheduler {
	return &Scheduler{target: target, interval: interval}
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		updateLog.Logf("scheduler disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.target.AutoCheck()
			updateLog.Logf("scheduled check: %s", st.Phase)
		}
	}
}
