package session

import (
	"context"
	"time"

	"github.com/openpty/ptyhub/internal/logger"
)

// Reaper periodically evicts sessions that are inactive beyond a
// threshold, already marked not running, or whose backend reports the
// child dead before the reader loop has noticed.
type Reaper struct {
	reg             *Registry
	sweepInterval   time.Duration
	inactivityLimit time.Duration
}

// NewReaper builds a Reaper over reg, sweeping every sweepInterval and
// evicting sessions idle longer than inactivityLimit.
func NewReaper(reg *Registry, sweepInterval, inactivityLimit time.Duration) *Reaper {
	if sweepInterval <= 0 {
		sweepInterval = 60 * time.Second
	}
	if inactivityLimit <= 0 {
		inactivityLimit = 3600 * time.Second
	}
	return &Reaper{reg: reg, sweepInterval: sweepInterval, inactivityLimit: inactivityLimit}
}

// Run blocks, sweeping on sweepInterval until ctx is cancelled. An
// eviction failure for one session never aborts the sweep.
func (rp *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(rp.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rp.sweep()
		}
	}
}

func (rp *Reaper) sweep() {
	for _, s := range rp.reg.Iter() {
		rp.evictIfStale(s)
	}
}

func (rp *Reaper) evictIfStale(s *Session) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("reaper sweep panic", "session_id", s.ID, "recovered", r)
		}
	}()
	stale := !s.Running() ||
		!s.handle.IsAlive() ||
		time.Since(s.LastActivity()) > rp.inactivityLimit
	if stale {
		logger.Info("reaper evicting session", "session_id", s.ID)
		_ = rp.reg.Terminate(s.ID)
	}
}
