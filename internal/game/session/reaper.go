package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reaper periodically removes Open sessions nobody joined within a TTL.
// It satisfies server.Service.
type Reaper struct {
	manager  *Manager
	ttl      time.Duration
	interval time.Duration
	logger   *zap.Logger

	quit     chan struct{}
	stopOnce sync.Once
}

// NewReaper creates a Reaper.
//
// Precondition: manager and logger must be non-nil; ttl and interval must be > 0.
func NewReaper(manager *Manager, ttl, interval time.Duration, logger *zap.Logger) *Reaper {
	return &Reaper{
		manager:  manager,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
		quit:     make(chan struct{}),
	}
}

// Start sweeps every interval until Stop is called.
func (r *Reaper) Start() error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("session reaper running",
		zap.Duration("ttl", r.ttl),
		zap.Duration("interval", r.interval),
	)
	for {
		select {
		case <-r.quit:
			return nil
		case <-ticker.C:
			if n := r.manager.ReapStaleOpen(r.ttl); n > 0 {
				r.logger.Info("reaped stale sessions", zap.Int("count", n))
			}
		}
	}
}

// Stop ends the sweep loop. It is safe to call more than once.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}
