package sandbox

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State is a point-in-time snapshot of the controller.
type State struct {
	Synchronized bool
	Ready        map[string]bool
	LockHolder   string
	Policy       Policy
	Limits       Limits
}

// Controller tracks loop readiness and serializes the crypto region.
type Controller struct {
	cfg Config
	log *slog.Logger

	synced atomic.Bool

	mu       sync.Mutex
	deadline map[string]time.Time // zero time = not ready

	lock   chan struct{}
	holder string

	lockTimeouts prometheus.Counter
}

// NewController registers the given loop IDs, all initially not ready.
func NewController(cfg Config, loopIDs []string, reg prometheus.Registerer, log *slog.Logger) (*Controller, error) {
	if log == nil || len(loopIDs) == 0 {
		return nil, ErrConfig
	}
	if cfg.LockTimeout <= 0 || cfg.ReadyWindow < 0 {
		return nil, ErrConfig
	}

	c := &Controller{
		cfg:      cfg,
		log:      log,
		deadline: make(map[string]time.Time, len(loopIDs)),
		lock:     make(chan struct{}, 1),
		lockTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aegis_sandbox_lock_timeouts_total",
			Help: "Lock acquisitions that timed out.",
		}),
	}
	for _, id := range loopIDs {
		if id == "" {
			return nil, ErrConfig
		}
		c.deadline[id] = time.Time{}
	}
	if reg != nil {
		if err := reg.Register(c.lockTimeouts); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ReportReady marks a loop ready until the readiness window elapses.
func (c *Controller) ReportReady(loopID string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.deadline[loopID]; !ok {
		return ErrUnknownLoop
	}
	if c.cfg.ReadyWindow > 0 {
		c.deadline[loopID] = now.Add(c.cfg.ReadyWindow)
	} else {
		c.deadline[loopID] = now.Add(100 * 365 * 24 * time.Hour)
	}
	c.recomputeLocked(now)
	return nil
}

// DropReady marks a loop not ready. The barrier observes the drop before
// this call returns.
func (c *Controller) DropReady(loopID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.deadline[loopID]; !ok {
		return
	}
	c.deadline[loopID] = time.Time{}
	c.synced.Store(false)
}

// Synchronized reports whether every registered loop is currently ready.
// Single atomic load; safe on the admission hot path.
func (c *Controller) Synchronized() bool {
	return c.synced.Load()
}

// Expire ages out readiness reports past their window.
func (c *Controller) Expire(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recomputeLocked(now)
}

// Run ages out stale readiness periodically until ctx is canceled.
// Harmless without it when ReadyWindow is zero.
func (c *Controller) Run(ctx context.Context) {
	period := c.cfg.ReadyWindow
	if period <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(period / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Expire(time.Now().UTC())
		}
	}
}

// AcquireLock takes the crypto-region lock for loopID, waiting at most the
// caller's deadline or the configured timeout, whichever is sooner.
func (c *Controller) AcquireLock(ctx context.Context, loopID string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.LockTimeout)
		defer cancel()
	}

	select {
	case c.lock <- struct{}{}:
		c.mu.Lock()
		c.holder = loopID
		c.mu.Unlock()
		return nil
	case <-ctx.Done():
		c.lockTimeouts.Inc()
		c.log.Warn("sandbox.lock_timeout", "loop", loopID)
		return ErrSyncTimeout
	}
}

// ReleaseLock releases the crypto-region lock. Releasing a lock the caller
// does not hold is a no-op.
func (c *Controller) ReleaseLock(loopID string) {
	c.mu.Lock()
	if c.holder != loopID {
		c.mu.Unlock()
		return
	}
	c.holder = ""
	c.mu.Unlock()

	select {
	case <-c.lock:
	default:
	}
}

// State returns a snapshot for the health endpoint. Readiness past its
// window is aged out first, so the snapshot never shows a loop ready that
// the next barrier check would reject.
func (c *Controller) State(now time.Time) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recomputeLocked(now)
	ready := make(map[string]bool, len(c.deadline))
	for id, dl := range c.deadline {
		ready[id] = !dl.IsZero()
	}
	return State{
		Synchronized: c.synced.Load(),
		Ready:        ready,
		LockHolder:   c.holder,
		Policy:       c.cfg.Policy,
		Limits:       LimitsFor(c.cfg.Policy),
	}
}

// recomputeLocked refreshes the barrier flag. Caller holds c.mu.
func (c *Controller) recomputeLocked(now time.Time) {
	all := true
	for id, dl := range c.deadline {
		if dl.IsZero() {
			all = false
			continue
		}
		if !now.Before(dl) {
			c.deadline[id] = time.Time{}
			all = false
			c.log.Warn("sandbox.ready_expired", "loop", id)
		}
	}
	c.synced.Store(all)
}
