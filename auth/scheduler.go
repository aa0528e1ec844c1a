package auth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"inciwatch.com/session/store"
)

// Scheduler state machine
type SchedulerState int

const (
	StateIdle SchedulerState = iota
	StateScheduled
	StateRefreshing
)

func (s SchedulerState) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateRefreshing:
		return "refreshing"
	default:
		return "idle"
	}
}

// Scheduler timing defaults. The safety margin keeps a refresh ahead of
// actual expiry; the sweep interval bounds how stale a lost timer can
// leave the session.
const (
	DefaultRefreshMargin = 60 * time.Second
	DefaultSweepInterval = 30 * time.Second
	refreshCallTimeout   = 15 * time.Second
)

// RefreshScheduler keeps the federated access token fresh. It arms a
// timer at expiry minus the safety margin, re-arms after every refresh
// whatever the outcome, and additionally sweeps on a fixed interval so
// a missed timer (process suspended, clock jumped) self-heals. Wake
// lets the host hint that the process just became active again.
type RefreshScheduler struct {
	refresher TokenRefresher
	store     *store.Store
	margin    time.Duration
	sweep     time.Duration
	log       *zap.Logger

	// Wake storms (focus events, rapid polling) collapse into one
	// re-evaluation per second.
	wakeLimit *rate.Limiter

	mu       sync.Mutex
	state    SchedulerState
	timer    *time.Timer
	running  bool
	stopped  bool
	done     chan struct{}
	inFlight bool
}

// SchedulerConfig wires a RefreshScheduler; zero durations take the
// defaults and Logger may be nil.
type SchedulerConfig struct {
	Refresher TokenRefresher
	Store     *store.Store
	Margin    time.Duration
	Sweep     time.Duration
	Logger    *zap.Logger
}

// NewRefreshScheduler creates a scheduler in the idle state.
func NewRefreshScheduler(config SchedulerConfig) *RefreshScheduler {
	margin := config.Margin
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	sweep := config.Sweep
	if sweep <= 0 {
		sweep = DefaultSweepInterval
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &RefreshScheduler{
		refresher: config.Refresher,
		store:     config.Store,
		margin:    margin,
		sweep:     sweep,
		log:       log,
		wakeLimit: rate.NewLimiter(rate.Every(time.Second), 1),
		state:     StateIdle,
	}
}

// State returns the current scheduler state.
func (s *RefreshScheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start evaluates the stored pair immediately and begins the periodic
// sweep. Calling Start on a running scheduler is a no-op.
func (s *RefreshScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopped = false
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.Schedule()

	go func() {
		ticker := time.NewTicker(s.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Schedule()
			case <-done:
				return
			}
		}
	}()
}

// Stop disarms the timer and halts the sweep. Idempotent.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stopped = true
	close(s.done)
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = StateIdle
	s.mu.Unlock()
}

// Schedule re-evaluates the stored federated pair. With no refresh
// token the scheduler goes idle. A pair whose refresh point is already
// past refreshes immediately; otherwise a timer is armed for expiry
// minus the margin. Safe to call at any time, from any state. After an
// explicit Stop no new timer may be armed until the next Start.
func (s *RefreshScheduler) Schedule() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	pair, ok := s.store.Tokens(store.SourceFederated)
	if !ok || pair.RefreshToken == "" {
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		if !s.inFlight {
			s.state = StateIdle
		}
		s.mu.Unlock()
		return
	}

	fireAt := pair.ExpiresAt.Add(-s.margin)
	if pair.ExpiresAt.IsZero() || !fireAt.After(time.Now()) {
		s.refresh()
		return
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(time.Until(fireAt), s.refresh)
	s.state = StateScheduled
	s.mu.Unlock()
	s.log.Debug("token refresh armed", zap.Time("fire_at", fireAt))
}

// Wake hints that the process just became active (window focus, resume
// from suspend). The token may have expired while dormant, so the
// schedule is re-evaluated, rate-limited against event storms.
func (s *RefreshScheduler) Wake() {
	if !s.wakeLimit.Allow() {
		return
	}
	s.Schedule()
}

// RefreshNow forces an immediate refresh regardless of the timer.
func (s *RefreshScheduler) RefreshNow() {
	s.refresh()
}

// refresh performs one guarded refresh cycle and always reschedules
// afterwards; a failed refresh cleared the pair, so the reschedule will
// park the machine idle.
func (s *RefreshScheduler) refresh() {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = StateRefreshing
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshCallTimeout)
		defer cancel()

		token, err := s.refresher.Refresh(ctx)
		switch {
		case err != nil:
			s.log.Warn("scheduled token refresh errored", zap.Error(err))
		case token == "":
			s.log.Debug("scheduled token refresh yielded no token")
		default:
			s.log.Debug("token refreshed ahead of expiry")
		}

		s.mu.Lock()
		s.inFlight = false
		stopped := s.stopped
		if stopped {
			// Stopped while the refresh was in flight: park idle
			// instead of re-arming.
			s.state = StateIdle
		}
		s.mu.Unlock()
		if !stopped {
			s.Schedule()
		}
	}()
}
