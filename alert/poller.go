package alert

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// PollerConfig configures the alert poller behaviour.
type PollerConfig struct {
	Interval time.Duration // how often the flag is re-checked
	OnShow   func()        // invoked each time the alert becomes visible
	Logout   func()        // full session teardown, wired to the coordinator
	Logger   *zap.Logger
}

// DefaultPollerConfig returns the standard poll settings.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval: 2 * time.Second,
	}
}

// Poller periodically reads a Flag and drives the visibility of the
// "session has issues" alert. Dismissing hides the alert locally but
// leaves the flag raised, so the next poll shows it again until the
// user logs out or the session is re-established.
type Poller struct {
	flag   *Flag
	config PollerConfig
	log    *zap.Logger

	mu      sync.Mutex
	visible bool
	running bool
	done    chan struct{}
}

// NewPoller creates a poller for the given flag.
func NewPoller(flag *Flag, config PollerConfig) *Poller {
	if config.Interval <= 0 {
		config.Interval = DefaultPollerConfig().Interval
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		flag:   flag,
		config: config,
		log:    log,
	}
}

// Start launches the background poll loop. Calling Start on a running
// poller has no effect.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.done = make(chan struct{})
	go p.loop(p.done)
}

// Stop terminates the poll loop. Safe to call when not running.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.done)
}

// Dismiss hides the alert locally. The underlying flag stays raised, so
// a subsequent poll re-shows the alert unless a logout cleared it.
func (p *Poller) Dismiss() {
	p.mu.Lock()
	p.visible = false
	p.mu.Unlock()
}

// Logout clears local visibility and delegates to the configured
// session teardown.
func (p *Poller) Logout() {
	p.mu.Lock()
	p.visible = false
	logout := p.config.Logout
	p.mu.Unlock()

	if logout != nil {
		logout()
	}
}

// Flag returns the underlying sticky flag.
func (p *Poller) Flag() *Flag {
	return p.flag
}

// Visible reports whether the alert is currently shown.
func (p *Poller) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// Check performs a single poll step. Exposed so glue code can force an
// immediate evaluation instead of waiting for the next tick.
func (p *Poller) Check() {
	if !p.flag.Raised() {
		// Flag resolved (logout or successful re-login): the alert
		// must not outlive the condition it reports.
		p.mu.Lock()
		p.visible = false
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	if p.visible {
		p.mu.Unlock()
		return
	}
	p.visible = true
	onShow := p.config.OnShow
	p.mu.Unlock()

	p.log.Warn("session token issues detected, showing alert")
	if onShow != nil {
		onShow()
	}
}

func (p *Poller) loop(done chan struct{}) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.Check()
		}
	}
}
