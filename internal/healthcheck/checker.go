package healthcheck

import (
	"context"
	"log"
	"sync"
	"time"
)

// PingFunc probes one backend. A nil error means healthy.
type PingFunc func(ctx context.Context) error

// Checker runs periodic probes against the engine's backends (redis,
// postgres) and keeps the latest result per target.
type Checker struct {
	mu          sync.RWMutex
	targets     map[string]PingFunc
	status      map[string]*Status
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	stopChan    chan struct{}
	running     bool
}

type Config struct {
	Interval    time.Duration // how often to probe (default 10s)
	Timeout     time.Duration // per-probe budget (default 2s)
	MaxFailures int           // consecutive failures before unhealthy (default 3)
}

func NewChecker(cfg *Config) *Checker {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}

	return &Checker{
		targets:     make(map[string]PingFunc),
		status:      make(map[string]*Status),
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		maxFailures: cfg.MaxFailures,
		stopChan:    make(chan struct{}),
	}
}

// Register adds a backend to probe. Call before Start.
func (c *Checker) Register(name string, ping PingFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.targets[name] = ping
	c.status[name] = &Status{
		Target:    name,
		IsHealthy: true, // assume healthy until a probe says otherwise
		LastCheck: time.Now(),
	}
}

// Begins periodic health checks
func (c *Checker) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	log.Printf("Starting health checks for %d backends (interval: %v)", len(c.targets), c.interval)

	c.checkAll()

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.checkAll()
			case <-c.stopChan:
				return
			}
		}
	}()
}

func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.running = false
	close(c.stopChan)
}

func (c *Checker) checkAll() {
	c.mu.RLock()
	targets := make(map[string]PingFunc, len(c.targets))
	for name, ping := range c.targets {
		targets[name] = ping
	}
	c.mu.RUnlock()

	for name, ping := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		err := ping(ctx)
		cancel()

		c.record(name, err)
	}
}

func (c *Checker) record(name string, err error) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.status[name]
	if status == nil {
		return
	}

	status.LastCheck = now
	if err == nil {
		if !status.IsHealthy {
			log.Printf("Backend %s recovered", name)
		}
		status.IsHealthy = true
		status.LastSuccess = now
		status.FailureCount = 0
		return
	}

	status.LastFailure = now
	status.FailureCount++
	if status.FailureCount >= c.maxFailures && status.IsHealthy {
		status.IsHealthy = false
		log.Printf("Backend %s marked unhealthy after %d failures: %v", name, status.FailureCount, err)
	}
}

// Snapshot returns a copy of every backend's latest status.
func (c *Checker) Snapshot() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make(map[string]Status, len(c.status))
	for name, status := range c.status {
		snapshot[name] = *status
	}
	return snapshot
}
