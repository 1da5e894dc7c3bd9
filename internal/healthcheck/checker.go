package healthcheck

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Pinger is a dependency the checker probes
type Pinger interface {
	Ping(ctx context.Context) error
}

// Periodically pings the gateway's dependencies (coordination store, rule
// database) and caches the result so /health never blocks on them.
type Checker struct {
	mu           sync.RWMutex
	deps         map[string]Pinger
	healthStatus map[string]*Status
	interval     time.Duration
	timeout      time.Duration
	maxFailures  int
	logger       *slog.Logger
	now          func() time.Time
	stopChan     chan struct{}
	running      bool
}

// Holds health checker configuration
type Config struct {
	Interval    time.Duration // How often to check (default: 10s)
	Timeout     time.Duration // Ping timeout (default: 2s)
	MaxFailures int           // Failures before marking unhealthy (default: 3)
	Logger      *slog.Logger
	Now         func() time.Time
}

func NewChecker(cfg Config) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Checker{
		deps:         make(map[string]Pinger),
		healthStatus: make(map[string]*Status),
		interval:     cfg.Interval,
		timeout:      cfg.Timeout,
		maxFailures:  cfg.MaxFailures,
		logger:       cfg.Logger.With("component", "healthcheck"),
		now:          cfg.Now,
		stopChan:     make(chan struct{}),
	}
}

// Registers a dependency. It is assumed healthy until checked.
func (c *Checker) Register(name string, dep Pinger) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deps[name] = dep
	c.healthStatus[name] = &Status{Name: name, IsHealthy: true, LastCheck: c.now()}
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

	c.logger.Info("starting dependency health checks", "dependencies", len(c.deps), "interval", c.interval)

	// Run initial check immediately
	c.CheckAll(context.Background())

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.CheckAll(context.Background())
			case <-c.stopChan:
				return
			}
		}
	}()
}

// Stops the health checker
func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		c.running = false
		c.logger.Info("health checker stopped")
	}
}

// Pings every dependency concurrently
func (c *Checker) CheckAll(ctx context.Context) {
	c.mu.RLock()
	deps := make(map[string]Pinger, len(c.deps))
	for name, dep := range c.deps {
		deps[name] = dep
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for name, dep := range deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.check(ctx, name, dep)
		}()
	}
	wg.Wait()
}

func (c *Checker) check(ctx context.Context, name string, dep Pinger) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := dep.Ping(ctx); err != nil {
		c.recordFailure(name, err)
		return
	}
	c.recordSuccess(name)
}

func (c *Checker) recordSuccess(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	status := c.healthStatus[name]
	status.LastCheck = now
	status.LastSuccess = now
	status.LastError = ""
	status.FailureCount = 0

	if !status.IsHealthy {
		c.logger.Info("dependency is healthy again", "dependency", name)
		status.IsHealthy = true
	}
}

func (c *Checker) recordFailure(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	status := c.healthStatus[name]
	status.LastCheck = now
	status.LastFailure = now
	status.LastError = err.Error()
	status.FailureCount++

	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		c.logger.Warn("dependency is unhealthy", "dependency", name, "failures", status.FailureCount, "error", err)
		status.IsHealthy = false
	}
}

// Returns a copy of every dependency's status, sorted by name
func (c *Checker) GetAllStatus() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statuses := make([]Status, 0, len(c.healthStatus))
	for _, status := range c.healthStatus {
		statuses = append(statuses, *status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

func (c *Checker) GetStatus(name string) (Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status, ok := c.healthStatus[name]
	if !ok {
		return Status{}, false
	}
	return *status, true
}

// Healthy with no dependencies registered
func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := len(c.healthStatus)
	healthy := 0
	for _, status := range c.healthStatus {
		if status.IsHealthy {
			healthy++
		}
	}

	switch {
	case healthy == total:
		return Healthy
	case healthy == 0:
		return Unhealthy
	default:
		return Degraded
	}
}
