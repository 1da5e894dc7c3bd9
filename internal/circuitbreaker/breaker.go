package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrOpen is returned without calling the guarded function while the breaker is open
	ErrOpen = errors.New("circuit breaker is open")

	// ErrProbeLimit is returned in half-open state once the probe budget is in flight
	ErrProbeLimit = errors.New("circuit breaker probe limit reached")
)

// Breaker stops calling a failing dependency for a cool-down period so
// admission checks degrade immediately instead of waiting on timeouts.
type Breaker struct {
	mu              sync.Mutex
	name            string
	state           State
	failures        int
	probeSuccesses  int
	probesInFlight  int
	openedAt        time.Time
	lastFailure     time.Time
	lastStateChange time.Time

	maxFailures    int
	openTimeout    time.Duration
	halfOpenProbes int
	isFailure      func(error) bool
	onStateChange  func(name string, from, to State)
	now            func() time.Time
}

type Config struct {
	Name           string
	MaxFailures    int           // Default: 5
	OpenTimeout    time.Duration // Default: 30 seconds
	HalfOpenProbes int           // Default: 1

	// Decides whether an error counts against the dependency.
	// Default: everything except caller cancellation.
	IsFailure func(error) bool

	OnStateChange func(name string, from, to State)
	Now           func() time.Time
}

func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Breaker{
		name:            cfg.Name,
		state:           StateClosed,
		maxFailures:     cfg.MaxFailures,
		openTimeout:     cfg.OpenTimeout,
		halfOpenProbes:  cfg.HalfOpenProbes,
		isFailure:       cfg.IsFailure,
		onStateChange:   cfg.OnStateChange,
		now:             cfg.Now,
		lastStateChange: cfg.Now(),
	}
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Runs fn unless the breaker is open and records its outcome
func (b *Breaker) Execute(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}

	err := fn()
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.openTimeout {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.probesInFlight >= b.halfOpenProbes {
			return ErrProbeLimit
		}
		b.probesInFlight++
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.probesInFlight > 0 {
		b.probesInFlight--
	}

	if err != nil && b.isFailure(err) {
		b.failures++
		b.lastFailure = b.now()
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			b.transition(StateOpen)
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.probeSuccesses++
		if b.probeSuccesses >= b.halfOpenProbes {
			b.transition(StateClosed)
		}
	case StateClosed:
		b.failures = 0
	}
}

// Must hold b.mu
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}

	b.state = to
	b.lastStateChange = b.now()
	b.probeSuccesses = 0
	b.probesInFlight = 0
	switch to {
	case StateOpen:
		b.openedAt = b.lastStateChange
	case StateClosed:
		b.failures = 0
	}

	if b.onStateChange != nil {
		go b.onStateChange(b.name, from, to)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Forces the breaker closed
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.failures = 0
}

// Returns a snapshot of the breaker's counters
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Metrics{
		Name:            b.name,
		State:           b.state,
		Failures:        b.failures,
		LastFailure:     b.lastFailure,
		LastStateChange: b.lastStateChange,
	}
}

type Metrics struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	Failures        int       `json:"failures"`
	LastFailure     time.Time `json:"last_failure"`
	LastStateChange time.Time `json:"last_state_change"`
}
