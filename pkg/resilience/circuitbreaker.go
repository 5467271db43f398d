// Package resilience provides fault-tolerance primitives: a circuit breaker,
// exponential-backoff retry, and a context-based timeout wrapper.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the guarded function while the
// breaker rejects traffic.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit. Default 5.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before probing.
	// Default 30s.
	ResetTimeout time.Duration
	// HalfOpenMaxRequests probes may run concurrently while half-open.
	// Default 1.
	HalfOpenMaxRequests int
	// IsFailure decides whether an error counts against the dependency.
	// The default ignores nil and caller cancellation.
	IsFailure func(err error) bool
	// OnStateChange runs with the breaker's lock held and must not call back
	// into the breaker.
	OnStateChange func(name string, from, to State)
}

// Counts is a point-in-time view of a breaker.
type Counts struct {
	State               State
	ConsecutiveFailures int
	Requests            uint64
	Failures            uint64
	Rejected            uint64
}

// CircuitBreaker stops calling a dependency after repeated failures. Each
// state change starts a new generation; outcomes reported by calls admitted
// under an older generation are discarded so a slow call cannot reopen a
// circuit that has already recovered.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	counts     Counts
	generation uint64
	openedAt   time.Time
	inFlight   int
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
		now:    time.Now,
	}
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Execute runs fn when the circuit admits the call. A context that is
// already done short-circuits without touching the counts.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gen, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.report(gen, err)
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireOpen()
	return cb.counts.State
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireOpen()
	return cb.counts
}

// Reset closes the circuit and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.counts = Counts{State: StateClosed}
	cb.logger.Info("circuit reset")
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireOpen()

	switch cb.counts.State {
	case StateOpen:
		cb.counts.Rejected++
		wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
		return 0, fmt.Errorf("%w: %s (retry in %v)", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
	case StateHalfOpen:
		if cb.inFlight >= cb.cfg.HalfOpenMaxRequests {
			cb.counts.Rejected++
			return 0, fmt.Errorf("%w: %s (probe in flight)", ErrCircuitOpen, cb.name)
		}
	}
	cb.inFlight++
	cb.counts.Requests++
	return cb.generation, nil
}

func (cb *CircuitBreaker) report(gen uint64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if gen != cb.generation {
		return
	}
	cb.inFlight--

	if !cb.cfg.IsFailure(err) {
		cb.counts.ConsecutiveFailures = 0
		if cb.counts.State == StateHalfOpen {
			cb.setState(StateClosed)
			cb.logger.Info("circuit closed after successful probe")
		}
		return
	}

	cb.counts.Failures++
	cb.counts.ConsecutiveFailures++
	switch {
	case cb.counts.State == StateHalfOpen:
		cb.trip()
		cb.logger.Warn("probe failed, circuit re-opened", "error", err)
	case cb.counts.ConsecutiveFailures >= cb.cfg.FailureThreshold:
		failures := cb.counts.ConsecutiveFailures
		cb.trip()
		cb.logger.Warn("circuit opened",
			"consecutive_failures", failures,
			"reset_timeout", cb.cfg.ResetTimeout,
			"error", err,
		)
	}
}

// expireOpen moves an open circuit to half-open once ResetTimeout has passed.
func (cb *CircuitBreaker) expireOpen() {
	if cb.counts.State == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		cb.setState(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.now()
	cb.setState(StateOpen)
}

// setState starts a new generation and clears the consecutive failure count.
func (cb *CircuitBreaker) setState(to State) {
	from := cb.counts.State
	cb.generation++
	cb.inFlight = 0
	cb.counts.State = to
	cb.counts.ConsecutiveFailures = 0
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}
