// Package resilience guards calls to external lookup services with circuit
// breakers. Calls are attempted once; a tripped circuit fails fast instead of
// queueing work against a provider that is down.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the admission state of one service's breaker.
type CircuitState int

const (
	// CircuitClosed admits every call.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the reset timeout elapses.
	CircuitOpen
	// CircuitHalfOpen admits probe calls to test recovery.
	CircuitHalfOpen
)

var stateNames = map[CircuitState]string{
	CircuitClosed:   "closed",
	CircuitOpen:     "open",
	CircuitHalfOpen: "half-open",
}

func (s CircuitState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls breaker thresholds for one service.
type CircuitBreakerConfig struct {
	// Name is the guarded service, used in logs and rejection errors.
	Name string

	// FailureThreshold is how many tripping failures in a row open the
	// circuit. Default 5.
	FailureThreshold int

	// ResetTimeout is how long an open circuit rejects calls before letting
	// a probe through. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMaxProbes is how many probes must succeed to close again.
	// Default 1.
	HalfOpenMaxProbes int

	// ShouldTrip picks the errors that count as failures. Defaults to
	// IsTransient, so a 404 or a bad request never opens the circuit.
	ShouldTrip func(err error) bool

	// OnStateChange observes every transition.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the default thresholds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// FromCircuitConfig builds a breaker config from the circuit.* settings.
// Non-positive values keep the defaults.
func FromCircuitConfig(name string, failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	cfg.Name = name
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

// BreakerStatus is a point-in-time view of one breaker for status reporting.
type BreakerStatus struct {
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Rejected            int64      `json:"rejected"`
	LastError           string     `json:"last_error,omitempty"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
}

// CircuitBreaker guards calls to a single external service.
type CircuitBreaker struct {
	cfg     CircuitBreakerConfig
	nowFunc func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	probes   int
	openedAt time.Time
	rejected int64
	lastErr  string
}

// NewCircuitBreaker creates a closed breaker, filling unset thresholds with
// the defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = IsTransient
	}
	if cfg.Name == "" {
		cfg.Name = "unnamed"
	}
	return &CircuitBreaker{cfg: cfg, nowFunc: time.Now}
}

// Execute runs fn once if the circuit admits it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal is Execute for calls that return a value. A nil breaker runs fn
// unguarded.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if cb == nil {
		return fn(ctx)
	}
	if err := cb.admit(); err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	cb.settle(err)
	return val, err
}

// State returns the current state. An open circuit whose reset timeout has
// elapsed reports half-open, since the next call will be admitted as a probe.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.effectiveState()
}

// Status returns the breaker's counters for status reporting.
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	st := BreakerStatus{
		State:               cb.effectiveState().String(),
		ConsecutiveFailures: cb.failures,
		Rejected:            cb.rejected,
		LastError:           cb.lastErr,
	}
	if cb.state != CircuitClosed {
		opened := cb.openedAt
		st.OpenedAt = &opened
	}
	return st
}

// Reset closes the circuit and clears the failure counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures, cb.probes = 0, 0
	cb.moveTo(CircuitClosed)
}

func (cb *CircuitBreaker) effectiveState() CircuitState {
	if cb.state == CircuitOpen && cb.cooledDown() {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) cooledDown() bool {
	return cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

// admit decides whether a call may proceed.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return nil
	}
	if cb.cooledDown() {
		cb.probes = 0
		cb.moveTo(CircuitHalfOpen)
		return nil
	}
	cb.rejected++
	return eris.Wrapf(ErrCircuitOpen, "%s", cb.cfg.Name)
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && cb.cfg.ShouldTrip(err) {
		cb.failures++
		cb.lastErr = err.Error()
		if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.openedAt = cb.nowFunc()
			cb.moveTo(CircuitOpen)
		}
		return
	}

	if cb.state == CircuitHalfOpen {
		cb.probes++
		if cb.probes < cb.cfg.HalfOpenMaxProbes {
			return
		}
		cb.probes = 0
		cb.moveTo(CircuitClosed)
	}
	cb.failures = 0
}

// moveTo transitions the breaker and reports the change. Caller holds mu.
func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	log := zap.L().With(
		zap.String("service", cb.cfg.Name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	if to == CircuitOpen {
		log.Warn("resilience: circuit opened", zap.Int("failures", cb.failures), zap.String("last_error", cb.lastErr))
	} else {
		log.Info("resilience: circuit state change")
	}

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
