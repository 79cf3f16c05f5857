package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BreakerState is the state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets calls through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until ResetTimeout has passed.
	BreakerOpen
	// BreakerHalfOpen lets one probe through to test recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned when a call is rejected by an open breaker.
var ErrBreakerOpen = eris.New("circuit breaker is open")

// BreakerConfig controls circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold int
	ResetTimeout     time.Duration
}

// DefaultBreakerConfig opens after 5 failures and probes after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Breaker fails fast while an upstream keeps failing.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewBreaker creates a closed breaker. name is used in logs.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	d := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = d.ResetTimeout
	}
	return &Breaker{name: name, cfg: cfg, nowFunc: time.Now}
}

// Allow reports whether a call may proceed, moving an open breaker to
// half-open once the reset timeout has passed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if b.nowFunc().Sub(b.lastFailure) < b.cfg.ResetTimeout {
			return ErrBreakerOpen
		}
		b.transition(BreakerHalfOpen)
	}
	return nil
}

// Record feeds a call outcome into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		if b.state != BreakerClosed {
			b.transition(BreakerClosed)
		}
		return
	}

	b.failures++
	b.lastFailure = b.nowFunc()
	if b.state == BreakerHalfOpen || b.failures >= b.cfg.FailureThreshold {
		if b.state != BreakerOpen {
			b.transition(BreakerOpen)
		}
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && b.nowFunc().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
		return BreakerHalfOpen
	}
	return b.state
}

func (b *Breaker) transition(to BreakerState) {
	zap.L().Info("circuit breaker state change",
		zap.String("provider", b.name),
		zap.Stringer("from", b.state),
		zap.Stringer("to", to),
	)
	b.state = to
}
