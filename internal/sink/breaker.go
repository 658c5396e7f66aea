package sink

import (
	"sync"
	"time"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

type BreakerConfig struct {
	FailureThreshold int           // consecutive failures to open
	OpenDuration     time.Duration // how long to stay open
}

// Breaker stops a sink from calling a destination that keeps failing. After
// OpenDuration one trial call is let through; its outcome closes or reopens.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu      sync.Mutex
	state   BreakerState
	fails   int
	opensAt time.Time
	trial   bool
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 10 * time.Second
	}
	return &Breaker{cfg: cfg, now: time.Now, state: BreakerClosed}
}

type BreakerStats struct {
	State    BreakerState `json:"state"`
	Failures int          `json:"failures"`
	OpensAt  time.Time    `json:"opens_at"`
}

func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{State: b.state, Failures: b.fails, OpensAt: b.opensAt}
}

// Allow reports whether a call may go out now. Every allowed call must be
// followed by Done.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.opensAt) < b.cfg.OpenDuration {
			return false
		}
		b.state = BreakerHalfOpen
		b.trial = false
		fallthrough
	case BreakerHalfOpen:
		if b.trial {
			return false
		}
		b.trial = true
		return true
	default:
		return true
	}
}

func (b *Breaker) Done(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		if success {
			b.fails = 0
			return
		}
		b.fails++
		if b.fails >= b.cfg.FailureThreshold {
			b.state = BreakerOpen
			b.opensAt = b.now()
		}
	case BreakerHalfOpen:
		b.trial = false
		if success {
			b.state = BreakerClosed
			b.fails = 0
			return
		}
		b.state = BreakerOpen
		b.opensAt = b.now()
		b.fails = b.cfg.FailureThreshold
	}
}
