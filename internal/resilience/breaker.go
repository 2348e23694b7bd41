package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = eris.New("resilience: circuit open")

// Breaker stops calling a failing service for a cool-down period after too
// many consecutive transient failures. After the cool-down one probe call is
// let through; its outcome closes or re-opens the breaker.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker opens after threshold consecutive failures and stays open for cooldown.
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{name: name, threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Open reports whether calls are currently rejected.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rejecting()
}

func (b *Breaker) rejecting() bool {
	if b.failures < b.threshold {
		return false
	}
	if b.now().Sub(b.openedAt) < b.cooldown {
		return true
	}
	return b.probing
}

// Do runs fn unless the breaker is open. Only transient errors count as failures.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.rejecting() {
		b.mu.Unlock()
		return ErrOpen
	}
	if b.failures >= b.threshold {
		b.probing = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	switch {
	case err == nil || !IsTransient(err):
		if b.failures >= b.threshold {
			zap.L().Info("resilience: circuit closed", zap.String("service", b.name))
		}
		b.failures = 0
	default:
		b.failures++
		if b.failures >= b.threshold {
			b.openedAt = b.now()
			zap.L().Warn("resilience: circuit open",
				zap.String("service", b.name),
				zap.Int("failures", b.failures),
				zap.Duration("cooldown", b.cooldown),
			)
		}
	}
	return err
}
