package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/cynergists/specter/internal/config"
)

// Policy combines a backoff with one breaker per remote account, so a broken
// GoHighLevel location does not trip calls for other tenants.
type Policy struct {
	Backoff   Backoff
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewPolicy creates a Policy.
func NewPolicy(b Backoff, threshold int, cooldown time.Duration) *Policy {
	return &Policy{
		Backoff:   b,
		threshold: threshold,
		cooldown:  cooldown,
		breakers:  make(map[string]*Breaker),
	}
}

// FromConfig builds a Policy from the resilience config section.
func FromConfig(cfg config.ResilienceConfig) *Policy {
	return NewPolicy(Backoff{
		MaxAttempts: cfg.MaxAttempts,
		Initial:     time.Duration(cfg.InitialBackoffMs) * time.Millisecond,
		Max:         time.Duration(cfg.MaxBackoffMs) * time.Millisecond,
		Multiplier:  cfg.Multiplier,
		Jitter:      cfg.JitterFraction,
	}, cfg.FailureThreshold, time.Duration(cfg.ResetTimeoutSecs)*time.Second)
}

// Breaker returns the breaker for key, creating it on first use.
func (p *Policy) Breaker(key string) *Breaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.breakers[key]
	if !ok {
		b = NewBreaker(key, p.threshold, p.cooldown)
		p.breakers[key] = b
	}
	return b
}

// States snapshots every breaker's state.
func (p *Policy) States() map[string]State {
	p.mu.Lock()
	keys := make([]*Breaker, 0, len(p.breakers))
	for _, b := range p.breakers {
		keys = append(keys, b)
	}
	p.mu.Unlock()

	out := make(map[string]State, len(keys))
	for _, b := range keys {
		out[b.name] = b.State()
	}
	return out
}

// Call retries fn and counts the final outcome against key's breaker. A nil
// Policy calls fn once.
func Call[T any](ctx context.Context, p *Policy, key, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if p == nil {
		return fn(ctx)
	}
	return Guard(ctx, p.Breaker(key), func(ctx context.Context) (T, error) {
		return Retry(ctx, p.Backoff, op, fn)
	})
}
