package wstransport

import (
	"math"
	"math/rand"
	"time"
)

// Reconnect defaults: exponential backoff from half a second up to thirty
// seconds with twenty percent jitter, retrying until Close.
const (
	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxDelay  = 30 * time.Second
	defaultJitter    = 0.2
)

// ReconnectPolicy controls channel re-dialing after a dropped connection.
// The zero value disables reconnecting; DefaultReconnectPolicy enables it
// with the package defaults.
type ReconnectPolicy struct {
	Enabled     bool
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // fraction of the delay, 0..1
	MaxAttempts int     // <= 0 means unbounded
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:   true,
		BaseDelay: defaultBaseDelay,
		MaxDelay:  defaultMaxDelay,
		Jitter:    defaultJitter,
	}
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = defaultJitter
	}
	return p
}

// Delay computes the wait before the given zero-based attempt: exponential
// growth capped at MaxDelay, spread by +/- Jitter so parallel clients do
// not thunder in lockstep.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	backoff := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		spread := (rand.Float64()*2 - 1) * p.Jitter // -Jitter..+Jitter
		backoff *= 1 + spread
	}
	if backoff < 0 {
		return 0
	}
	return time.Duration(backoff)
}
