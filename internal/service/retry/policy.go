package retry

import (
	"math"
	"time"
)

// Policy is exponential backoff with proportional jitter.
type Policy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	JitterFactor float64
}

func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 5 * time.Second,
		Multiplier:   2,
		MaxDelay:     300 * time.Second,
		JitterFactor: 0.1,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.JitterFactor < 0 {
		p.JitterFactor = 0
	}
	return p
}

// Delay is the pre-jitter delay for attempt: min(initial * multiplier^attempt, max).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d >= float64(p.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.MaxDelay
	}

	return time.Duration(d)
}

// Next adds jitter to Delay(attempt). r is a uniform sample in [0, 1), so
// the result lies in [delay, delay*(1+JitterFactor)].
func (p Policy) Next(attempt int, r float64) time.Duration {
	delay := p.Delay(attempt)
	jitter := time.Duration(float64(delay) * p.JitterFactor * r)
	return delay + jitter
}
