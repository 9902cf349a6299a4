package retry

import "time"

// Default policy values.
const (
	DefaultMaxAttempts   = 3
	DefaultInitialDelay  = 1000 * time.Millisecond
	DefaultMaxDelay      = 10000 * time.Millisecond
	DefaultBackoffFactor = 2.0
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	MaxAttempts   int           `yaml:"max_attempts" json:"maxAttempts"`
	InitialDelay  time.Duration `yaml:"initial_delay" json:"initialDelay"`
	MaxDelay      time.Duration `yaml:"max_delay" json:"maxDelay"`
	BackoffFactor float64       `yaml:"backoff_factor" json:"backoffFactor"`
}

// DefaultPolicy returns 3 attempts starting at 1s, doubling, capped at 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   DefaultMaxAttempts,
		InitialDelay:  DefaultInitialDelay,
		MaxDelay:      DefaultMaxDelay,
		BackoffFactor: DefaultBackoffFactor,
	}
}

// Normalize clamps the policy into its valid range: at least one attempt,
// non-negative delays, MaxDelay >= InitialDelay and a factor of at least 1.
func (p Policy) Normalize() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 1
	}
	return p
}

// Delays lists the waits that separate consecutive attempts when every
// attempt fails. Its length is MaxAttempts-1.
func (p Policy) Delays() []time.Duration {
	p = p.Normalize()
	delays := make([]time.Duration, 0, p.MaxAttempts-1)
	delay := p.InitialDelay
	for i := 1; i < p.MaxAttempts; i++ {
		delays = append(delays, delay)
		delay = p.next(delay)
	}
	return delays
}

func (p Policy) next(delay time.Duration) time.Duration {
	grown := time.Duration(float64(delay) * p.BackoffFactor)
	if grown > p.MaxDelay || grown < 0 {
		return p.MaxDelay
	}
	return grown
}

// Merge overlays the non-zero fields of override on p. It is how sparse
// configuration sections are combined with the defaults.
func (p Policy) Merge(override Policy) Policy {
	if override.MaxAttempts != 0 {
		p.MaxAttempts = override.MaxAttempts
	}
	if override.InitialDelay != 0 {
		p.InitialDelay = override.InitialDelay
	}
	if override.MaxDelay != 0 {
		p.MaxDelay = override.MaxDelay
	}
	if override.BackoffFactor != 0 {
		p.BackoffFactor = override.BackoffFactor
	}
	return p
}
