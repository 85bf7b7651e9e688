package acquire

import (
	"time"

	"github.com/runnerr0/seedvault/internal/failure"
)

// Decision is the outcome of a retry policy.
type Decision struct {
	Retry bool
	After time.Duration
}

// Policy decides whether a failed chunk is attempted again.
type Policy struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
}

// Decide returns what to do after attempt (1-based) failed with kind. Only
// transient failures are retried, with the delay doubling from Base up to
// Max, and never more than MaxRetries times.
func (p Policy) Decide(kind failure.Kind, attempt int) Decision {
	if kind != failure.Transient || attempt > p.MaxRetries {
		return Decision{}
	}
	return Decision{Retry: true, After: p.backoff(attempt)}
}

func (p Policy) backoff(attempt int) time.Duration {
	base, max := p.Base, p.Max
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}
