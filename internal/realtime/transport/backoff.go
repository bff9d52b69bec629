package transport

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff is an exponential reconnect policy
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff starts at one second, doubles, caps at 30 seconds and gives up after 5 attempts
var DefaultBackoff = Backoff{
	Initial:     time.Second,
	Max:         30 * time.Second,
	MaxAttempts: 5,
}

// NewBackOff starts a retry sequence for the policy. NextBackOff returns
// backoff.Stop once MaxAttempts delays have been handed out.
func (b Backoff) NewBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.Initial
	exp.Multiplier = 2
	exp.MaxInterval = b.Max
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(b.MaxAttempts))
}
