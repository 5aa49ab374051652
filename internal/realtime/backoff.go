package realtime

import "time"

// Backoff is a linear reconnect policy.
type Backoff struct {
	Base        time.Duration
	MaxAttempts int
}

func DefaultBackoff() Backoff {
	return Backoff{
		Base:        3 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns the wait before the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	return b.Base * time.Duration(attempt)
}

// Exhausted reports whether attempts already made leave no room for another.
func (b Backoff) Exhausted(attempts int) bool {
	return attempts >= b.MaxAttempts
}
