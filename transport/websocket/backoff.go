package websocket

import "time"

// Backoff is the reconnect policy shared by the room and lobby sockets.
type Backoff struct {
	Base        time.Duration
	MaxAttempts int
}

// DefaultBackoff retries after 3s, 6s, 12s, 24s and 48s, then gives up.
var DefaultBackoff = Backoff{
	Base:        3 * time.Second,
	MaxAttempts: 5,
}

// Delay returns the wait before the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return b.Base * time.Duration(1<<(attempt-1))
}

// Decision is the outcome of Backoff.Decide.
type Decision int

const (
	// Stay closed without an error: manual or clean close.
	Stay Decision = iota
	Retry
	// Exhausted means the attempt ceiling was hit on an unclean close.
	Exhausted
)

// Decide applies the reconnect rules to a close. attempts is the number of
// reconnects already made; on Retry the returned count includes the new one.
func (b Backoff) Decide(manual, clean bool, attempts int) (Decision, int, time.Duration) {
	if manual || clean {
		return Stay, attempts, 0
	}
	if attempts >= b.MaxAttempts {
		return Exhausted, attempts, 0
	}
	attempts++
	return Retry, attempts, b.Delay(attempts)
}
