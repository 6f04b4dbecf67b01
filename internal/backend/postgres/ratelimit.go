package postgres

import (
	"strings"
	"sync"
	"time"

	"github.com/cloudzz-dev/periskope/internal/backend"
)

const defaultAuthAttempts = 5

var errRateLimited = &backend.Error{
	Status:  429,
	Code:    "over_request_rate_limit",
	Message: "Request rate limit reached",
}

// attemptLimiter allows at most max sign-in attempts per email in any
// one-minute window.
type attemptLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time // email -> timestamps of attempts
	max      int
	now      func() time.Time
}

func newAttemptLimiter(max int) *attemptLimiter {
	if max <= 0 {
		max = defaultAuthAttempts
	}
	return &attemptLimiter{
		attempts: make(map[string][]time.Time),
		max:      max,
		now:      time.Now,
	}
}

// allow records an attempt for email and reports whether it is within the
// limit. Refused attempts are not recorded.
func (l *attemptLimiter) allow(email string) bool {
	key := strings.ToLower(strings.TrimSpace(email))

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanup(now)

	recent := l.attempts[key]
	if len(recent) >= l.max {
		return false
	}
	l.attempts[key] = append(recent, now)
	return true
}

// cleanup drops attempts older than a minute. Callers hold mu.
func (l *attemptLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-time.Minute)
	for key, attempts := range l.attempts {
		var valid []time.Time
		for _, t := range attempts {
			if t.After(cutoff) {
				valid = append(valid, t)
			}
		}
		if len(valid) == 0 {
			delete(l.attempts, key)
		} else {
			l.attempts[key] = valid
		}
	}
}
