package core

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCallLimitExceeded is returned once a session used its attempt allowance.
var ErrCallLimitExceeded = errors.New("call limit exceeded")

// CallLimiter caps the number of responder attempts a session may issue,
// retries included.
type CallLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewCallLimiter creates a limiter. If max == 0, unlimited attempts are allowed.
func NewCallLimiter(max int) *CallLimiter {
	return &CallLimiter{max: max}
}

// Acquire reserves one attempt. It fails without consuming the allowance when
// the limit is already reached.
func (l *CallLimiter) Acquire() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max > 0 && l.count >= l.max {
		return fmt.Errorf("%w: %d attempts", ErrCallLimitExceeded, l.max)
	}
	l.count++

	return nil
}

// Count returns the number of attempts acquired.
func (l *CallLimiter) Count() int {
	if l == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Remaining returns how many attempts are left, or -1 when unlimited.
func (l *CallLimiter) Remaining() int {
	if l == nil {
		return -1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max == 0 {
		return -1 // unlimited
	}

	return l.max - l.count
}
