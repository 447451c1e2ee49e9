package core

import "time"

// CostRecord holds running totals for a session. Totals never decrease.
type CostRecord struct {
	TokensIn       int64         `json:"tokens_in"`
	TokensOut      int64         `json:"tokens_out"`
	Cost           float64       `json:"cost"`
	CallTime       time.Duration `json:"call_time"`
	WallTime       time.Duration `json:"wall_time"`
	Attempts       int           `json:"attempts"`
	FailedAttempts int           `json:"failed_attempts"`
	// Budget is the configured ceiling; nil means unbounded.
	Budget *float64 `json:"budget,omitempty"`
}

// AverageLatency returns the mean attempt latency.
func (c CostRecord) AverageLatency() time.Duration {
	if c.Attempts == 0 {
		return 0
	}

	return c.CallTime / time.Duration(c.Attempts)
}

// ErrorRate returns failed attempts over all attempts.
func (c CostRecord) ErrorRate() float64 {
	if c.Attempts == 0 {
		return 0
	}

	return float64(c.FailedAttempts) / float64(c.Attempts)
}

// Remaining returns budget minus spend. ok is false when unbounded.
func (c CostRecord) Remaining() (amount float64, ok bool) {
	if c.Budget == nil {
		return 0, false
	}

	return *c.Budget - c.Cost, true
}

// Clone returns a copy that shares no pointers with c.
func (c CostRecord) Clone() CostRecord {
	cp := c
	cp.Budget = cloneFloat(c.Budget)

	return cp
}
