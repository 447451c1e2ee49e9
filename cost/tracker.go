// Package cost accumulates token, time and monetary totals for a deliberation
// session and answers budget queries.
package cost

import (
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/consultmesh/core"
)

// Attempt is one responder attempt as seen by the tracker. Failed attempts
// are recorded too; they may still have consumed tokens.
type Attempt struct {
	RoleID  string
	Round   int
	Model   string
	Usage   core.TokenUsage
	Latency time.Duration
	Failed  bool
}

// Options configures a Tracker.
type Options struct {
	// Budget is the optional spending ceiling in USD.
	Budget *float64
	// Prices used to convert tokens into cost. Unknown models cost 0.
	Prices PriceTable
	// Now is the clock used for wall time.
	Now func() time.Time
}

// Tracker is the session cost accumulator. It is safe for concurrent use;
// Record serializes updates so concurrent attempts never lose an increment.
type Tracker struct {
	mu      sync.RWMutex
	prices  PriceTable
	budget  *float64
	now     func() time.Time
	started time.Time
	stopped time.Time

	rec     core.CostRecord
	byModel map[string]*modelTotals
}

type modelTotals struct {
	in, out int64
	price   Pricing
	known   bool
}

// NewTracker creates a tracker and starts its wall clock.
func NewTracker(optFns ...func(o *Options)) *Tracker {
	opts := Options{Prices: DefaultPriceTable(), Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Prices == nil {
		opts.Prices = PriceTable{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	t := &Tracker{
		prices:  opts.Prices,
		now:     opts.Now,
		byModel: map[string]*modelTotals{},
	}
	if opts.Budget != nil {
		b := *opts.Budget
		t.budget = &b
	}
	t.started = t.now()

	return t
}

// WithBudget sets the spending ceiling.
func WithBudget(b *float64) func(o *Options) {
	return func(o *Options) { o.Budget = b }
}

// WithPrices replaces the price table.
func WithPrices(p PriceTable) func(o *Options) {
	return func(o *Options) { o.Prices = p }
}

// Price returns what a single attempt costs under the tracker's price table.
func (t *Tracker) Price(a Attempt) float64 {
	p, ok := t.prices.Lookup(a.Model)
	if !ok {
		return 0
	}

	a = a.normalized()

	return p.Cost(int64(a.Usage.PromptTokens), int64(a.Usage.CompletionTokens))
}

// normalized drops negative token counts and latency so totals never shrink.
func (a Attempt) normalized() Attempt {
	a.Usage.PromptTokens = max(a.Usage.PromptTokens, 0)
	a.Usage.CompletionTokens = max(a.Usage.CompletionTokens, 0)
	a.Latency = max(a.Latency, 0)

	return a
}

// Record adds one attempt to the totals and returns the updated record.
func (t *Tracker) Record(a Attempt) core.CostRecord {
	a = a.normalized()

	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.byModel[a.Model]
	if !ok {
		m = &modelTotals{}
		m.price, m.known = t.prices.Lookup(a.Model)
		t.byModel[a.Model] = m
	}
	m.in += int64(a.Usage.PromptTokens)
	m.out += int64(a.Usage.CompletionTokens)

	t.rec.TokensIn += int64(a.Usage.PromptTokens)
	t.rec.TokensOut += int64(a.Usage.CompletionTokens)
	t.rec.CallTime += a.Latency
	t.rec.Attempts++
	if a.Failed {
		t.rec.FailedAttempts++
	}
	t.rec.Cost = t.costLocked()

	return t.snapshotLocked()
}

// costLocked derives spend from per-model token totals so the result does
// not depend on the order attempts were recorded in.
func (t *Tracker) costLocked() float64 {
	models := make([]string, 0, len(t.byModel))
	for name := range t.byModel {
		models = append(models, name)
	}
	sort.Strings(models)

	total := 0.0
	for _, name := range models {
		m := t.byModel[name]
		if m.known {
			total += m.price.Cost(m.in, m.out)
		}
	}

	return total
}

// Totals returns the current record. WallTime runs until Stop is called.
func (t *Tracker) Totals() core.CostRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() core.CostRecord {
	rec := t.rec.Clone()
	rec.Budget = cloneBudget(t.budget)
	end := t.stopped
	if end.IsZero() {
		end = t.now()
	}
	rec.WallTime = end.Sub(t.started)

	return rec
}

// Stop freezes the wall clock.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped.IsZero() {
		t.stopped = t.now()
	}
}

// RemainingBudget returns budget minus spend; ok is false when unbounded.
func (t *Tracker) RemainingBudget() (remaining float64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.budget == nil {
		return 0, false
	}

	return *t.budget - t.rec.Cost, true
}

// Exceeded reports whether the remaining budget went negative.
func (t *Tracker) Exceeded() bool {
	remaining, ok := t.RemainingBudget()
	return ok && remaining < 0
}

func cloneBudget(b *float64) *float64 {
	if b == nil {
		return nil
	}
	v := *b

	return &v
}
