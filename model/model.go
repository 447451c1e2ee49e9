package model

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/hupe1980/consultmesh/core"
	"github.com/hupe1980/consultmesh/cost"
)

// Fault describes an injected failure for one (role, round) pair.
type Fault struct {
	// Times is the number of leading attempts that fail. A negative value
	// fails every attempt.
	Times int
	// Err is returned for failing attempts; defaults to a transient server error.
	Err error
	// Usage is attached to failing attempts as consumed quota.
	Usage core.TokenUsage
}

// SimulatorOptions configure the Simulator.
type SimulatorOptions struct {
	// Model is reported as the serving model.
	Model string
	// Stances fixes the stance per role; index i applies to round i+1 and the
	// last entry repeats. Roles without an entry get a derived stance.
	Stances map[string][]core.StanceLabel
	// Latency is slept before answering, honoring ctx.
	Latency time.Duration
	// Seed varies derived stances between simulator instances.
	Seed uint64
}

// Simulator is a deterministic core.Responder for offline runs and tests. The
// reply for a given (role, round) depends only on the options, never on call
// order.
type Simulator struct {
	opts SimulatorOptions

	mu       sync.Mutex
	faults   map[string]Fault
	attempts map[string]int
}

// NewSimulator constructs a Simulator.
func NewSimulator(optFns ...func(o *SimulatorOptions)) *Simulator {
	opts := SimulatorOptions{Model: "simulator"}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Simulator{
		opts:     opts,
		faults:   make(map[string]Fault),
		attempts: make(map[string]int),
	}
}

// WithStances fixes per-round stances for a role.
func WithStances(roleID string, labels ...core.StanceLabel) func(o *SimulatorOptions) {
	return func(o *SimulatorOptions) {
		if o.Stances == nil {
			o.Stances = make(map[string][]core.StanceLabel)
		}
		o.Stances[roleID] = labels
	}
}

// WithLatency makes every call take at least d.
func WithLatency(d time.Duration) func(o *SimulatorOptions) {
	return func(o *SimulatorOptions) { o.Latency = d }
}

// InjectFault registers a failure for (roleID, round). Round 0 matches every round.
func (s *Simulator) InjectFault(roleID string, round int, f Fault) {
	if f.Err == nil {
		f.Err = core.NewTransientError(core.ErrorKindServer, fmt.Errorf("simulated failure for %s", roleID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[faultKey(roleID, round)] = f
}

// Attempts returns how many calls were made for (roleID, round).
func (s *Simulator) Attempts(roleID string, round int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.attempts[faultKey(roleID, round)]
}

// Invoke implements core.Responder.
func (s *Simulator) Invoke(ctx context.Context, req core.Request) (*core.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.opts.Latency > 0 {
		timer := time.NewTimer(s.opts.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if f, failed := s.fail(req.RoleID, req.Round); failed {
		ce := core.AsCallError(f.Err)
		if ce.Usage.Total() == 0 {
			ce.Usage = f.Usage
		}

		return nil, ce
	}

	if req.RoleID == core.SynthesisRoleID {
		return s.reply(req, synthesisText), nil
	}

	label := s.stance(req.RoleID, req.Round)
	text := fmt.Sprintf(
		"From the %s perspective in round %d, patient autonomy and wellbeing must be weighed "+
			"against fairness because the evidence suggests risks for all stakeholders. "+
			"I recommend we implement a monitored plan.\nStance: %s\nConfidence: %d/10",
		req.RoleID, req.Round, label, 6+int(label)%4)

	return s.reply(req, text), nil
}

const synthesisText = `Summary: The participants weigh patient autonomy against the risks of treatment.

Recommendation: Proceed with a monitored, time-limited plan agreed with the family.

Considerations:
- Document the patient's prior wishes
- Review the plan with the care team after one week

Confidence: medium`

func (s *Simulator) reply(req core.Request, text string) *core.Response {
	return &core.Response{
		Text: text,
		Usage: core.TokenUsage{
			PromptTokens:     cost.EstimateTokens(req.System) + cost.EstimateTokens(req.Prompt),
			CompletionTokens: cost.EstimateTokens(text),
		},
		Model: s.opts.Model,
	}
}

func (s *Simulator) fail(roleID string, round int) (Fault, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := faultKey(roleID, round)
	s.attempts[key]++
	n := s.attempts[key]

	f, ok := s.faults[key]
	if !ok {
		f, ok = s.faults[faultKey(roleID, 0)]
	}

	if !ok {
		return Fault{}, false
	}

	return f, f.Times < 0 || n <= f.Times
}

// stance is fixed when configured; otherwise derived from a hash of the role
// and drifting one step per round toward support.
func (s *Simulator) stance(roleID string, round int) core.StanceLabel {
	if labels := s.opts.Stances[roleID]; len(labels) > 0 {
		i := round - 1
		if i >= len(labels) {
			i = len(labels) - 1
		}
		if i < 0 {
			i = 0
		}

		return labels[i]
	}

	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%d/%s", s.opts.Seed, roleID)
	ordinal := int(h.Sum64() % uint64(core.StanceScaleMax+1))

	target := int(core.Support)
	for i := 1; i < round && ordinal != target; i++ {
		if ordinal < target {
			ordinal++
		} else {
			ordinal--
		}
	}

	return core.StanceLabel(ordinal)
}

func faultKey(roleID string, round int) string {
	return fmt.Sprintf("%s#%d", roleID, round)
}
