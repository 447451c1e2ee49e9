package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/consultmesh/core"
	"github.com/hupe1980/consultmesh/memory"
	"github.com/hupe1980/consultmesh/scheduler"
)

// runRound fans out one request per role and collects one turn per role in
// role-list order. It never fails: unusable responses become failed turns and
// requests cut off by the round timeout become skipped or failed turns.
func (e *Engine) runRound(ctx context.Context, r *run, k int) core.Round {
	ctx, span := e.opts.Tracer.Start(ctx, "engine.round", trace.WithAttributes(
		attribute.String("consult.session", r.sess.ID),
		attribute.Int("consult.round", k),
	))
	defer span.End()

	round := core.Round{Index: k, StartedAt: time.Now(), Turns: make([]core.Turn, len(r.roles))}

	if e.opts.RoundTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.RoundTimeout)
		defer cancel()
	}

	history := r.sess.Rounds()
	names := make(map[string]string, len(r.roles))
	participants := make([]string, len(r.roles))
	for i, role := range r.roles {
		names[role.ID] = role.Name
		participants[i] = role.Name
	}

	var (
		items []scheduler.Item
		slots []int
	)

	for i, role := range r.roles {
		round.Turns[i] = core.Turn{RoleID: role.ID, Round: k}

		data := PromptData{
			Case:         r.sess.CaseText,
			Role:         role,
			Round:        k,
			MaxRounds:    r.sess.Settings.MaxRounds,
			Participants: participants,
			History:      memory.Entries(memory.Window(history, role.MemoryWindow), names, e.opts.MaxHistoryChars),
		}

		req, err := e.request(role, data)
		if err != nil {
			e.opts.Logger.Error("engine.prompt.failed", "session", r.sess.ID, "round", k, "role", role.ID, "error", err)
			round.Turns[i].Outcome = core.OutcomeFailed
			round.Turns[i].Error = err.Error()
			continue
		}

		items = append(items, scheduler.Item{Request: req})
		slots = append(slots, i)
	}

	outcomes := r.sched.Submit(ctx, items)

	for j, out := range outcomes {
		t := &round.Turns[slots[j]]
		t.Outcome = out.Status
		t.Attempts = out.Attempts
		t.Usage = out.Usage
		t.Latency = out.Latency
		if out.Response != nil && out.Status == core.OutcomeOK {
			t.Text = out.Response.Text
		}
		if out.Err != nil {
			t.Error = out.Err.Error()
		}

		*t = e.opts.Aggregator.Annotate(*t)
	}

	round.Duration = time.Since(round.StartedAt)
	span.SetAttributes(
		attribute.Int("consult.turns.ok", round.Count(core.OutcomeOK)),
		attribute.Int("consult.turns.failed", round.Count(core.OutcomeFailed)),
		attribute.Int("consult.turns.skipped", round.Count(core.OutcomeSkipped)),
	)

	return round
}

func (e *Engine) request(role core.Role, data PromptData) (core.Request, error) {
	prompt, err := e.prompt.Render(data)
	if err != nil {
		return core.Request{}, fmt.Errorf("render prompt: %w", err)
	}

	system, err := systemPrompt(role, data)
	if err != nil {
		return core.Request{}, fmt.Errorf("render persona: %w", err)
	}

	return core.Request{
		RoleID: role.ID,
		Round:  data.Round,
		System: system,
		Prompt: prompt,
		Params: e.opts.Parameters,
	}, nil
}

// skippedRound records round k without issuing any request.
func skippedRound(r *run, k int) core.Round {
	round := core.Round{Index: k, StartedAt: time.Now(), Turns: make([]core.Turn, len(r.roles))}
	for i, role := range r.roles {
		round.Turns[i] = core.Turn{RoleID: role.ID, Round: k, Outcome: core.OutcomeSkipped}
	}

	return round
}
