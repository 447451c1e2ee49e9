// Package scheduler runs batches of independent responder calls on a bounded
// worker pool. It retries transient failures with exponential backoff and
// jitter, records every attempt with a cost recorder, and returns exactly one
// outcome per submitted item in input order regardless of completion order.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/hupe1980/consultmesh/core"
	"github.com/hupe1980/consultmesh/cost"
	"github.com/hupe1980/consultmesh/logging"
)

// Item is one unit of work: a single request for one role in one round.
type Item struct {
	Request core.Request
}

// Outcome is the resolved result of an Item.
type Outcome struct {
	Status   core.Outcome
	Response *core.Response
	// Err is the last error when Status is failed.
	Err error
	// Attempts issued for the item; zero when skipped.
	Attempts int
	// Usage summed over all attempts.
	Usage core.TokenUsage
	// Latency summed over all attempts, backoff excluded.
	Latency time.Duration
}

// Recorder receives one call per attempt. *cost.Tracker satisfies it.
type Recorder interface {
	Record(a cost.Attempt) core.CostRecord
}

// AttemptInfo describes a finished attempt for observers.
type AttemptInfo struct {
	Item    Item
	Attempt int
	Usage   core.TokenUsage
	Latency time.Duration
	Model   string
	// Err is nil on success.
	Err *core.CallError
	// WillRetry reports whether another attempt is scheduled.
	WillRetry bool
}

// Options configures a Scheduler.
type Options struct {
	Config

	// Recorder is charged once per attempt, failed attempts included.
	Recorder Recorder
	// Limiter caps total attempts; nil means unlimited.
	Limiter *core.CallLimiter
	// Logger receives scheduler events.
	Logger logging.Logger
	// Tracer creates a span per attempt.
	Tracer trace.Tracer
	// OnAttempt is invoked synchronously after every attempt.
	OnAttempt func(AttemptInfo)

	// Sleep waits between retries; it returns early with ctx.Err() on cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand returns a value in [0,1) for jitter.
	Rand func() float64
}

// Scheduler is safe for concurrent use; each Submit call runs its own pool.
type Scheduler struct {
	responder core.Responder
	opts      Options
	pacer     *rate.Limiter
}

// New creates a Scheduler bound to responder.
func New(responder core.Responder, optFns ...func(o *Options)) *Scheduler {
	opts := Options{
		Config: DefaultConfig(),
		Logger: logging.NoOpLogger{},
		Tracer: noop.NewTracerProvider().Tracer("consultmesh/scheduler"),
		Sleep:  sleep,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("consultmesh/scheduler")
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}

	s := &Scheduler{responder: responder, opts: opts}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = opts.Concurrency
		}
		s.pacer = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return s
}

// WithConfig replaces the scheduler configuration.
func WithConfig(cfg Config) func(o *Options) {
	return func(o *Options) { o.Config = cfg }
}

// WithRecorder sets the per-attempt cost recorder.
func WithRecorder(r Recorder) func(o *Options) {
	return func(o *Options) { o.Recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// Submit executes items with at most Concurrency in flight and returns one
// outcome per item, out[i] belonging to items[i]. Items are admitted in input
// order. Cancelling ctx stops new attempts and retries; attempts already in
// flight run to their own timeout and their results are kept. Items that
// never started resolve as skipped.
func (s *Scheduler) Submit(ctx context.Context, items []Item) []Outcome {
	out := make([]Outcome, len(items))
	if len(items) == 0 {
		return out
	}

	queue := make(chan int, len(items))
	for i := range items {
		queue <- i
	}
	close(queue)

	workers := s.opts.Concurrency
	if workers > len(items) {
		workers = len(items)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				out[i] = s.run(ctx, items[i])
			}
		}()
	}
	wg.Wait()

	return out
}

func (s *Scheduler) run(ctx context.Context, item Item) Outcome {
	var (
		res     Outcome
		lastErr error
	)

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if err := s.admit(ctx); err != nil {
			return s.stop(res, lastErr, item, err)
		}

		resp, callErr, latency := s.attempt(ctx, item, attempt)
		res.Attempts = attempt
		res.Latency += latency

		usage := core.TokenUsage{}
		model := item.Request.Params.Model
		if resp != nil {
			usage = resp.Usage
			if resp.Model != "" {
				model = resp.Model
			}
		} else if callErr != nil {
			usage = callErr.Usage
		}
		res.Usage = res.Usage.Add(usage)

		if s.opts.Recorder != nil {
			s.opts.Recorder.Record(cost.Attempt{
				RoleID:  item.Request.RoleID,
				Round:   item.Request.Round,
				Model:   model,
				Usage:   usage,
				Latency: latency,
				Failed:  callErr != nil,
			})
		}

		willRetry := callErr != nil && callErr.Retryable && attempt < s.opts.MaxAttempts && ctx.Err() == nil
		if s.opts.OnAttempt != nil {
			s.opts.OnAttempt(AttemptInfo{Item: item, Attempt: attempt, Usage: usage, Latency: latency, Model: model, Err: callErr, WillRetry: willRetry})
		}

		if callErr == nil {
			res.Status = core.OutcomeOK
			res.Response = resp
			return res
		}

		lastErr = callErr
		s.opts.Logger.Warn("scheduler.attempt.failed",
			"role", item.Request.RoleID, "round", item.Request.Round, "attempt", attempt,
			"kind", string(callErr.Kind), "retryable", callErr.Retryable, "error", callErr)

		if !willRetry {
			break
		}

		backoff := s.opts.Backoff(attempt, s.opts.Rand)
		if err := s.opts.Sleep(ctx, backoff); err != nil {
			s.opts.Logger.Debug("scheduler.retry.cancelled", "role", item.Request.RoleID, "round", item.Request.Round, "attempt", attempt)
			break
		}
	}

	res.Status = core.OutcomeFailed
	res.Err = lastErr

	return res
}

// admit blocks until a new attempt may start.
func (s *Scheduler) admit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.pacer != nil {
		if err := s.pacer.Wait(ctx); err != nil {
			return err
		}
	}
	if err := s.opts.Limiter.Acquire(); err != nil {
		return err
	}

	return nil
}

// stop resolves an item that could not start another attempt.
func (s *Scheduler) stop(res Outcome, lastErr error, item Item, reason error) Outcome {
	if res.Attempts == 0 {
		s.opts.Logger.Debug("scheduler.item.skipped", "role", item.Request.RoleID, "round", item.Request.Round, "reason", reason)
		res.Status = core.OutcomeSkipped
		res.Err = reason
		return res
	}

	res.Status = core.OutcomeFailed
	if lastErr == nil {
		lastErr = reason
	}
	res.Err = lastErr

	return res
}

// attempt performs one responder call. The call context is detached from
// ctx cancellation so an in-flight call is never torn down mid-response; the
// per-attempt timeout still bounds it.
func (s *Scheduler) attempt(ctx context.Context, item Item, n int) (*core.Response, *core.CallError, time.Duration) {
	callCtx := context.WithoutCancel(ctx)
	if s.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, s.opts.AttemptTimeout)
		defer cancel()
	}

	callCtx, span := s.opts.Tracer.Start(callCtx, "scheduler.attempt", trace.WithAttributes(
		attribute.String("consult.role", item.Request.RoleID),
		attribute.Int("consult.round", item.Request.Round),
		attribute.Int("consult.attempt", n),
	))
	defer span.End()

	start := time.Now()
	resp, err := s.invoke(callCtx, item.Request)
	latency := time.Since(start)

	if err == nil && resp == nil {
		err = core.NewPermanentError(core.ErrorKindUnknown, errors.New("responder returned no response"))
	}
	if err != nil {
		callErr := core.AsCallError(err)
		if callCtx.Err() != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !callErr.Retryable && callErr.Kind != core.ErrorKindTimeout {
			callErr = &core.CallError{Kind: core.ErrorKindTimeout, Retryable: true, Err: err, Usage: callErr.Usage}
		}
		span.RecordError(callErr)
		span.SetStatus(codes.Error, string(callErr.Kind))
		return nil, callErr, latency
	}

	span.SetAttributes(attribute.Int("consult.tokens", resp.Usage.Total()))

	return resp, nil, latency
}

func (s *Scheduler) invoke(ctx context.Context, req core.Request) (resp *core.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = core.NewPermanentError(core.ErrorKindUnknown, fmt.Errorf("responder panic: %v", r))
		}
	}()

	return s.responder.Invoke(ctx, req)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
