package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/consultmesh/core"
	"github.com/hupe1980/consultmesh/cost"
	"github.com/hupe1980/consultmesh/internal/testutil"
)

func items(roles ...string) []Item {
	out := make([]Item, len(roles))
	for i, r := range roles {
		out[i] = Item{Request: core.Request{RoleID: r, Round: 1, Params: core.Parameters{Model: "gpt-4-turbo"}}}
	}
	return out
}

func noSleep(o *Options) {
	o.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
}

func withConfig(concurrency, attempts int) func(o *Options) {
	return func(o *Options) {
		o.Concurrency = concurrency
		o.MaxAttempts = attempts
		o.AttemptTimeout = time.Second
	}
}

func TestSubmit_PreservesInputOrder(t *testing.T) {
	delays := map[string]time.Duration{"a": 30 * time.Millisecond, "b": 0, "c": 10 * time.Millisecond}
	r := core.ResponderFunc(func(_ context.Context, req core.Request) (*core.Response, error) {
		time.Sleep(delays[req.RoleID])
		return &core.Response{Text: "from " + req.RoleID}, nil
	})

	out := New(r, withConfig(3, 1)).Submit(context.Background(), items("a", "b", "c"))
	require.Len(t, out, 3)
	for i, role := range []string{"a", "b", "c"} {
		assert.Equal(t, core.OutcomeOK, out[i].Status)
		assert.Equal(t, "from "+role, out[i].Response.Text)
		assert.Equal(t, 1, out[i].Attempts)
	}
}

func TestSubmit_ConcurrencyCeiling(t *testing.T) {
	var inFlight, peak int32
	r := core.ResponderFunc(func(context.Context, core.Request) (*core.Response, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &core.Response{Text: "ok"}, nil
	})

	out := New(r, withConfig(2, 1)).Submit(context.Background(), items("a", "b", "c", "d", "e", "f"))
	assert.Len(t, out, 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestSubmit_FIFOAdmission(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	r := core.ResponderFunc(func(_ context.Context, req core.Request) (*core.Response, error) {
		mu.Lock()
		order = append(order, req.RoleID)
		mu.Unlock()
		return &core.Response{Text: "ok"}, nil
	})

	New(r, withConfig(1, 1)).Submit(context.Background(), items("a", "b", "c", "d"))
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestSubmit_RetriesTransientUntilExhausted(t *testing.T) {
	tracker := cost.NewTracker()
	var backoffs []time.Duration
	r := core.ResponderFunc(func(context.Context, core.Request) (*core.Response, error) {
		e := core.NewTransientError(core.ErrorKindRateLimited, errors.New("429"))
		e.Usage = core.TokenUsage{PromptTokens: 100}
		return nil, e
	})

	s := New(r, withConfig(2, 3), WithRecorder(tracker), func(o *Options) {
		o.InitialBackoff = time.Second
		o.BackoffMultiplier = 2
		o.Jitter = 0
		o.Sleep = func(_ context.Context, d time.Duration) error {
			backoffs = append(backoffs, d)
			return nil
		}
	})

	out := s.Submit(context.Background(), items("a"))
	assert.Equal(t, core.OutcomeFailed, out[0].Status)
	assert.Equal(t, 3, out[0].Attempts)
	assert.ErrorIs(t, out[0].Err, core.ErrTransientCall)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, backoffs)

	totals := tracker.Totals()
	assert.Equal(t, 3, totals.Attempts)
	assert.Equal(t, 3, totals.FailedAttempts)
	assert.EqualValues(t, 300, totals.TokensIn)
}

func TestSubmit_PermanentFailureNotRetried(t *testing.T) {
	m := &testutil.MockResponder{}
	m.On("Invoke", mock.Anything, mock.MatchedBy(func(req core.Request) bool { return req.RoleID == "a" })).
		Return(nil, core.NewPermanentError(core.ErrorKindUnauthorized, errors.New("bad key"))).Once()
	m.On("Invoke", mock.Anything, mock.MatchedBy(func(req core.Request) bool { return req.RoleID == "b" })).
		Return(&core.Response{Text: "fine"}, nil).Once()

	out := New(m, withConfig(2, 3), noSleep).Submit(context.Background(), items("a", "b"))
	assert.Equal(t, core.OutcomeFailed, out[0].Status)
	assert.Equal(t, 1, out[0].Attempts)
	assert.ErrorIs(t, out[0].Err, core.ErrPermanentCall)
	assert.Equal(t, core.OutcomeOK, out[1].Status, "sibling failure must not abort the batch")
	m.AssertExpectations(t)
}

func TestSubmit_NonCallErrorIsPermanent(t *testing.T) {
	var calls int32
	r := core.ResponderFunc(func(context.Context, core.Request) (*core.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("opaque")
	})

	out := New(r, withConfig(1, 3), noSleep).Submit(context.Background(), items("a"))
	assert.Equal(t, core.OutcomeFailed, out[0].Status)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestSubmit_RecoversAfterTransient(t *testing.T) {
	resp := testutil.NewScriptedResponder().On("a",
		testutil.Reply{Err: core.NewTransientError(core.ErrorKindServer, errors.New("503"))},
		testutil.Reply{Text: "second time", Usage: core.TokenUsage{PromptTokens: 5, CompletionTokens: 5}},
	)

	var infos []AttemptInfo
	out := New(resp, withConfig(1, 3), noSleep, func(o *Options) {
		o.OnAttempt = func(i AttemptInfo) { infos = append(infos, i) }
	}).Submit(context.Background(), items("a"))

	assert.Equal(t, core.OutcomeOK, out[0].Status)
	assert.Equal(t, 2, out[0].Attempts)
	assert.Equal(t, 10, out[0].Usage.Total())
	require.Len(t, infos, 2)
	assert.True(t, infos[0].WillRetry)
	assert.Nil(t, infos[1].Err)
}

func TestSubmit_AttemptTimeoutIsRetryable(t *testing.T) {
	var calls int32
	r := core.ResponderFunc(func(ctx context.Context, _ core.Request) (*core.Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &core.Response{Text: "ok"}, nil
	})

	out := New(r, noSleep, func(o *Options) {
		o.Concurrency = 1
		o.MaxAttempts = 2
		o.AttemptTimeout = 20 * time.Millisecond
	}).Submit(context.Background(), items("a"))

	assert.Equal(t, core.OutcomeOK, out[0].Status)
	assert.Equal(t, 2, out[0].Attempts)
}

func TestSubmit_CancellationSkipsUnstartedAndKeepsInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})

	r := core.ResponderFunc(func(callCtx context.Context, req core.Request) (*core.Response, error) {
		if req.RoleID == "a" {
			close(started)
			<-release
			if callCtx.Err() != nil {
				return nil, callCtx.Err()
			}
			return &core.Response{Text: "finished"}, nil
		}
		return &core.Response{Text: "should not run"}, nil
	})

	done := make(chan []Outcome)
	go func() {
		done <- New(r, withConfig(1, 3), noSleep).Submit(ctx, items("a", "b", "c"))
	}()

	<-started
	cancel()
	close(release)
	out := <-done

	assert.Equal(t, core.OutcomeOK, out[0].Status, "in-flight attempt runs to completion")
	assert.Equal(t, "finished", out[0].Response.Text)
	assert.Equal(t, core.OutcomeSkipped, out[1].Status)
	assert.Equal(t, 0, out[1].Attempts)
	assert.Equal(t, core.OutcomeSkipped, out[2].Status)
}

func TestSubmit_CancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	r := core.ResponderFunc(func(context.Context, core.Request) (*core.Response, error) {
		atomic.AddInt32(&calls, 1)
		cancel()
		return nil, core.NewTransientError(core.ErrorKindTransport, errors.New("reset"))
	})

	out := New(r, withConfig(1, 5)).Submit(ctx, items("a"))
	assert.Equal(t, core.OutcomeFailed, out[0].Status)
	assert.ErrorIs(t, out[0].Err, core.ErrTransientCall)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestSubmit_CallLimiter(t *testing.T) {
	r := core.ResponderFunc(func(context.Context, core.Request) (*core.Response, error) {
		return nil, core.NewTransientError(core.ErrorKindServer, errors.New("503"))
	})

	limiter := core.NewCallLimiter(2)
	out := New(r, withConfig(1, 3), noSleep, func(o *Options) { o.Limiter = limiter }).
		Submit(context.Background(), items("a", "b"))

	assert.Equal(t, core.OutcomeFailed, out[0].Status)
	assert.Equal(t, 2, out[0].Attempts)
	assert.ErrorIs(t, out[0].Err, core.ErrTransientCall)
	assert.Equal(t, core.OutcomeSkipped, out[1].Status)
	assert.ErrorIs(t, out[1].Err, core.ErrCallLimitExceeded)
}

func TestSubmit_PanicBecomesFailure(t *testing.T) {
	r := core.ResponderFunc(func(context.Context, core.Request) (*core.Response, error) {
		panic("boom")
	})

	out := New(r, withConfig(1, 3), noSleep).Submit(context.Background(), items("a"))
	assert.Equal(t, core.OutcomeFailed, out[0].Status)
	assert.Equal(t, 1, out[0].Attempts)
}

func TestSubmit_Empty(t *testing.T) {
	out := New(core.ResponderFunc(func(context.Context, core.Request) (*core.Response, error) {
		return nil, nil
	})).Submit(context.Background(), nil)
	assert.Empty(t, out)
}

func TestConfig_Backoff(t *testing.T) {
	cfg := Config{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second, BackoffMultiplier: 2, Jitter: 0.1}
	mid := func() float64 { return 0.5 }

	assert.Equal(t, time.Second, cfg.Backoff(1, mid))
	assert.Equal(t, 4*time.Second, cfg.Backoff(3, mid))
	assert.Equal(t, 5*time.Second, cfg.Backoff(10, mid))

	high := cfg.Backoff(1, func() float64 { return 0.999999 })
	assert.InDelta(t, float64(1100*time.Millisecond), float64(high), float64(time.Millisecond))
}
