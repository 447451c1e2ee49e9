package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/consultmesh/core"
)

// Interface compliance (compile-time assertion)
var _ core.Responder = (*Responder)(nil)

func newTestResponder(t *testing.T, handler http.HandlerFunc) (*Responder, *int32) {
	t.Helper()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	r := NewResponder(func(o *Options) {
		o.APIKey = "test-key"
		o.BaseURL = srv.URL + "/"
		o.Model = "claude-test"
	})

	return r, &hits
}

func TestInvoke_Success(t *testing.T) {
	var body map[string]any
	r, hits := newTestResponder(t, func(w http.ResponseWriter, req *http.Request) {
		assert.True(t, strings.HasSuffix(req.URL.Path, "/v1/messages"))
		raw, _ := io.ReadAll(req.Body)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test-0001",
			"content": [{"type": "text", "text": "Stance: oppose"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 20, "output_tokens": 6}
		}`)
	})

	resp, err := r.Invoke(context.Background(), core.Request{
		RoleID: "patient_advocate",
		Round:  2,
		System: "You are a patient advocate.",
		Prompt: "Discuss the case.",
	})
	require.NoError(t, err)

	assert.Equal(t, "Stance: oppose", resp.Text)
	assert.Equal(t, core.TokenUsage{PromptTokens: 20, CompletionTokens: 6}, resp.Usage)
	assert.Equal(t, "claude-test-0001", resp.Model)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))

	assert.Equal(t, "claude-test", body["model"])
	assert.NotNil(t, body["system"])
}

func TestInvoke_OverloadedIsTransient(t *testing.T) {
	r, hits := newTestResponder(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"type": "error", "error": {"type": "overloaded_error", "message": "busy"}}`)
	})

	_, err := r.Invoke(context.Background(), core.Request{RoleID: "a", Round: 1, Prompt: "x"})
	require.Error(t, err)

	ce := core.AsCallError(err)
	assert.Equal(t, core.ErrorKindServer, ce.Kind)
	assert.True(t, ce.Retryable)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits), "sdk retries must be disabled")
}

func TestInvoke_BadRequestIsPermanent(t *testing.T) {
	r, _ := newTestResponder(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type": "error", "error": {"type": "invalid_request_error", "message": "bad"}}`)
	})

	_, err := r.Invoke(context.Background(), core.Request{RoleID: "a", Round: 1, Prompt: "x"})
	assert.ErrorIs(t, err, core.ErrPermanentCall)
	assert.Equal(t, core.ErrorKindInvalidRequest, core.AsCallError(err).Kind)
}
