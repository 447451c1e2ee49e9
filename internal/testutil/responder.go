package testutil

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/hupe1980/consultmesh/core"
)

// MockResponder is a testify mock implementing core.Responder.
type MockResponder struct {
	mock.Mock
}

// Invoke implements core.Responder.
func (m *MockResponder) Invoke(ctx context.Context, req core.Request) (*core.Response, error) {
	args := m.Called(ctx, req)

	var resp *core.Response
	if v := args.Get(0); v != nil {
		resp = v.(*core.Response)
	}

	return resp, args.Error(1)
}

// ScriptedResponder answers by role id and counts calls. Script entries are
// consumed per call; the last entry repeats.
type ScriptedResponder struct {
	mu     sync.Mutex
	script map[string][]Reply
	calls  map[string]int
}

// Reply is one scripted answer.
type Reply struct {
	Text  string
	Usage core.TokenUsage
	Err   error
}

// NewScriptedResponder creates an empty script.
func NewScriptedResponder() *ScriptedResponder {
	return &ScriptedResponder{script: map[string][]Reply{}, calls: map[string]int{}}
}

// On appends replies for role (chainable).
func (s *ScriptedResponder) On(role string, replies ...Reply) *ScriptedResponder {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[role] = append(s.script[role], replies...)
	return s
}

// Calls returns how often role was invoked.
func (s *ScriptedResponder) Calls(role string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[role]
}

// Invoke implements core.Responder.
func (s *ScriptedResponder) Invoke(_ context.Context, req core.Request) (*core.Response, error) {
	s.mu.Lock()
	n := s.calls[req.RoleID]
	s.calls[req.RoleID] = n + 1
	replies := s.script[req.RoleID]
	s.mu.Unlock()

	if len(replies) == 0 {
		return &core.Response{Text: "Stance: neutral", Usage: core.TokenUsage{PromptTokens: 10, CompletionTokens: 5}}, nil
	}
	if n >= len(replies) {
		n = len(replies) - 1
	}
	r := replies[n]
	if r.Err != nil {
		return nil, r.Err
	}

	return &core.Response{Text: r.Text, Usage: r.Usage, Model: req.Params.Model}, nil
}
