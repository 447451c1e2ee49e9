package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/consultmesh/core"
)

// CallbackType defines the lifecycle points where callbacks run.
//
// Available callback types:
//   - BeforeRound/AfterRound: around the fan-out and aggregation of one round
//   - OnStateChange: after every state machine transition
//   - OnAbort: once, when a session ends in the Aborted state
//
// Callbacks run synchronously on the orchestrator goroutine. An error from a
// BeforeRound or AfterRound callback is treated as an explicit external abort:
// the session finishes Aborted with reason "rejected" and keeps the rounds
// already recorded. Errors from the other types are logged and ignored.
type CallbackType string

const (
	// CallbackBeforeRound is triggered after entering RunningRound(k), before
	// any request of the round is issued.
	CallbackBeforeRound CallbackType = "before_round"

	// CallbackAfterRound is triggered once round k is aggregated and recorded.
	CallbackAfterRound CallbackType = "after_round"

	// CallbackOnStateChange is triggered after each state transition.
	CallbackOnStateChange CallbackType = "on_state_change"

	// CallbackOnAbort is triggered when a session finishes Aborted.
	CallbackOnAbort CallbackType = "on_abort"
)

// CallbackContext carries the information a callback may inspect.
type CallbackContext struct {
	// SessionID identifies the deliberation.
	SessionID string

	// CallbackType indicates which lifecycle point triggered the callback.
	CallbackType CallbackType

	// State and Round describe the state machine position.
	State core.SessionState
	Round int

	// Record is the finalized round for AfterRound callbacks; nil otherwise.
	// It is a copy and may be retained.
	Record *core.Round

	// Cost is the running total at the time of the callback.
	Cost core.CostRecord

	// Reason is set for OnAbort callbacks.
	Reason core.AbortReason

	// Metadata provides extensible storage for custom callback data.
	Metadata map[string]any
}

// Callback defines the interface for lifecycle hooks.
//
// Implementations should be fast: they run synchronously between rounds and
// delay the next fan-out.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	stopOnDissent := NewFunctionCallback(
//	    CallbackAfterRound,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        if mean, ok := cc.Record.Agreement.MeanAgreement(); ok && mean < 0.2 {
//	            return errors.New("committee is deadlocked")
//	        }
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager is a registry of callbacks keyed by type.
//
// Callbacks are executed in registration order; the first error stops the
// remaining callbacks of that type. Register everything before the manager
// is handed to an Engine; execution is then safe for concurrent sessions.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks executes all registered callbacks for the specified type.
// A nil manager executes nothing.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	if cm == nil {
		return nil
	}

	callbacks, exists := cm.callbacks[callbackType]
	if !exists {
		return nil // No callbacks registered for this type
	}

	callbackCtx.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}

// LoggingCallback forwards lifecycle events to a logging function.
//
// Example:
//
//	callback := NewLoggingCallback(CallbackAfterRound, func(msg string) {
//	    log.Printf("[ENGINE] %s", msg)
//	})
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the event with its session, state and round. A nil logger
// function makes the callback a no-op.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}

	message := fmt.Sprintf("[%s] session: %s, state: %s, round: %d",
		c.callbackType, callbackCtx.SessionID, callbackCtx.State, callbackCtx.Round)
	if callbackCtx.Record != nil && callbackCtx.Record.Agreement != nil {
		if mean, ok := callbackCtx.Record.Agreement.MeanAgreement(); ok {
			message += fmt.Sprintf(", mean agreement: %.2f", mean)
		}
	}
	if callbackCtx.Reason != core.AbortNone {
		message += ", reason: " + string(callbackCtx.Reason)
	}
	c.logger(message)

	return nil
}
