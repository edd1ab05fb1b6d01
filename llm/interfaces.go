package llm

import (
	"context"
)

// Adapter executes a single provider round trip. Implementations never return
// Go errors for provider failures; every outcome is encoded in the Attempt.
type Adapter interface {
	// Provider returns the provider name (ProviderOpenAI, ProviderGemini).
	Provider() string

	// Execute performs one HTTP call for spec and normalizes the response.
	Execute(ctx context.Context, spec AttemptSpec) Attempt
}

// CallInfo identifies the orchestration run an observer event belongs to.
type CallInfo struct {
	CallID   string
	Purpose  string
	Provider string
}

// Observer receives write-only events from the orchestrator.
// This allows adding cross-cutting concerns like logging and audit storage
// without touching the cascade.
type Observer interface {
	// OnAttempt is called once for every attempt, in execution order.
	OnAttempt(ctx context.Context, call CallInfo, attempt Attempt)

	// OnResult is called once per call with the final composed result.
	OnResult(ctx context.Context, call CallInfo, result *CallResult)
}

// ObserverFunc is a function type that implements Observer.
type ObserverFunc struct {
	OnAttemptFunc func(ctx context.Context, call CallInfo, attempt Attempt)
	OnResultFunc  func(ctx context.Context, call CallInfo, result *CallResult)
}

// OnAttempt calls the OnAttemptFunc if set.
func (f ObserverFunc) OnAttempt(ctx context.Context, call CallInfo, attempt Attempt) {
	if f.OnAttemptFunc != nil {
		f.OnAttemptFunc(ctx, call, attempt)
	}
}

// OnResult calls the OnResultFunc if set.
func (f ObserverFunc) OnResult(ctx context.Context, call CallInfo, result *CallResult) {
	if f.OnResultFunc != nil {
		f.OnResultFunc(ctx, call, result)
	}
}

// Observers fans events out to every non-nil observer in order.
func Observers(observers ...Observer) Observer {
	var list multiObserver
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	if len(list) == 1 {
		return list[0]
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) OnAttempt(ctx context.Context, call CallInfo, attempt Attempt) {
	for _, o := range m {
		o.OnAttempt(ctx, call, attempt)
	}
}

func (m multiObserver) OnResult(ctx context.Context, call CallInfo, result *CallResult) {
	for _, o := range m {
		o.OnResult(ctx, call, result)
	}
}

// Ensure the helpers implement Observer
var (
	_ Observer = ObserverFunc{}
	_ Observer = multiObserver(nil)
)
