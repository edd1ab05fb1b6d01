package orchestrator

import (
	"context"

	"github.com/aschepis/backscratcher/aicall/llm"
)

// cascadeState is a node of the attempt state machine.
type cascadeState int

const (
	stateInit cascadeState = iota
	statePrimary
	stateNeedsStream
	stateNeedsRetry
	stateNeedsFallback
	stateCheckSchema
	stateNeedsSchemaFallback
	stateDone
)

// maxTransitions bounds the loop; no path visits more than seven states.
const maxTransitions = 10

// fallbackKind selects the parameters of a fallback_model attempt.
type fallbackKind int

const (
	fallbackAfterFailure fallbackKind = iota
	fallbackAfterEmpty
)

// cascade holds the state of one orchestration run.
type cascade struct {
	o          *Orchestrator
	adapter    llm.Adapter
	info       llm.CallInfo
	req        llm.CallRequest
	policy     llm.ModelPolicy
	structured bool
	schema     map[string]any

	attempts          []llm.Attempt
	retryCount        int
	fallbackUsed      bool
	fallbackModelUsed string
	fallback          fallbackKind
	result            *llm.CallResult
}

func newCascade(o *Orchestrator, adapter llm.Adapter, info llm.CallInfo, req llm.CallRequest, policy llm.ModelPolicy) *cascade {
	c := &cascade{
		o:          o,
		adapter:    adapter,
		info:       info,
		req:        req,
		policy:     policy,
	}
	// Structured mode needs a response schema to send; without one the call
	// runs as plain text.
	if llm.StructuredMode(adapter.Provider(), req.Purpose, policy) {
		c.schema = o.validator.ResponseSchema(req.Purpose)
		c.structured = c.schema != nil
	}
	return c
}

func (c *cascade) run(ctx context.Context) *llm.CallResult {
	state := stateInit
	for i := 0; state != stateDone && i < maxTransitions; i++ {
		state = c.step(ctx, state)
	}
	if c.result == nil {
		c.result = c.compose()
	}
	return c.result
}

func (c *cascade) step(ctx context.Context, state cascadeState) cascadeState {
	switch state {
	case stateInit:
		return statePrimary

	case statePrimary:
		c.execute(ctx, llm.AttemptPrimary, c.policy.PrimaryModel, c.req.Temperature, c.req.MaxTokens, false)
		return c.afterPrimary()

	case stateNeedsStream:
		c.execute(ctx, llm.AttemptStreamFallback, c.policy.PrimaryModel, c.req.Temperature, c.req.MaxTokens, true)
		if c.last().HasText() {
			return stateCheckSchema
		}
		switch {
		case c.policy.RetryOnceOnEmpty:
			return stateNeedsRetry
		case c.hasFallback():
			c.fallback = fallbackAfterEmpty
			return stateNeedsFallback
		}
		return stateCheckSchema

	case stateNeedsRetry:
		c.execute(ctx, llm.AttemptRetry, c.policy.PrimaryModel, 0.7, max(c.req.MaxTokens, 1024), false)
		c.retryCount++
		if !c.last().HasText() && c.hasFallback() {
			c.fallback = fallbackAfterEmpty
			return stateNeedsFallback
		}
		return stateCheckSchema

	case stateNeedsFallback:
		temperature, maxTokens := c.fallbackParams()
		c.execute(ctx, llm.AttemptFallbackModel, c.policy.FallbackModel, temperature, maxTokens, false)
		c.fallbackUsed = true
		c.fallbackModelUsed = c.policy.FallbackModel
		return stateCheckSchema

	case stateCheckSchema:
		c.result = c.compose()
		if c.needsSchemaFallback() {
			return stateNeedsSchemaFallback
		}
		return stateDone

	case stateNeedsSchemaFallback:
		c.execute(ctx, llm.AttemptFallbackSchema, c.policy.FallbackModel, 0.6, max(c.req.MaxTokens, 1024), false)
		c.fallbackUsed = true
		c.fallbackModelUsed = c.policy.FallbackModel
		c.result = c.compose()
		return stateDone
	}
	return stateDone
}

// afterPrimary decides the first transition out of PRIMARY.
func (c *cascade) afterPrimary() cascadeState {
	primary := c.last()
	if !c.req.FallbackAllowed() {
		return stateCheckSchema
	}

	if c.adapter.Provider() == llm.ProviderOpenAI {
		if !primary.OK && c.hasFallback() {
			c.fallback = fallbackAfterFailure
			return stateNeedsFallback
		}
		return stateCheckSchema
	}

	if primary.OK && !primary.HasText() {
		switch {
		case c.policy.UseStreamingFallback:
			return stateNeedsStream
		case c.policy.RetryOnceOnEmpty:
			return stateNeedsRetry
		case c.hasFallback():
			c.fallback = fallbackAfterEmpty
			return stateNeedsFallback
		}
		return stateCheckSchema
	}
	if !primary.OK && c.hasFallback() {
		c.fallback = fallbackAfterFailure
		return stateNeedsFallback
	}
	return stateCheckSchema
}

func (c *cascade) fallbackParams() (float64, int) {
	if c.adapter.Provider() == llm.ProviderOpenAI {
		return max(c.req.Temperature, 0.5), max(c.req.MaxTokens, 800)
	}
	if c.fallback == fallbackAfterEmpty {
		return 0.7, max(c.req.MaxTokens, 1024)
	}
	return 0.6, c.req.MaxTokens
}

func (c *cascade) needsSchemaFallback() bool {
	sv := c.result.SchemaValidation
	return c.structured &&
		c.req.ExpectJSON &&
		sv.Enabled && !sv.Passed &&
		c.hasFallback() &&
		!c.fallbackUsed &&
		c.req.FallbackAllowed()
}

func (c *cascade) hasFallback() bool {
	return c.policy.FallbackModel != ""
}

func (c *cascade) last() llm.Attempt {
	return c.attempts[len(c.attempts)-1]
}

func (c *cascade) execute(ctx context.Context, t llm.AttemptType, model string, temperature float64, maxTokens int, stream bool) {
	attempt := c.adapter.Execute(ctx, llm.AttemptSpec{
		Type:           t,
		Model:          model,
		SystemPrompt:   c.req.SystemPrompt,
		UserPrompt:     c.req.UserPrompt,
		Temperature:    temperature,
		MaxTokens:      maxTokens,
		Stream:         stream,
		ResponseSchema: c.schema,
	})
	// Adapters own the payload fields; the cascade owns the step identity.
	attempt.Type = t
	c.attempts = append(c.attempts, attempt)
	c.o.observer.OnAttempt(ctx, c.info, attempt)
}

func (c *cascade) compose() *llm.CallResult {
	return compose(composeInput{
		info:              c.info,
		req:               c.req,
		attempts:          c.attempts,
		retryCount:        c.retryCount,
		fallbackUsed:      c.fallbackUsed,
		fallbackModelUsed: c.fallbackModelUsed,
		structured:        c.structured,
		validator:         c.o.validator,
	})
}
