// Package orchestrator drives a purpose-specific provider cascade and composes
// the final CallResult.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/aicall/llm"
	"github.com/aschepis/backscratcher/aicall/llm/gemini"
	"github.com/aschepis/backscratcher/aicall/llm/openai"
	"github.com/aschepis/backscratcher/aicall/llm/schema"
	"github.com/aschepis/backscratcher/aicall/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// genericFailure is the only error surfaced for an unexpected fault inside a call.
const genericFailure = "internal error: AI call failed unexpectedly"

// ConfigSource supplies account configuration once per call. Errors returned
// by Load propagate unchanged out of Call.
type ConfigSource interface {
	Load(ctx context.Context) (llm.AccountConfig, error)
}

// StaticSource is a ConfigSource that always returns the same account.
type StaticSource llm.AccountConfig

// Load implements ConfigSource.
func (s StaticSource) Load(context.Context) (llm.AccountConfig, error) {
	return llm.AccountConfig(s), nil
}

// AdapterFactory builds the provider adapter for an account.
type AdapterFactory func(account llm.AccountConfig, logger zerolog.Logger) (llm.Adapter, error)

// DefaultAdapterFactory creates the OpenAI or Gemini HTTP adapter.
func DefaultAdapterFactory(account llm.AccountConfig, logger zerolog.Logger) (llm.Adapter, error) {
	timeout := time.Duration(account.TimeoutSeconds) * time.Second
	switch account.Provider {
	case llm.ProviderOpenAI:
		return openai.NewClient(account.APIKey, account.OpenAIBaseURL, timeout, logger)
	case llm.ProviderGemini:
		return gemini.NewClient(account.APIKey, account.GeminiBaseURL, timeout, logger)
	default:
		return nil, llm.NewConfigError(fmt.Sprintf("unsupported provider %q", account.Provider))
	}
}

// Orchestrator runs one synchronous cascade per Call. It holds no per-call
// state and is safe for concurrent use.
type Orchestrator struct {
	source    ConfigSource
	factory   AdapterFactory
	validator schema.Validator
	observer  llm.Observer
	logger    zerolog.Logger
	newID     func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAdapterFactory replaces DefaultAdapterFactory.
func WithAdapterFactory(f AdapterFactory) Option {
	return func(o *Orchestrator) { o.factory = f }
}

// WithValidator sets the schema validation hook.
func WithValidator(v schema.Validator) Option {
	return func(o *Orchestrator) { o.validator = v }
}

// WithObservers adds logging or audit sinks.
func WithObservers(observers ...llm.Observer) Option {
	return func(o *Orchestrator) {
		o.observer = llm.Observers(append([]llm.Observer{o.observer}, observers...)...)
	}
}

// WithLogger sets the logger used by the orchestrator and the default adapters.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an Orchestrator reading configuration from source.
func New(source ConfigSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:    source,
		factory:   DefaultAdapterFactory,
		validator: defaultValidator(),
		logger:    zerolog.Nop(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.observer == nil {
		o.observer = llm.ObserverFunc{}
	}
	o.logger = logger.Component(o.logger, "orchestrator")
	return o
}

// defaultValidator returns the built-in purpose registry, or an empty one if
// it cannot be built.
func defaultValidator() schema.Validator {
	registry, err := schema.DefaultRegistry()
	if err != nil {
		return schema.NewRegistry()
	}
	return registry
}

// Call runs the cascade for req. The returned error is non-nil only when the
// config source fails; every provider, parse and validation failure is
// reported inside the CallResult.
func (o *Orchestrator) Call(ctx context.Context, req llm.CallRequest) (*llm.CallResult, error) {
	account, err := o.source.Load(ctx)
	if err != nil {
		return nil, err
	}

	req = req.Normalized()
	info := llm.CallInfo{
		CallID:   o.newID(),
		Purpose:  req.Purpose,
		Provider: strings.TrimSpace(account.Provider),
	}

	result := o.run(ctx, info, account, req)
	o.observer.OnResult(ctx, info, result)
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, info llm.CallInfo, account llm.AccountConfig, req llm.CallRequest) (result *llm.CallResult) {
	var c *cascade
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Str("call_id", info.CallID).
				Str("purpose", info.Purpose).
				Interface("panic", r).
				Msg("recovered from panic during AI call")
			result = failedResult(info)
			if c != nil {
				result.Attempts = append(result.Attempts, c.attempts...)
			}
			result.Errors = []string{genericFailure}
		}
	}()

	policy := llm.ApplyOverrides(llm.ResolvePolicy(account, req.Purpose), req)
	if cfgErr := validateAccount(account, policy); cfgErr != nil {
		result = failedResult(info)
		result.Errors = append(result.Errors, cfgErr.Error())
		return result
	}

	adapter, err := o.factory(account, o.logger)
	if err != nil {
		result = failedResult(info)
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	c = newCascade(o, adapter, info, req, policy)
	return c.run(ctx)
}

func validateAccount(account llm.AccountConfig, policy llm.ModelPolicy) *llm.Error {
	switch {
	case account.Provider == "":
		return llm.NewConfigError("AI provider is not configured")
	case account.Provider != llm.ProviderOpenAI && account.Provider != llm.ProviderGemini:
		return llm.NewConfigError(fmt.Sprintf("unsupported provider %q", account.Provider))
	case strings.TrimSpace(account.APIKey) == "":
		return llm.NewConfigError("AI API key is not configured")
	case policy.PrimaryModel == "":
		return llm.NewConfigError("AI model is not configured")
	}
	return nil
}

func failedResult(info llm.CallInfo) *llm.CallResult {
	return &llm.CallResult{
		CallID:           info.CallID,
		Purpose:          info.Purpose,
		Provider:         info.Provider,
		Errors:           []string{},
		Attempts:         []llm.Attempt{},
		FinishReasons:    []string{},
		SchemaValidation: llm.SchemaDisabled(),
	}
}
