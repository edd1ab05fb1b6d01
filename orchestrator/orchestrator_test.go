package orchestrator

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aschepis/backscratcher/aicall/llm"
	"github.com/aschepis/backscratcher/aicall/llm/schema"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// scriptedAdapter replays canned attempts in order and records every spec.
type scriptedAdapter struct {
	provider string
	script   []llm.Attempt
	specs    []llm.AttemptSpec
	panicOn  int
}

func (s *scriptedAdapter) Provider() string { return s.provider }

func (s *scriptedAdapter) Execute(_ context.Context, spec llm.AttemptSpec) llm.Attempt {
	s.specs = append(s.specs, spec)
	i := len(s.specs) - 1
	if s.panicOn > 0 && i+1 == s.panicOn {
		panic("adapter exploded")
	}
	a := llm.Attempt{OK: true, HTTPStatus: 200}
	if i < len(s.script) {
		a = s.script[i]
	}
	a.Provider = s.provider
	a.ModelUsed = spec.Model
	a.TemperatureUsed = spec.Temperature
	a.MaxTokensUsed = spec.MaxTokens
	a.Stream = spec.Stream
	a.Structured = spec.ResponseSchema != nil
	return a
}

func (s *scriptedAdapter) types() []llm.AttemptType {
	return lo.Map(s.specs, func(sp llm.AttemptSpec, _ int) llm.AttemptType { return sp.Type })
}

func newScripted(t *testing.T, account llm.AccountConfig, adapter *scriptedAdapter, opts ...Option) *Orchestrator {
	t.Helper()
	registry, err := schema.DefaultRegistry()
	require.NoError(t, err)
	opts = append([]Option{
		WithValidator(registry),
		WithAdapterFactory(func(llm.AccountConfig, zerolog.Logger) (llm.Adapter, error) { return adapter, nil }),
	}, opts...)
	return New(StaticSource(account), opts...)
}

func geminiAccount(fallback string) llm.AccountConfig {
	return llm.AccountConfig{
		Provider:  llm.ProviderGemini,
		APIKey:    "g-key",
		TextModel: "gemini-2.0-flash",
		PurposeModels: map[string]llm.PolicyOverride{
			llm.PurposeOfflineTenderExtraction: {
				PrimaryModel:  "gemini-2.5-flash",
				FallbackModel: lo.ToPtr(fallback),
			},
		},
	}
}

func tenderRequest() llm.CallRequest {
	return llm.CallRequest{
		Purpose:      llm.PurposeOfflineTenderExtraction,
		SystemPrompt: "Extract the tender as JSON.",
		UserPrompt:   "NOTICE ...",
		ExpectJSON:   true,
		Temperature:  0.2,
		MaxTokens:    600,
	}
}

const validTenderJSON = `{"title":"Bridge repair","issuer":"County Roads","deadline":"2026-12-01"}`

func TestCall_OpenAIRateLimited(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()

	o := New(StaticSource{
		Provider:      llm.ProviderOpenAI,
		APIKey:        "sk-test",
		TextModel:     "gpt-4o-mini",
		OpenAIBaseURL: srv.URL,
	})

	res, err := o.Call(context.Background(), llm.CallRequest{Purpose: "summary", UserPrompt: "hi", Temperature: 0.3, MaxTokens: 300})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.False(t, res.ProviderOK)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, llm.AttemptPrimary, res.Attempts[0].Type)
	assert.Equal(t, 1, calls)
	assert.False(t, res.FallbackUsed)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "rate limited")
	assert.Equal(t, http.StatusTooManyRequests, res.HTTPStatus)
	assert.NotEmpty(t, res.CallID)
}

func TestCall_OpenAIFallbackAfterFailure(t *testing.T) {
	var models []string
	var temps []float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		model := gjson.GetBytes(body, "model").String()
		models = append(models, model)
		temps = append(temps, gjson.GetBytes(body, "temperature").Float())
		if model == "gpt-4o" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"c1","choices":[{"message":{"content":"{\"ok\":true}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	o := New(StaticSource{
		Provider:      llm.ProviderOpenAI,
		APIKey:        "sk-test",
		TextModel:     "gpt-4o",
		OpenAIBaseURL: srv.URL,
		PurposeModels: map[string]llm.PolicyOverride{
			"summary": {FallbackModel: lo.ToPtr("gpt-4o-mini")},
		},
	})

	res, err := o.Call(context.Background(), llm.CallRequest{Purpose: "summary", ExpectJSON: true, Temperature: 0.2, MaxTokens: 300})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, models)
	assert.InDelta(t, 0.5, temps[1], 0.001)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, llm.AttemptFallbackModel, res.Attempts[1].Type)
	assert.Equal(t, 800, res.Attempts[1].MaxTokensUsed)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, "gpt-4o-mini", res.FallbackModelUsed)
	assert.Equal(t, map[string]any{"ok": true}, res.JSON)
	assert.Equal(t, llm.ParseStageStrict, res.ParseStage)
	assert.Empty(t, res.Errors)
	require.NotNil(t, res.Attempts[0].Err)
	assert.Equal(t, llm.ErrorTypeUpstream, res.Attempts[0].Err.Type)
}

func TestCall_GeminiEmptyCascade(t *testing.T) {
	empty := llm.Attempt{OK: true, HTTPStatus: 200, DiagnosticError: llm.DiagnosticEmptyContent}
	adapter := &scriptedAdapter{provider: llm.ProviderGemini, script: []llm.Attempt{empty, empty, empty, empty}}
	o := newScripted(t, geminiAccount("gemini-2.0-flash"), adapter)

	res, err := o.Call(context.Background(), tenderRequest())
	require.NoError(t, err)

	assert.Equal(t, []llm.AttemptType{
		llm.AttemptPrimary, llm.AttemptStreamFallback, llm.AttemptRetry, llm.AttemptFallbackModel,
	}, adapter.types())
	require.Len(t, res.Attempts, 4)
	assert.Equal(t, 1, res.RetryCount)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, "gemini-2.0-flash", res.FallbackModelUsed)
	assert.False(t, res.OK)
	assert.Equal(t, llm.DiagnosticEmptyContent, res.DiagnosticError)
	assert.Equal(t, llm.ParseStageFallbackManual, res.ParseStage)

	assert.True(t, adapter.specs[1].Stream)
	assert.Equal(t, 0.2, adapter.specs[1].Temperature)
	assert.Equal(t, 0.7, adapter.specs[2].Temperature)
	assert.Equal(t, 1024, adapter.specs[2].MaxTokens)
	assert.Equal(t, "gemini-2.0-flash", adapter.specs[3].Model)
	assert.Equal(t, 0.7, adapter.specs[3].Temperature)
	for _, sp := range adapter.specs {
		assert.NotNil(t, sp.ResponseSchema, "structured mode attaches the schema to every attempt")
	}
}

func TestCall_GeminiStreamRecovers(t *testing.T) {
	adapter := &scriptedAdapter{provider: llm.ProviderGemini, script: []llm.Attempt{
		{OK: true, HTTPStatus: 200},
		{OK: true, HTTPStatus: 200, Text: validTenderJSON, FinishReason: "STOP", FinishReasons: []string{"STOP"}},
	}}
	o := newScripted(t, geminiAccount("gemini-2.0-flash"), adapter)

	res, err := o.Call(context.Background(), tenderRequest())
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, []llm.AttemptType{llm.AttemptPrimary, llm.AttemptStreamFallback}, adapter.types())
	assert.Equal(t, 0, res.RetryCount)
	assert.False(t, res.FallbackUsed)
	assert.True(t, res.SchemaValidation.Enabled)
	assert.True(t, res.SchemaValidation.Passed)
	assert.Equal(t, []string{"STOP"}, res.FinishReasons)
	require.NotNil(t, res.RawEnvelope)
	assert.Equal(t, llm.AttemptStreamFallback, res.RawEnvelope.AttemptType)
	assert.True(t, res.RawEnvelope.StructuredEnabled)
}

func TestCall_GeminiFailureFallback(t *testing.T) {
	adapter := &scriptedAdapter{provider: llm.ProviderGemini, script: []llm.Attempt{
		{OK: false, HTTPStatus: 503, Err: llm.ClassifyHTTPStatus(503, "", nil)},
		{OK: true, HTTPStatus: 200, Text: "plain answer"},
	}}
	account := llm.AccountConfig{
		Provider:  llm.ProviderGemini,
		APIKey:    "g-key",
		TextModel: "gemini-2.5-flash",
		PurposeModels: map[string]llm.PolicyOverride{
			"summary": {FallbackModel: lo.ToPtr("gemini-2.0-flash")},
		},
	}
	o := newScripted(t, account, adapter)

	res, err := o.Call(context.Background(), llm.CallRequest{Purpose: "summary", Temperature: 0.9, MaxTokens: 300})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, []llm.AttemptType{llm.AttemptPrimary, llm.AttemptFallbackModel}, adapter.types())
	assert.Equal(t, 0.6, adapter.specs[1].Temperature)
	assert.Equal(t, 300, adapter.specs[1].MaxTokens)
	assert.Nil(t, adapter.specs[0].ResponseSchema)
	assert.Equal(t, llm.ParseStageNone, res.ParseStage)
	assert.Equal(t, "plain answer", res.Text)
}

func TestCall_SchemaFallback(t *testing.T) {
	adapter := &scriptedAdapter{provider: llm.ProviderGemini, script: []llm.Attempt{
		{OK: true, HTTPStatus: 200, Text: "```json\n{\"title\":\"Bridge repair\",}\n```", FinishReason: "STOP"},
		{OK: true, HTTPStatus: 200, Text: validTenderJSON, FinishReason: "MAX_TOKENS"},
	}}
	o := newScripted(t, geminiAccount("gemini-2.0-flash"), adapter)

	res, err := o.Call(context.Background(), tenderRequest())
	require.NoError(t, err)

	assert.Equal(t, []llm.AttemptType{llm.AttemptPrimary, llm.AttemptFallbackSchema}, adapter.types())
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "gemini-2.0-flash", adapter.specs[1].Model)
	assert.Equal(t, 0.6, adapter.specs[1].Temperature)
	assert.Equal(t, 1024, adapter.specs[1].MaxTokens)

	assert.True(t, res.OK)
	assert.True(t, res.ParsedOK)
	assert.Equal(t, llm.ParseStageStrict, res.ParseStage)
	assert.True(t, res.SchemaValidation.Passed)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, []string{"STOP", "MAX_TOKENS"}, res.FinishReasons)
	assert.Empty(t, res.Errors)
}

func TestCall_SchemaFailureWithoutFallback(t *testing.T) {
	adapter := &scriptedAdapter{provider: llm.ProviderGemini, script: []llm.Attempt{
		{OK: true, HTTPStatus: 200, Text: `{"title":"Bridge repair"}`},
	}}
	o := newScripted(t, geminiAccount(""), adapter)

	res, err := o.Call(context.Background(), tenderRequest())
	require.NoError(t, err)
	require.Len(t, res.Attempts, 1)
	assert.False(t, res.OK)
	assert.False(t, res.ParsedOK)
	assert.Equal(t, llm.ParseStageSchemaValidation, res.ParseStage)
	assert.True(t, res.SchemaValidation.Enabled)
	assert.False(t, res.SchemaValidation.Passed)
	assert.Equal(t, res.SchemaValidation.Errors, res.Errors)
	assert.NotNil(t, res.JSON)
}

func TestCall_AllowFallbackFalse(t *testing.T) {
	adapter := &scriptedAdapter{provider: llm.ProviderGemini, script: []llm.Attempt{{OK: true, HTTPStatus: 200}}}
	o := newScripted(t, geminiAccount("gemini-2.0-flash"), adapter)

	req := tenderRequest()
	req.AllowFallback = lo.ToPtr(false)
	res, err := o.Call(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Attempts, 1)
	assert.False(t, res.OK)
	assert.Contains(t, res.Errors, "empty_content: provider returned no text")
}

func TestCall_NoSchemaFallbackAfterFallbackModel(t *testing.T) {
	adapter := &scriptedAdapter{provider: llm.ProviderGemini, script: []llm.Attempt{
		{OK: false, HTTPStatus: 503, Err: llm.ClassifyHTTPStatus(503, "", nil)},
		{OK: true, HTTPStatus: 200, Text: `{"title":"Bridge repair"}`},
		{OK: true, HTTPStatus: 200, Text: validTenderJSON},
	}}
	o := newScripted(t, geminiAccount("gemini-2.0-flash"), adapter)

	res, err := o.Call(context.Background(), tenderRequest())
	require.NoError(t, err)
	assert.Equal(t, []llm.AttemptType{llm.AttemptPrimary, llm.AttemptFallbackModel}, adapter.types())
	require.Len(t, res.Attempts, 2)
	assert.True(t, res.FallbackUsed)
	assert.False(t, res.OK)
	assert.Equal(t, llm.ParseStageSchemaValidation, res.ParseStage)
	assert.False(t, res.SchemaValidation.Passed)
}

func TestCall_AllowFallbackFalseSkipsSchemaFallback(t *testing.T) {
	adapter := &scriptedAdapter{provider: llm.ProviderGemini, script: []llm.Attempt{
		{OK: true, HTTPStatus: 200, Text: `{"title":"Bridge repair"}`},
		{OK: true, HTTPStatus: 200, Text: validTenderJSON},
	}}
	o := newScripted(t, geminiAccount("gemini-2.0-flash"), adapter)

	req := tenderRequest()
	req.AllowFallback = lo.ToPtr(false)
	res, err := o.Call(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Attempts, 1)
	assert.Len(t, adapter.specs, 1)
	assert.False(t, res.FallbackUsed)
	assert.False(t, res.OK)
	assert.Equal(t, llm.ParseStageSchemaValidation, res.ParseStage)
}

func TestCall_OpenAIAllowFallbackFalse(t *testing.T) {
	adapter := &scriptedAdapter{provider: llm.ProviderOpenAI, script: []llm.Attempt{
		{OK: false, HTTPStatus: 502, Err: llm.ClassifyHTTPStatus(502, "", nil)},
		{OK: true, HTTPStatus: 200, Text: "recovered"},
	}}
	account := llm.AccountConfig{
		Provider:  llm.ProviderOpenAI,
		APIKey:    "sk-test",
		TextModel: "gpt-4o",
		PurposeModels: map[string]llm.PolicyOverride{
			"summary": {FallbackModel: lo.ToPtr("gpt-4o-mini")},
		},
	}
	o := newScripted(t, account, adapter)

	res, err := o.Call(context.Background(), llm.CallRequest{
		Purpose: "summary", UserPrompt: "hi", Temperature: 0.2, MaxTokens: 300,
		AllowFallback: lo.ToPtr(false),
	})
	require.NoError(t, err)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, []llm.AttemptType{llm.AttemptPrimary}, adapter.types())
	assert.False(t, res.OK)
	assert.False(t, res.FallbackUsed)
	assert.Equal(t, []string{"upstream failure: HTTP 502"}, res.Errors)
}

func TestCall_StructuredModeNeedsRegisteredSchema(t *testing.T) {
	adapter := &scriptedAdapter{provider: llm.ProviderGemini, script: []llm.Attempt{
		{OK: true, HTTPStatus: 200, Text: validTenderJSON},
	}}
	o := newScripted(t, geminiAccount("gemini-2.0-flash"), adapter, WithValidator(schema.NewRegistry()))

	res, err := o.Call(context.Background(), tenderRequest())
	require.NoError(t, err)
	require.Len(t, adapter.specs, 1)
	assert.Nil(t, adapter.specs[0].ResponseSchema)
	assert.False(t, res.RawEnvelope.StructuredEnabled)
	assert.True(t, res.OK)
}

func TestCall_DefaultValidatorAttachesTenderSchema(t *testing.T) {
	adapter := &scriptedAdapter{provider: llm.ProviderGemini, script: []llm.Attempt{
		{OK: true, HTTPStatus: 200, Text: validTenderJSON},
	}}
	o := New(StaticSource(geminiAccount("gemini-2.0-flash")),
		WithAdapterFactory(func(llm.AccountConfig, zerolog.Logger) (llm.Adapter, error) { return adapter, nil }))

	res, err := o.Call(context.Background(), tenderRequest())
	require.NoError(t, err)
	require.Len(t, adapter.specs, 1)
	assert.NotNil(t, adapter.specs[0].ResponseSchema)
	assert.True(t, res.RawEnvelope.StructuredEnabled)
	assert.True(t, res.SchemaValidation.Passed)
}

func TestCall_ClearedFallbackOverride(t *testing.T) {
	adapter := &scriptedAdapter{provider: llm.ProviderGemini, script: []llm.Attempt{
		{OK: false, HTTPStatus: 500, Err: llm.ClassifyHTTPStatus(500, "", nil)},
	}}
	o := newScripted(t, geminiAccount("gemini-2.0-flash"), adapter)

	req := tenderRequest()
	req.FallbackModelOverride = lo.ToPtr("")
	res, err := o.Call(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, []string{"upstream failure: HTTP 500"}, res.Errors)
}

func TestCall_ConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		account llm.AccountConfig
		want    string
	}{
		{"no provider", llm.AccountConfig{APIKey: "k", TextModel: "m"}, "AI provider is not configured"},
		{"bad provider", llm.AccountConfig{Provider: "claude", APIKey: "k", TextModel: "m"}, `unsupported provider "claude"`},
		{"no key", llm.AccountConfig{Provider: llm.ProviderOpenAI, TextModel: "m"}, "AI API key is not configured"},
		{"no model", llm.AccountConfig{Provider: llm.ProviderOpenAI, APIKey: "k"}, "AI model is not configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := New(StaticSource(tt.account))
			res, err := o.Call(context.Background(), llm.CallRequest{Purpose: "summary"})
			require.NoError(t, err)
			assert.False(t, res.OK)
			assert.Empty(t, res.Attempts)
			assert.Equal(t, []string{tt.want}, res.Errors)
		})
	}
}

type failingSource struct{ err error }

func (f failingSource) Load(context.Context) (llm.AccountConfig, error) {
	return llm.AccountConfig{}, f.err
}

func TestCall_ConfigSourceErrorPropagates(t *testing.T) {
	want := errors.New("secret store locked")
	o := New(failingSource{err: want})

	res, err := o.Call(context.Background(), llm.CallRequest{Purpose: "summary"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, want)
}

func TestCall_PanicRecovered(t *testing.T) {
	adapter := &scriptedAdapter{provider: llm.ProviderGemini, panicOn: 2, script: []llm.Attempt{{OK: true, HTTPStatus: 200}}}
	o := newScripted(t, geminiAccount("gemini-2.0-flash"), adapter)

	res, err := o.Call(context.Background(), tenderRequest())
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, []string{genericFailure}, res.Errors)
	assert.Len(t, res.Attempts, 1)
}

func TestCall_ObserversReceiveEvents(t *testing.T) {
	var mu sync.Mutex
	var attemptTypes []llm.AttemptType
	var results []*llm.CallResult
	obs := llm.ObserverFunc{
		OnAttemptFunc: func(_ context.Context, _ llm.CallInfo, a llm.Attempt) {
			mu.Lock()
			defer mu.Unlock()
			attemptTypes = append(attemptTypes, a.Type)
		},
		OnResultFunc: func(_ context.Context, info llm.CallInfo, r *llm.CallResult) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, "fixed-id", info.CallID)
			results = append(results, r)
		},
	}

	adapter := &scriptedAdapter{provider: llm.ProviderGemini, script: []llm.Attempt{
		{OK: true, HTTPStatus: 200},
		{OK: true, HTTPStatus: 200, Text: validTenderJSON},
	}}
	o := newScripted(t, geminiAccount(""), adapter, WithObservers(obs, NewLogObserver(zerolog.Nop())))
	o.newID = func() string { return "fixed-id" }

	res, err := o.Call(context.Background(), tenderRequest())
	require.NoError(t, err)
	assert.Equal(t, []llm.AttemptType{llm.AttemptPrimary, llm.AttemptStreamFallback}, attemptTypes)
	require.Len(t, results, 1)
	assert.Same(t, res, results[0])
	assert.Equal(t, "fixed-id", res.CallID)
}

func TestCompose_RequestIDFallsBackToResponseID(t *testing.T) {
	res := compose(composeInput{
		info: llm.CallInfo{CallID: "c", Purpose: "summary", Provider: llm.ProviderGemini},
		req:  llm.CallRequest{Purpose: "summary"},
		attempts: []llm.Attempt{
			{Type: llm.AttemptPrimary, OK: false, FinishReasons: []string{"SAFETY"}, Err: llm.NewPromptBlockedError("SAFETY")},
			{Type: llm.AttemptFallbackModel, OK: true, Text: "hello", ResponseID: "resp-9", FinishReason: "STOP", FinishReasons: []string{"STOP"}, LatencyMs: 40, RawBody: strings.Repeat("x", 2500)},
		},
	})
	assert.Equal(t, "resp-9", res.RequestID)
	assert.Equal(t, []string{"SAFETY", "STOP"}, res.FinishReasons)
	assert.True(t, res.OK)
	assert.Empty(t, res.Errors)
	assert.Equal(t, int64(40), res.LatencyMs)
	require.NotNil(t, res.RawEnvelope)
	assert.Equal(t, 2000, len([]rune(res.RawEnvelope.BodyPreview))-1)
	assert.False(t, res.SchemaValidation.Enabled)
}
