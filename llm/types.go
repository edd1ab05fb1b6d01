package llm

import (
	"encoding/json"
	"strings"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// AttemptType identifies which cascade step produced an Attempt.
type AttemptType string

const (
	AttemptPrimary        AttemptType = "primary"
	AttemptFallbackModel  AttemptType = "fallback_model"
	AttemptStreamFallback AttemptType = "stream_fallback"
	AttemptRetry          AttemptType = "retry"
	AttemptFallbackSchema AttemptType = "fallback_schema"
)

// ParseStage records which lenient-JSON stage produced the parsed value.
type ParseStage string

const (
	ParseStageNone             ParseStage = ""
	ParseStageStrict           ParseStage = "strict_json"
	ParseStageExtractBlock     ParseStage = "extract_block"
	ParseStageRepair           ParseStage = "repair"
	ParseStageFallbackManual   ParseStage = "fallback_manual"
	ParseStageSchemaValidation ParseStage = "schema_validation"
)

// DiagnosticEmptyContent marks a successful response that carried no extractable text.
const DiagnosticEmptyContent = "empty_content"

const (
	minTemperature = 0.1
	maxTemperature = 1.0
	minMaxTokens   = 200
)

// ModelPolicy is the resolved model behaviour for one purpose.
// It is a value type and is not modified once resolved for a call.
type ModelPolicy struct {
	PrimaryModel         string `json:"primary_model"`
	FallbackModel        string `json:"fallback_model,omitempty"`
	UseStreamingFallback bool   `json:"use_streaming_fallback"`
	RetryOnceOnEmpty     bool   `json:"retry_once_on_empty"`
	UseStructuredJSON    bool   `json:"use_structured_json"`
}

// PolicyOverride is a stored per-purpose override. Nil fields are unset.
type PolicyOverride struct {
	PrimaryModel         string
	FallbackModel        *string
	UseStreamingFallback *bool
	RetryOnceOnEmpty     *bool
	UseStructuredJSON    *bool
}

// AccountConfig is the account-level configuration handed to the orchestrator
// by its config collaborator. It lives here to avoid an import cycle with config.
type AccountConfig struct {
	Provider      string
	APIKey        string
	TextModel     string
	ImageModel    string
	PurposeModels map[string]PolicyOverride
	OpenAIBaseURL string
	GeminiBaseURL string
	// TimeoutSeconds bounds each attempt; zero means DefaultTimeout.
	TimeoutSeconds int
}

// CallRequest is one orchestration request. Build a fresh value per call.
type CallRequest struct {
	Purpose      string
	SystemPrompt string
	UserPrompt   string
	ExpectJSON   bool
	Temperature  float64
	MaxTokens    int

	// ModelOverride replaces the resolved primary model when non-empty.
	ModelOverride *string
	// FallbackModelOverride replaces the resolved fallback model; an empty
	// string clears it.
	FallbackModelOverride *string
	// AllowFallback defaults to true when nil.
	AllowFallback *bool
}

// FallbackAllowed reports whether cascade steps beyond the primary attempt may run.
func (r CallRequest) FallbackAllowed() bool {
	return r.AllowFallback == nil || *r.AllowFallback
}

// Normalized returns a copy with temperature clamped to [0.1, 1.0] and max
// tokens floored at 200.
func (r CallRequest) Normalized() CallRequest {
	out := r
	switch {
	case out.Temperature < minTemperature:
		out.Temperature = minTemperature
	case out.Temperature > maxTemperature:
		out.Temperature = maxTemperature
	}
	if out.MaxTokens < minMaxTokens {
		out.MaxTokens = minMaxTokens
	}
	return out
}

// AttemptSpec is what the orchestrator asks an adapter to execute.
type AttemptSpec struct {
	Type         AttemptType
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
	Stream       bool
	// ResponseSchema enables provider-side structured output when non-nil.
	ResponseSchema map[string]any
}

// Attempt is one provider round trip and its normalized outcome.
type Attempt struct {
	Type            AttemptType `json:"attempt_type"`
	Provider        string      `json:"provider"`
	HTTPStatus      int         `json:"http_status"`
	RawBody         string      `json:"raw_body,omitempty"`
	Text            string      `json:"text"`
	OK              bool        `json:"ok"`
	RequestID       string      `json:"request_id,omitempty"`
	ResponseID      string      `json:"response_id,omitempty"`
	FinishReason    string      `json:"finish_reason,omitempty"`
	FinishReasons   []string    `json:"finish_reasons,omitempty"`
	BlockReason     string      `json:"block_reason,omitempty"`
	LatencyMs       int64       `json:"latency_ms"`
	ModelUsed       string      `json:"model_used"`
	TemperatureUsed float64     `json:"temperature_used"`
	MaxTokensUsed   int         `json:"max_tokens_used"`
	Structured      bool        `json:"structured"`
	Stream          bool        `json:"stream"`
	Err             *Error      `json:"error,omitempty"`
	DiagnosticError string      `json:"diagnostic_error,omitempty"`
}

// HasText reports whether the attempt produced non-blank text.
func (a Attempt) HasText() bool {
	return strings.TrimSpace(a.Text) != ""
}

// SchemaValidation is the outcome of the purpose schema hook.
type SchemaValidation struct {
	Enabled bool     `json:"enabled"`
	Passed  bool     `json:"passed"`
	Errors  []string `json:"errors"`
}

// SchemaDisabled is the hook result for purposes without a validator.
func SchemaDisabled() SchemaValidation {
	return SchemaValidation{Enabled: false, Passed: true, Errors: []string{}}
}

// RawEnvelope is a diagnostic snapshot of the attempt a result was composed from.
type RawEnvelope struct {
	Provider          string      `json:"provider"`
	Model             string      `json:"model"`
	HTTPStatus        int         `json:"http_status"`
	LatencyMs         int64       `json:"latency_ms"`
	Temperature       float64     `json:"temperature"`
	MaxTokens         int         `json:"max_tokens"`
	AttemptType       AttemptType `json:"attempt_type"`
	Structured        bool        `json:"structured"`
	StructuredEnabled bool        `json:"structured_enabled"`
	Stream            bool        `json:"stream"`
	RequestID         string      `json:"request_id,omitempty"`
	ResponseID        string      `json:"response_id,omitempty"`
	FinishReason      string      `json:"finish_reason,omitempty"`
	BlockReason       string      `json:"block_reason,omitempty"`
	BodyPreview       string      `json:"body_preview,omitempty"`
}

// CallResult aggregates a whole orchestration run.
type CallResult struct {
	CallID            string           `json:"call_id"`
	Purpose           string           `json:"purpose"`
	Provider          string           `json:"provider"`
	ModelUsed         string           `json:"model_used,omitempty"`
	OK                bool             `json:"ok"`
	ProviderOK        bool             `json:"provider_ok"`
	ParsedOK          bool             `json:"parsed_ok"`
	Text              string           `json:"text"`
	JSON              any              `json:"json"`
	ParseStage        ParseStage       `json:"parse_stage,omitempty"`
	Errors            []string         `json:"errors"`
	Attempts          []Attempt        `json:"attempts"`
	RetryCount        int              `json:"retry_count"`
	FallbackUsed      bool             `json:"fallback_used"`
	FallbackModelUsed string           `json:"fallback_model_used,omitempty"`
	SchemaValidation  SchemaValidation `json:"schema_validation"`
	RequestID         string           `json:"request_id,omitempty"`
	ResponseID        string           `json:"response_id,omitempty"`
	FinishReasons     []string         `json:"finish_reasons"`
	BlockReason       string           `json:"block_reason,omitempty"`
	HTTPStatus        int              `json:"http_status"`
	LatencyMs         int64            `json:"latency_ms"`
	DiagnosticError   string           `json:"diagnostic_error,omitempty"`
	RawEnvelope       *RawEnvelope     `json:"raw_envelope,omitempty"`
}

// FirstError returns the first recorded error, or "" when there is none.
func (r *CallResult) FirstError() string {
	if r == nil || len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0]
}

// LastAttempt returns the most recent attempt, if any.
func (r *CallResult) LastAttempt() (Attempt, bool) {
	if r == nil || len(r.Attempts) == 0 {
		return Attempt{}, false
	}
	return r.Attempts[len(r.Attempts)-1], true
}

// ToJSON marshals the result for debugging/logging purposes.
func (r *CallResult) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
