package openai

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/aicall/llm"
	"github.com/aschepis/backscratcher/aicall/logger"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the public OpenAI API endpoint.
const DefaultBaseURL = "https://api.openai.com/v1"

// Client implements llm.Adapter for the OpenAI chat-completions API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new Client.
// If apiKey is empty, it will return an error.
// If baseURL is empty, it will use the default OpenAI API endpoint.
// If timeout is zero, llm.DefaultTimeout is used.
func NewClient(apiKey, baseURL string, timeout time.Duration, log zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, llm.NewConfigError("openai api key is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = llm.DefaultTimeout
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Component(log, "openai"),
	}, nil
}

// Provider implements llm.Adapter.
func (c *Client) Provider() string {
	return llm.ProviderOpenAI
}

// Execute implements llm.Adapter. It issues exactly one POST to
// /chat/completions and never returns a Go error; failures are in the Attempt.
func (c *Client) Execute(ctx context.Context, spec llm.AttemptSpec) llm.Attempt {
	attempt := llm.Attempt{
		Type:            spec.Type,
		Provider:        llm.ProviderOpenAI,
		ModelUsed:       spec.Model,
		TemperatureUsed: spec.Temperature,
		MaxTokensUsed:   spec.MaxTokens,
	}

	body, err := buildRequestBody(spec)
	if err != nil {
		attempt.Err = &llm.Error{Type: llm.ErrorTypeInvalidRequest, Message: "encode request", ProviderErr: err}
		return attempt
	}

	endpoint := c.baseURL + "/chat/completions"
	c.logger.Debug().
		Str("model", spec.Model).
		Str("attempt_type", string(spec.Type)).
		Int("max_tokens", spec.MaxTokens).
		Msg("sending chat completion request")

	ex, transportErr := llm.PostJSON(ctx, c.httpClient, endpoint, map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}, body, llm.NewHeaderCollector(headerRequestID, "Retry-After"))

	attempt.LatencyMs = ex.Latency.Milliseconds()
	if transportErr != nil {
		attempt.HTTPStatus = ex.Status
		attempt.Err = transportErr
		return attempt
	}

	return normalize(attempt, ex)
}

// Ensure Client implements llm.Adapter
var _ llm.Adapter = (*Client)(nil)
