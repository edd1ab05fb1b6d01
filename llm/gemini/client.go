package gemini

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/aicall/llm"
	"github.com/aschepis/backscratcher/aicall/logger"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the public Generative Language API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// Client implements llm.Adapter for the Gemini generateContent API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new Client.
// If apiKey is empty, it will return an error.
// If baseURL is empty, it will use the default Gemini endpoint.
// If timeout is zero, llm.DefaultTimeout is used for streaming and non-streaming calls alike.
func NewClient(apiKey, baseURL string, timeout time.Duration, log zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, llm.NewConfigError("gemini api key is required")
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
		logger:     logger.Component(log, "gemini"),
	}, nil
}

// Provider implements llm.Adapter.
func (c *Client) Provider() string {
	return llm.ProviderGemini
}

// Execute implements llm.Adapter. It issues exactly one generateContent or
// streamGenerateContent call and never returns a Go error.
func (c *Client) Execute(ctx context.Context, spec llm.AttemptSpec) llm.Attempt {
	attempt := llm.Attempt{
		Type:            spec.Type,
		Provider:        llm.ProviderGemini,
		ModelUsed:       spec.Model,
		TemperatureUsed: spec.Temperature,
		MaxTokensUsed:   spec.MaxTokens,
		Structured:      spec.ResponseSchema != nil,
		Stream:          spec.Stream,
	}

	body, err := buildRequestBody(spec)
	if err != nil {
		attempt.Err = &llm.Error{Type: llm.ErrorTypeInvalidRequest, Message: "encode request", ProviderErr: err}
		return attempt
	}

	c.logger.Debug().
		Str("model", spec.Model).
		Str("attempt_type", string(spec.Type)).
		Bool("stream", spec.Stream).
		Bool("structured", attempt.Structured).
		Msg("sending generate content request")

	ex, transportErr := llm.PostJSON(ctx, c.httpClient, c.endpoint(spec.Model, spec.Stream), nil, body,
		llm.NewHeaderCollector("x-request-id", "Retry-After"))

	attempt.LatencyMs = ex.Latency.Milliseconds()
	if transportErr != nil {
		attempt.HTTPStatus = ex.Status
		attempt.Err = transportErr
		return attempt
	}

	var resp response
	if spec.Stream {
		resp = decodeStream(ex.Body)
	} else {
		resp = decodeBody(ex.Body)
	}
	return resp.apply(attempt, ex)
}

func (c *Client) endpoint(model string, stream bool) string {
	method := ":generateContent?"
	if stream {
		method = ":streamGenerateContent?alt=sse&"
	}
	return c.baseURL + "/v1beta/models/" + url.PathEscape(model) + method + "key=" + url.QueryEscape(c.apiKey)
}

// Ensure Client implements llm.Adapter
var _ llm.Adapter = (*Client)(nil)
