package orchestrator

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/aicall/llm"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestLogObserver_AttemptCarriesRetryHints(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLogObserver(zerolog.New(&buf))

	obs.OnAttempt(context.Background(), llm.CallInfo{CallID: "c-1", Purpose: "summary"}, llm.Attempt{
		Type:       llm.AttemptPrimary,
		Provider:   llm.ProviderOpenAI,
		HTTPStatus: 429,
		Err:        llm.ClassifyHTTPStatus(429, "", lo.ToPtr(30*time.Second)),
	})

	line := buf.String()
	assert.Equal(t, "ai_call", gjson.Get(line, "component").String())
	assert.Equal(t, "warn", gjson.Get(line, "level").String())
	assert.Equal(t, "rate_limit", gjson.Get(line, "error_type").String())
	assert.True(t, gjson.Get(line, "retryable").Bool())
	assert.InDelta(t, 30000, gjson.Get(line, "retry_after").Float(), 0.001)
}

func TestLogObserver_AttemptWithoutRetryAfter(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLogObserver(zerolog.New(&buf))

	obs.OnAttempt(context.Background(), llm.CallInfo{CallID: "c-2"}, llm.Attempt{
		Type: llm.AttemptPrimary,
		Err:  llm.ClassifyHTTPStatus(400, "bad field", nil),
	})

	line := buf.String()
	assert.False(t, gjson.Get(line, "retryable").Bool())
	assert.False(t, gjson.Get(line, "retry_after").Exists())
}
