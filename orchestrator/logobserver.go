package orchestrator

import (
	"context"

	"github.com/aschepis/backscratcher/aicall/llm"
	"github.com/aschepis/backscratcher/aicall/logger"
	"github.com/rs/zerolog"
)

// LogObserver writes one event per attempt and one summary per call.
type LogObserver struct {
	logger zerolog.Logger
}

// NewLogObserver creates a LogObserver on a child logger.
func NewLogObserver(log zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger.Component(log, "ai_call")}
}

// OnAttempt implements llm.Observer.
func (l *LogObserver) OnAttempt(_ context.Context, call llm.CallInfo, a llm.Attempt) {
	ev := l.logger.Debug()
	if !a.OK {
		ev = l.logger.Warn()
	}
	if a.Err != nil {
		ev = ev.Str("error_type", string(a.Err.Type)).
			Str("error", a.Err.Error()).
			Bool("retryable", llm.IsRetryableError(a.Err))
		if after := llm.ExtractRetryAfter(a.Err); after != nil {
			ev = ev.Dur("retry_after", *after)
		}
	}
	ev.Str("call_id", call.CallID).
		Str("purpose", call.Purpose).
		Str("provider", a.Provider).
		Str("model", a.ModelUsed).
		Str("attempt_type", string(a.Type)).
		Bool("ok", a.OK).
		Int("http_status", a.HTTPStatus).
		Int64("latency_ms", a.LatencyMs).
		Bool("stream", a.Stream).
		Bool("structured", a.Structured).
		Str("finish_reason", a.FinishReason).
		Str("block_reason", a.BlockReason).
		Str("diagnostic", a.DiagnosticError).
		Msg("AI attempt finished")
}

// OnResult implements llm.Observer.
func (l *LogObserver) OnResult(_ context.Context, call llm.CallInfo, r *llm.CallResult) {
	if r == nil {
		return
	}
	attemptType := ""
	if last, ok := r.LastAttempt(); ok {
		attemptType = string(last.Type)
	}
	l.logger.Info().
		Str("call_id", call.CallID).
		Str("purpose", r.Purpose).
		Str("provider", r.Provider).
		Str("model", r.ModelUsed).
		Str("attempt_type", attemptType).
		Bool("ok", r.OK).
		Bool("provider_ok", r.ProviderOK).
		Bool("parsed_ok", r.ParsedOK).
		Int("attempts", len(r.Attempts)).
		Int("errors", len(r.Errors)).
		Int("retry_count", r.RetryCount).
		Bool("fallback_used", r.FallbackUsed).
		Int64("latency_ms", r.LatencyMs).
		Str("parse_stage", string(r.ParseStage)).
		Bool("schema_enabled", r.SchemaValidation.Enabled).
		Bool("schema_passed", r.SchemaValidation.Passed).
		Str("first_error", r.FirstError()).
		Msg("AI call finished")
}

// Ensure LogObserver implements llm.Observer
var _ llm.Observer = (*LogObserver)(nil)
