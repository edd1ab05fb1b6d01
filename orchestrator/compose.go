package orchestrator

import (
	"github.com/aschepis/backscratcher/aicall/llm"
	"github.com/aschepis/backscratcher/aicall/llm/lenient"
	"github.com/aschepis/backscratcher/aicall/llm/schema"
	"github.com/samber/lo"
)

const bodyPreviewLimit = 2000

type composeInput struct {
	info              llm.CallInfo
	req               llm.CallRequest
	attempts          []llm.Attempt
	retryCount        int
	fallbackUsed      bool
	fallbackModelUsed string
	structured        bool
	validator         schema.Validator
}

// compose builds the CallResult from the last attempt. Earlier attempts only
// contribute finish reasons and total latency; their errors stay on Attempts.
func compose(in composeInput) *llm.CallResult {
	res := failedResult(in.info)
	res.Attempts = append(res.Attempts, in.attempts...)
	res.RetryCount = in.retryCount
	res.FallbackUsed = in.fallbackUsed
	res.FallbackModelUsed = in.fallbackModelUsed
	if len(in.attempts) == 0 {
		return res
	}

	a := in.attempts[len(in.attempts)-1]
	res.Provider = a.Provider
	res.ModelUsed = a.ModelUsed
	res.ProviderOK = a.OK
	res.Text = a.Text
	res.HTTPStatus = a.HTTPStatus
	res.ResponseID = a.ResponseID
	res.RequestID = lo.Ternary(a.RequestID != "", a.RequestID, a.ResponseID)
	res.BlockReason = a.BlockReason
	res.DiagnosticError = a.DiagnosticError
	res.FinishReasons = finishReasonUnion(in.attempts)
	res.LatencyMs = lo.SumBy(in.attempts, func(at llm.Attempt) int64 { return at.LatencyMs })
	res.RawEnvelope = envelope(a, in.structured)

	if a.Err != nil {
		res.Errors = append(res.Errors, a.Err.Error())
	}

	if in.req.ExpectJSON {
		applyParse(res, in, a)
	} else {
		res.ParsedOK = res.ProviderOK
	}

	if !a.HasText() && res.ProviderOK {
		res.DiagnosticError = llm.DiagnosticEmptyContent
		res.Errors = append(res.Errors, emptyContentError().Error())
	}

	res.OK = res.ParsedOK || (!in.req.ExpectJSON && res.ProviderOK)
	return res
}

func applyParse(res *llm.CallResult, in composeInput, a llm.Attempt) {
	outcome := lenient.Parse(a.Text)
	res.ParseStage = outcome.Stage
	if !outcome.OK {
		if a.HasText() {
			res.Errors = append(res.Errors, parseError().Error())
		}
		return
	}

	res.JSON = outcome.Value
	res.ParsedOK = true

	if !in.structured || in.validator == nil {
		return
	}
	sv := in.validator.Validate(in.req.Purpose, outcome.Value)
	res.SchemaValidation = sv
	if sv.Enabled && !sv.Passed {
		res.ParsedOK = false
		res.ParseStage = llm.ParseStageSchemaValidation
		res.Errors = append(res.Errors, sv.Errors...)
	}
}

func finishReasonUnion(attempts []llm.Attempt) []string {
	var all []string
	for _, a := range attempts {
		all = append(all, a.FinishReason)
		all = append(all, a.FinishReasons...)
	}
	out := lo.Uniq(lo.Compact(all))
	if out == nil {
		out = []string{}
	}
	return out
}

func envelope(a llm.Attempt, structuredEnabled bool) *llm.RawEnvelope {
	return &llm.RawEnvelope{
		Provider:          a.Provider,
		Model:             a.ModelUsed,
		HTTPStatus:        a.HTTPStatus,
		LatencyMs:         a.LatencyMs,
		Temperature:       a.TemperatureUsed,
		MaxTokens:         a.MaxTokensUsed,
		AttemptType:       a.Type,
		Structured:        a.Structured,
		StructuredEnabled: structuredEnabled,
		Stream:            a.Stream,
		RequestID:         a.RequestID,
		ResponseID:        a.ResponseID,
		FinishReason:      a.FinishReason,
		BlockReason:       a.BlockReason,
		BodyPreview:       preview(a.RawBody),
	}
}

func preview(body string) string {
	r := []rune(body)
	if len(r) <= bodyPreviewLimit {
		return body
	}
	return string(r[:bodyPreviewLimit]) + "…"
}

func emptyContentError() *llm.Error {
	return &llm.Error{Type: llm.ErrorTypeEmptyContent, Message: "empty_content: provider returned no text"}
}

func parseError() *llm.Error {
	return &llm.Error{Type: llm.ErrorTypeParse, Message: "parse failed: response did not contain valid JSON"}
}
