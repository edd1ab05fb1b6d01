package openai

import (
	"encoding/json"
	"strings"

	"github.com/aschepis/backscratcher/aicall/llm"
	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

const headerRequestID = "x-request-id"

// normalize turns a completed HTTP exchange into the canonical attempt.
// All chat-completions shape sniffing lives here.
func normalize(attempt llm.Attempt, ex *llm.Exchange) llm.Attempt {
	attempt.HTTPStatus = ex.Status
	attempt.RawBody = string(ex.Body)
	attempt.RequestID = ex.Headers.Get(headerRequestID)

	body := ex.Body
	valid := gjson.ValidBytes(body)
	if valid {
		attempt.ResponseID = gjson.GetBytes(body, "id").String()
		attempt.FinishReasons = finishReasons(body)
		if len(attempt.FinishReasons) > 0 {
			attempt.FinishReason = attempt.FinishReasons[0]
		}
		attempt.Text = extractText(body)
	}

	detail := errorMessage(body)
	switch {
	case !ex.OK():
		attempt.Err = llm.ClassifyHTTPStatus(ex.Status, detail, ex.Headers.RetryAfter())
	case detail != "":
		attempt.Err = llm.NewProviderPayloadError(detail, ex.Status)
	case !valid:
		attempt.Err = llm.NewProviderPayloadError("response body is not valid JSON", ex.Status)
	}

	attempt.OK = attempt.Err == nil
	if attempt.OK && !attempt.HasText() {
		attempt.DiagnosticError = llm.DiagnosticEmptyContent
	}
	return attempt
}

// errorMessage returns the provider-declared error message, if any.
func errorMessage(body []byte) string {
	var envelope openai.ErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		if msg := strings.TrimSpace(envelope.Error.Message); msg != "" {
			return msg
		}
	}
	if e := gjson.GetBytes(body, "error"); e.Type == gjson.String {
		return strings.TrimSpace(e.String())
	}
	return ""
}

// extractText scans choices in order: the first non-empty message content
// wins, otherwise the first tool call's arguments are used.
func extractText(body []byte) string {
	choices := gjson.GetBytes(body, "choices")

	var text string
	choices.ForEach(func(_, choice gjson.Result) bool {
		if t := contentText(choice.Get("message.content")); strings.TrimSpace(t) != "" {
			text = t
			return false
		}
		return true
	})
	if text != "" {
		return text
	}

	choices.ForEach(func(_, choice gjson.Result) bool {
		args := choice.Get("message.tool_calls.0.function.arguments")
		if args.Exists() {
			text = args.String()
			return false
		}
		return true
	})
	return text
}

// contentText flattens string or part-array message content.
func contentText(content gjson.Result) string {
	switch {
	case content.Type == gjson.String:
		return content.String()
	case content.IsArray():
		var parts []string
		content.ForEach(func(_, part gjson.Result) bool {
			switch {
			case part.Type == gjson.String:
				parts = append(parts, part.String())
			case part.Get("text").Type == gjson.String:
				parts = append(parts, part.Get("text").String())
			default:
				parts = append(parts, part.Raw)
			}
			return true
		})
		return strings.Join(lo.Compact(parts), "\n")
	default:
		return ""
	}
}

func finishReasons(body []byte) []string {
	var reasons []string
	gjson.GetBytes(body, "choices.#.finish_reason").ForEach(func(_, r gjson.Result) bool {
		reasons = append(reasons, r.String())
		return true
	})
	return lo.Uniq(lo.Compact(reasons))
}
