package gemini

import (
	"strings"

	"github.com/aschepis/backscratcher/aicall/llm"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

// response is the provider-shaped outcome of one call, before it is folded
// into an llm.Attempt. Streaming and non-streaming decodes both produce it.
type response struct {
	Text          string
	FinishReasons []string
	BlockReason   string
	ErrorMessage  string
	ResponseID    string
	Invalid       bool
}

// fragment is one decoded generateContent payload.
type fragment struct {
	Texts         []string
	FinishReasons []string
	BlockReason   string
	ErrorMessage  string
	ResponseID    string
}

// decodeBody decodes a non-streaming generateContent response.
func decodeBody(body []byte) response {
	if !gjson.ValidBytes(body) {
		return response{Invalid: true}
	}
	f := decodeFragment(gjson.ParseBytes(body))
	return response{
		Text:          strings.Join(f.Texts, "\n"),
		FinishReasons: f.FinishReasons,
		BlockReason:   f.BlockReason,
		ErrorMessage:  f.ErrorMessage,
		ResponseID:    f.ResponseID,
	}
}

// decodeFragment extracts text, finish reasons, block reason and any embedded
// error from a single payload. Some endpoints wrap the payload in an array.
func decodeFragment(root gjson.Result) fragment {
	if root.IsArray() {
		root = root.Get("0")
	}

	var f fragment
	f.ResponseID = root.Get("responseId").String()

	if e := root.Get("error"); e.Exists() {
		f.ErrorMessage = errorMessage(e)
	}

	f.BlockReason = root.Get("promptFeedback.blockReason").String()

	root.Get("candidates").ForEach(func(_, cand gjson.Result) bool {
		cand.Get("content.parts").ForEach(func(_, p gjson.Result) bool {
			if p.Get("thought").Bool() {
				return true
			}
			if t := p.Get("text"); t.Type == gjson.String && t.String() != "" {
				f.Texts = append(f.Texts, t.String())
			}
			return true
		})

		if r := cand.Get("finishReason").String(); r != "" {
			f.FinishReasons = append(f.FinishReasons, r)
		}

		if f.BlockReason == "" {
			cand.Get("safetyRatings").ForEach(func(_, rating gjson.Result) bool {
				if rating.Get("blocked").Bool() {
					f.BlockReason = "SAFETY:" + rating.Get("category").String()
					return false
				}
				return true
			})
		}
		return true
	})

	f.FinishReasons = lo.Uniq(f.FinishReasons)
	return f
}

func errorMessage(e gjson.Result) string {
	if e.Type == gjson.String {
		return strings.TrimSpace(e.String())
	}
	if msg := strings.TrimSpace(e.Get("message").String()); msg != "" {
		return msg
	}
	if status := e.Get("status").String(); status != "" {
		return status
	}
	return strings.TrimSpace(e.Raw)
}

// apply folds the decoded response into attempt. ok requires no provider
// error, a 2xx status and no block reason.
func (r response) apply(attempt llm.Attempt, ex *llm.Exchange) llm.Attempt {
	attempt.HTTPStatus = ex.Status
	attempt.RawBody = string(ex.Body)
	attempt.RequestID = ex.Headers.Get("x-request-id")
	attempt.ResponseID = r.ResponseID
	attempt.Text = r.Text
	attempt.FinishReasons = r.FinishReasons
	if len(r.FinishReasons) > 0 {
		attempt.FinishReason = r.FinishReasons[0]
	}
	attempt.BlockReason = r.BlockReason

	switch {
	case !ex.OK():
		attempt.Err = llm.ClassifyHTTPStatus(ex.Status, r.ErrorMessage, ex.Headers.RetryAfter())
	case r.ErrorMessage != "":
		attempt.Err = llm.NewProviderPayloadError(r.ErrorMessage, ex.Status)
	case r.Invalid:
		attempt.Err = llm.NewProviderPayloadError("response body is not valid JSON", ex.Status)
	case r.BlockReason != "":
		attempt.Err = llm.NewPromptBlockedError(r.BlockReason)
	}

	attempt.OK = attempt.Err == nil
	if attempt.OK && !attempt.HasText() {
		attempt.DiagnosticError = llm.DiagnosticEmptyContent
	}
	return attempt
}
