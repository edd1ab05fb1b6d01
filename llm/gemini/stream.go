package gemini

import (
	"bytes"
	"strings"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

var streamSentinels = map[string]struct{}{
	"[DONE]": {},
	"[":      {},
	"]":      {},
	",":      {},
}

// streamAccumulator merges decoded fragments in arrival order.
type streamAccumulator struct {
	resp    response
	texts   []string
	reasons []string
	decoded int
}

// add folds f in: texts are joined, the first error, block reason and
// response id win, finish reasons are collected.
func (a *streamAccumulator) add(f fragment) {
	a.decoded++
	if f.ErrorMessage != "" && a.resp.ErrorMessage == "" {
		a.resp.ErrorMessage = f.ErrorMessage
	}
	if a.resp.BlockReason == "" {
		a.resp.BlockReason = f.BlockReason
	}
	if a.resp.ResponseID == "" {
		a.resp.ResponseID = f.ResponseID
	}
	if len(f.Texts) > 0 {
		a.texts = append(a.texts, strings.Join(f.Texts, "\n"))
	}
	a.reasons = append(a.reasons, f.FinishReasons...)
}

func (a *streamAccumulator) result() response {
	resp := a.resp
	resp.Text = strings.Join(a.texts, "\n")
	resp.FinishReasons = lo.Uniq(a.reasons)
	return resp
}

// decodeStream decodes a streamGenerateContent body. Each newline-delimited
// record is decoded on its own; text fragments are joined with newlines and
// the first finish and block reasons are kept. A fragment carrying an error
// sets the error once and extraction continues.
func decodeStream(body []byte) response {
	var acc streamAccumulator

	for _, line := range bytes.Split(body, []byte("\n")) {
		rec := bytes.TrimSpace(line)
		rec = bytes.TrimSpace(bytes.TrimPrefix(rec, []byte("data:")))
		if len(rec) == 0 {
			continue
		}
		if _, ok := streamSentinels[string(rec)]; ok {
			continue
		}
		rec = bytes.TrimSuffix(bytes.TrimPrefix(rec, []byte(",")), []byte(","))
		if !gjson.ValidBytes(rec) {
			continue
		}
		acc.add(decodeFragment(gjson.ParseBytes(rec)))
	}
	if acc.decoded > 0 {
		return acc.result()
	}

	// A server that ignored alt=sse returns one JSON document, often a
	// pretty-printed array of chunks.
	whole := bytes.TrimSpace(body)
	if len(whole) == 0 || !gjson.ValidBytes(whole) {
		return acc.result()
	}
	root := gjson.ParseBytes(whole)
	if !root.IsArray() {
		return decodeBody(whole)
	}
	root.ForEach(func(_, chunk gjson.Result) bool {
		acc.add(decodeFragment(chunk))
		return true
	})
	return acc.result()
}
