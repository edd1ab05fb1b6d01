// Package lenient parses JSON out of free-form model output.
//
// Parse tries three stages in order: a strict decode of the label-stripped text,
// a strict decode of the first balanced top-level block, and a strict decode
// after textual repair (code fences, curly quotes, trailing commas). It keeps no
// state between calls.
package lenient

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/aschepis/backscratcher/aicall/llm"
)

const bom = "\ufeff"

var (
	fencePattern         = regexp.MustCompile("```[a-zA-Z0-9_-]*")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

	quoteReplacer = strings.NewReplacer(
		"“", `"`, "”", `"`, "„", `"`, "‟", `"`,
		"‘", "'", "’", "'", "‚", "'", "‛", "'",
	)
)

// Outcome is the result of Parse.
type Outcome struct {
	Value    any            `json:"json"`
	Stage    llm.ParseStage `json:"parse_stage"`
	OK       bool           `json:"ok"`
	Failures []string       `json:"failures"`
}

// Parse runs the strict, block-extraction and repair stages over text.
// When all stages fail, Value is nil and Stage is fallback_manual.
func Parse(text string) Outcome {
	out := Outcome{Failures: []string{}}

	cleaned := stripLabel(text)
	v, err := decode(cleaned)
	if err == nil {
		return success(out, v, llm.ParseStageStrict)
	}
	out.Failures = append(out.Failures, fmt.Sprintf("strict_json: %v", err))

	if block, ok := ExtractBlock(cleaned); ok {
		v, err = decode(block)
		if err == nil {
			return success(out, v, llm.ParseStageExtractBlock)
		}
		out.Failures = append(out.Failures, fmt.Sprintf("extract_block: %v", err))
	} else {
		out.Failures = append(out.Failures, "extract_block: no balanced JSON block found")
	}

	repaired := Repair(cleaned)
	candidate, ok := ExtractBlock(repaired)
	if !ok {
		candidate = repaired
	}
	v, err = decode(candidate)
	if err == nil {
		return success(out, v, llm.ParseStageRepair)
	}
	out.Failures = append(out.Failures, fmt.Sprintf("repair: %v", err))

	out.Stage = llm.ParseStageFallbackManual
	return out
}

func success(out Outcome, v any, stage llm.ParseStage) Outcome {
	out.Value = v
	out.Stage = stage
	out.OK = true
	return out
}

// ExtractBlock returns the first balanced top-level {...} or [...] block in
// text. Brackets inside double-quoted strings are ignored; closers that do not
// match the innermost open bracket are skipped.
func ExtractBlock(text string) (string, bool) {
	var stack []byte
	start := -1
	inString := false
	escape := false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			if len(stack) == 0 {
				start = i
			}
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 || !matches(stack[len(stack)-1], c) {
				continue
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func matches(open, closer byte) bool {
	return (open == '{' && closer == '}') || (open == '[' && closer == ']')
}

// Repair applies the textual fixes of the repair stage: code fences removed,
// curly quotes straightened, BOM and json label stripped, trailing commas dropped.
func Repair(text string) string {
	s := fencePattern.ReplaceAllString(text, "")
	s = quoteReplacer.Replace(s)
	s = stripLabel(s)
	return trailingCommaPattern.ReplaceAllString(s, "$1")
}

func stripLabel(text string) string {
	s := strings.TrimSpace(strings.TrimPrefix(text, bom))
	s = strings.TrimPrefix(s, bom)
	if len(s) >= 5 {
		prefix := strings.ToLower(s[:5])
		if prefix == "json:" || prefix == "json=" {
			s = s[5:]
		}
	}
	return strings.TrimSpace(s)
}

func decode(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}
