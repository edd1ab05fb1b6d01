package gemini

import (
	"encoding/json"

	"github.com/aschepis/backscratcher/aicall/llm"
)

const mimeTypeJSON = "application/json"

type generateRequest struct {
	SystemInstruction *content         `json:"system_instruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generation_config"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64        `json:"temperature"`
	MaxOutputTokens  int            `json:"max_output_tokens"`
	ResponseMimeType string         `json:"response_mime_type,omitempty"`
	ResponseSchema   map[string]any `json:"response_schema,omitempty"`
}

// buildRequestBody encodes the generateContent request for spec. Structured
// output is requested only when spec carries a response schema.
func buildRequestBody(spec llm.AttemptSpec) ([]byte, error) {
	req := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: spec.UserPrompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     spec.Temperature,
			MaxOutputTokens: spec.MaxTokens,
		},
	}
	if spec.SystemPrompt != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: spec.SystemPrompt}}}
	}
	if spec.ResponseSchema != nil {
		req.GenerationConfig.ResponseMimeType = mimeTypeJSON
		req.GenerationConfig.ResponseSchema = spec.ResponseSchema
	}
	return json.Marshal(req)
}
