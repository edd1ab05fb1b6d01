package openai

import (
	"encoding/json"

	"github.com/aschepis/backscratcher/aicall/llm"
	openai "github.com/sashabaranov/go-openai"
)

// buildRequestBody encodes the two-message chat-completions request for spec.
func buildRequestBody(spec llm.AttemptSpec) ([]byte, error) {
	req := openai.ChatCompletionRequest{
		Model: spec.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: spec.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: spec.UserPrompt},
		},
		Temperature: float32(spec.Temperature),
		MaxTokens:   spec.MaxTokens,
	}
	return json.Marshal(req)
}
