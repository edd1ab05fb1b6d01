package server

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aschepis/backscratcher/aicall/llm"
	"github.com/aschepis/backscratcher/aicall/llm/lenient"
)

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 800
)

func aiCallTool() mcp.Tool {
	return mcp.NewTool(ToolAICall,
		mcp.WithDescription("Run a purpose-specific AI call through the configured provider, with fallback, retry and JSON extraction."),
		mcp.WithString("purpose", mcp.Required(), mcp.Description("Purpose key, e.g. tender_offline_extraction")),
		mcp.WithString("user_prompt", mcp.Required(), mcp.Description("User prompt text")),
		mcp.WithString("system_prompt", mcp.Description("System prompt text")),
		mcp.WithBoolean("expect_json", mcp.Description("Parse the response as JSON")),
		mcp.WithNumber("temperature", mcp.DefaultNumber(defaultTemperature), mcp.Min(0), mcp.Max(2)),
		mcp.WithNumber("max_tokens", mcp.DefaultNumber(defaultMaxTokens), mcp.Min(1)),
		mcp.WithString("model", mcp.Description("Override the primary model")),
		mcp.WithString("fallback_model", mcp.Description("Override the fallback model; empty disables it")),
		mcp.WithBoolean("allow_fallback", mcp.Description("Allow cascade steps after the primary attempt (default true)")),
	)
}

func parseJSONTool() mcp.Tool {
	return mcp.NewTool(ToolParseJSON,
		mcp.WithDescription("Extract JSON from free-form model output using strict, block extraction and repair stages."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Raw model output")),
		mcp.WithString("purpose", mcp.Description("Validate the parsed value against this purpose's schema")),
	)
}

// callRequest maps tool arguments onto a CallRequest. Optional string
// overrides are only set when the argument is present.
func callRequest(req mcp.CallToolRequest) (llm.CallRequest, error) {
	purpose, err := req.RequireString("purpose")
	if err != nil {
		return llm.CallRequest{}, err
	}
	userPrompt, err := req.RequireString("user_prompt")
	if err != nil {
		return llm.CallRequest{}, err
	}

	out := llm.CallRequest{
		Purpose:      purpose,
		SystemPrompt: req.GetString("system_prompt", ""),
		UserPrompt:   userPrompt,
		ExpectJSON:   req.GetBool("expect_json", false),
		Temperature:  req.GetFloat("temperature", defaultTemperature),
		MaxTokens:    req.GetInt("max_tokens", defaultMaxTokens),
	}

	args := req.GetArguments()
	if v, ok := args["model"].(string); ok && v != "" {
		out.ModelOverride = &v
	}
	if v, ok := args["fallback_model"].(string); ok {
		out.FallbackModelOverride = &v
	}
	if v, ok := args["allow_fallback"].(bool); ok {
		out.AllowFallback = &v
	}
	return out, nil
}

func (s *Server) handleAICall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	callReq, err := callRequest(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.caller.Call(ctx, callReq)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("AI call failed", err), nil
	}
	data, err := result.ToJSON()
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to encode result", err), nil
	}
	return structuredWithText(result, data, !result.OK), nil
}

type parseResult struct {
	lenient.Outcome
	SchemaValidation *llm.SchemaValidation `json:"schema_validation,omitempty"`
}

func (s *Server) handleParseJSON(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out := parseResult{Outcome: lenient.Parse(text)}
	ok := out.OK
	if purpose := req.GetString("purpose", ""); purpose != "" && s.validator != nil && out.OK {
		sv := s.validator.Validate(purpose, out.Value)
		out.SchemaValidation = &sv
		ok = sv.Passed
	}
	return structured(out, !ok), nil
}
