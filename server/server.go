// Package server exposes the orchestrator and the lenient JSON parser as MCP
// tools over stdio.
package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/aicall/llm"
	"github.com/aschepis/backscratcher/aicall/llm/schema"
	"github.com/aschepis/backscratcher/aicall/logger"
)

const (
	ToolAICall    = "ai_call"
	ToolParseJSON = "parse_ai_json"
)

// Caller runs one orchestration. *orchestrator.Orchestrator satisfies it.
type Caller interface {
	Call(ctx context.Context, req llm.CallRequest) (*llm.CallResult, error)
}

// Config holds server configuration options.
type Config struct {
	Name    string
	Version string
	Logger  zerolog.Logger
	// Validator, when set, lets parse_ai_json check a purpose schema.
	Validator schema.Validator
}

// Server is the MCP tool server.
type Server struct {
	mcp       *server.MCPServer
	caller    Caller
	validator schema.Validator
	logger    zerolog.Logger
}

// New creates a Server and registers its tools.
func New(cfg Config, caller Caller) *Server {
	if cfg.Name == "" {
		cfg.Name = "aicall"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{
		caller:    caller,
		validator: cfg.Validator,
		logger:    logger.Component(cfg.Logger, "mcp-server"),
	}
	s.mcp = server.NewMCPServer(cfg.Name, cfg.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.mcp.AddTool(aiCallTool(), s.logged(ToolAICall, s.handleAICall))
	s.mcp.AddTool(parseJSONTool(), s.logged(ToolParseJSON, s.handleParseJSON))
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves MCP over stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	s.logger.Info().Msg("Starting MCP stdio server")
	return server.ServeStdio(s.mcp)
}

// logged wraps a tool handler with request logging.
func (s *Server) logged(name string, h server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		res, err := h(ctx, req)
		duration := time.Since(start)

		switch {
		case err != nil:
			s.logger.Error().Str("tool", name).Dur("duration", duration).Err(err).Msg("Tool failed")
		case res != nil && res.IsError:
			s.logger.Warn().Str("tool", name).Dur("duration", duration).Msg("Tool returned error result")
		default:
			s.logger.Debug().Str("tool", name).Dur("duration", duration).Msg("Tool completed")
		}
		return res, err
	}
}

// structured returns v as structured content with a JSON text fallback.
func structured(v any, isError bool) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to encode result", err)
	}
	return structuredWithText(v, data, isError)
}

func structuredWithText(v any, data []byte, isError bool) *mcp.CallToolResult {
	res := mcp.NewToolResultStructured(v, string(data))
	res.IsError = isError
	return res
}
