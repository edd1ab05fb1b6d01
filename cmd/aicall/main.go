package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/aicall/calllog"
	"github.com/aschepis/backscratcher/aicall/config"
	"github.com/aschepis/backscratcher/aicall/llm"
	"github.com/aschepis/backscratcher/aicall/llm/lenient"
	"github.com/aschepis/backscratcher/aicall/llm/schema"
	aicalllogger "github.com/aschepis/backscratcher/aicall/logger"
	"github.com/aschepis/backscratcher/aicall/orchestrator"
	"github.com/aschepis/backscratcher/aicall/server"
)

const usage = `usage: aicall [global flags] <command> [flags]

commands:
  call        run one AI call and print the result as JSON
  parse       extract JSON from model output read on stdin
  encode-key  obfuscate an API key with AICALL_SECRET
  history     list recent calls from the call log
  schema      list purposes with a schema, or print one purpose's JSON Schema
  serve       run the MCP stdio server

global flags:
`

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every command needs.
type app struct {
	configPath string
	logger     zerolog.Logger
	stdin      io.Reader
	stdout     io.Writer
}

func run(args []string) error {
	global := flag.NewFlagSet("aicall", flag.ContinueOnError)
	var (
		logFile    = global.String("logfile", "", "Path to log file. If not set, logs to stderr")
		pretty     = global.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
		configPath = global.String("config", "", "Path to config file (default: $AICALL_CONFIG_PATH or ~/.aicall/config.yaml)")
	)
	global.Usage = func() {
		fmt.Fprint(global.Output(), usage)
		global.PrintDefaults()
	}
	if err := global.Parse(args); err != nil {
		return err
	}

	// Validate that --logfile and --pretty are mutually exclusive
	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	logger, err := aicalllogger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{
		configPath: *configPath,
		logger:     logger,
		stdin:      os.Stdin,
		stdout:     os.Stdout,
	}
	if a.configPath == "" {
		a.configPath = config.GetConfigPath()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "call":
		return a.call(ctx, cmdArgs)
	case "parse":
		return a.parse(cmdArgs)
	case "encode-key":
		return a.encodeKey(cmdArgs)
	case "history":
		return a.history(ctx, cmdArgs)
	case "schema":
		return a.schema(cmdArgs)
	case "serve":
		return a.serve(cmdArgs)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// newOrchestrator wires the file config source, the default schema registry
// and the log and call-log observers. The returned cleanup closes the call log.
func (a *app) newOrchestrator() (*orchestrator.Orchestrator, *schema.Registry, func(), error) {
	registry, err := schema.DefaultRegistry()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build schema registry: %w", err)
	}

	observers := []llm.Observer{orchestrator.NewLogObserver(a.logger)}
	cleanup := func() {}

	store, err := a.openCallLog()
	if err != nil {
		a.logger.Warn().Err(err).Msg("Call log unavailable, continuing without it")
	} else if store != nil {
		observers = append(observers, store)
		cleanup = func() { _ = store.Close() }
	}

	o := orchestrator.New(config.NewFileSource(a.configPath),
		orchestrator.WithValidator(registry),
		orchestrator.WithObservers(observers...),
		orchestrator.WithLogger(a.logger),
	)
	return o, registry, cleanup, nil
}

// openCallLog returns nil, nil when the call log is disabled.
func (a *app) openCallLog() (*calllog.Store, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	if cfg.CallLog.Disabled || cfg.CallLog.Path == "" {
		return nil, nil
	}
	return calllog.Open(cfg.CallLogPath(), a.logger)
}

func (a *app) call(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	var (
		purpose       = fs.String("purpose", "chat", "Purpose key")
		system        = fs.String("system", "", "System prompt")
		prompt        = fs.String("prompt", "", "User prompt (read from stdin when empty)")
		expectJSON    = fs.Bool("json", false, "Parse the response as JSON")
		temperature   = fs.Float64("temperature", 0.2, "Sampling temperature")
		maxTokens     = fs.Int("max-tokens", 800, "Maximum output tokens")
		model         = fs.String("model", "", "Override the primary model")
		fallbackModel = fs.String("fallback-model", "", "Override the fallback model; an explicit empty value disables it")
		noFallback    = fs.Bool("no-fallback", false, "Only run the primary attempt")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	userPrompt := *prompt
	if userPrompt == "" {
		data, err := io.ReadAll(a.stdin)
		if err != nil {
			return fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		userPrompt = string(data)
	}
	if strings.TrimSpace(userPrompt) == "" {
		return errors.New("prompt is empty")
	}

	req := llm.CallRequest{
		Purpose:      *purpose,
		SystemPrompt: *system,
		UserPrompt:   userPrompt,
		ExpectJSON:   *expectJSON,
		Temperature:  *temperature,
		MaxTokens:    *maxTokens,
	}
	if *model != "" {
		req.ModelOverride = model
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "fallback-model" {
			req.FallbackModelOverride = fallbackModel
		}
	})
	if *noFallback {
		allow := false
		req.AllowFallback = &allow
	}

	o, _, cleanup, err := a.newOrchestrator()
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := o.Call(ctx, req)
	if err != nil {
		return err
	}
	if err := a.printJSON(result); err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("call did not succeed: %s", result.FirstError())
	}
	return nil
}

func (a *app) parse(args []string) error {
	fs := flag.NewFlagSet("parse", flag.ContinueOnError)
	purpose := fs.String("purpose", "", "Validate against this purpose's schema")
	if err := fs.Parse(args); err != nil {
		return err
	}

	data, err := io.ReadAll(a.stdin)
	if err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}

	out := struct {
		lenient.Outcome
		SchemaValidation *llm.SchemaValidation `json:"schema_validation,omitempty"`
	}{Outcome: lenient.Parse(string(data))}

	if *purpose != "" && out.OK {
		registry, err := schema.DefaultRegistry()
		if err != nil {
			return fmt.Errorf("failed to build schema registry: %w", err)
		}
		sv := registry.Validate(*purpose, out.Value)
		out.SchemaValidation = &sv
	}
	return a.printJSON(out)
}

func (a *app) encodeKey(args []string) error {
	fs := flag.NewFlagSet("encode-key", flag.ContinueOnError)
	save := fs.Bool("save", false, "Store the encoded key in the config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var key string
	if fs.NArg() > 0 {
		key = fs.Arg(0)
	} else {
		data, err := io.ReadAll(a.stdin)
		if err != nil {
			return fmt.Errorf("failed to read key from stdin: %w", err)
		}
		key = strings.TrimSpace(string(data))
	}
	if key == "" {
		return errors.New("key is empty")
	}

	encoded, err := config.EncodeSecret(key, config.SecretFromEnv())
	if err != nil {
		return err
	}

	if *save {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg.APIKey = encoded
		if err := config.SaveConfig(cfg, a.configPath); err != nil {
			return err
		}
		a.logger.Info().Str("path", a.configPath).Msg("Saved encoded API key")
	}

	_, err = fmt.Fprintln(a.stdout, encoded)
	return err
}

func (a *app) history(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	var (
		limit  = fs.Int("limit", 20, "Number of calls to show")
		callID = fs.String("call", "", "Show the attempts of one call")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := a.openCallLog()
	if err != nil {
		return fmt.Errorf("failed to open call log: %w", err)
	}
	if store == nil {
		return errors.New("call log is disabled")
	}
	defer store.Close() //nolint:errcheck // No remedy for db close errors

	if *callID != "" {
		attempts, err := store.Attempts(ctx, *callID)
		if err != nil {
			return err
		}
		return a.printJSON(attempts)
	}

	calls, err := store.Recent(ctx, *limit)
	if err != nil {
		return err
	}
	return a.printJSON(calls)
}

func (a *app) schema(args []string) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	registry, err := schema.DefaultRegistry()
	if err != nil {
		return fmt.Errorf("failed to build schema registry: %w", err)
	}
	if fs.NArg() == 0 {
		return a.printJSON(registry.Purposes())
	}

	purpose := fs.Arg(0)
	doc := registry.JSONSchema(purpose)
	if doc == nil {
		return fmt.Errorf("no schema for purpose %q (known: %s)", purpose, strings.Join(registry.Purposes(), ", "))
	}
	return a.printJSON(doc)
}

func (a *app) serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	o, registry, cleanup, err := a.newOrchestrator()
	if err != nil {
		return err
	}
	defer cleanup()

	srv := server.New(server.Config{
		Version:   version,
		Logger:    a.logger,
		Validator: registry,
	}, o)
	return srv.ServeStdio()
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
