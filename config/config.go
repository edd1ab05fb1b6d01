package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/aschepis/backscratcher/aicall/llm"
	"gopkg.in/yaml.v3"
)

// PurposeModelConfig is a stored per-purpose model policy override.
// Nil fields keep the purpose default.
type PurposeModelConfig struct {
	PrimaryModel         string  `yaml:"primary_model,omitempty"`
	FallbackModel        *string `yaml:"fallback_model,omitempty"`
	UseStreamingFallback *bool   `yaml:"use_streaming_fallback,omitempty"`
	RetryOnceOnEmpty     *bool   `yaml:"retry_once_on_empty,omitempty"`
	UseStructuredJSON    *bool   `yaml:"use_structured_json,omitempty"`
}

// OpenAIConfig represents configuration for the OpenAI provider.
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url,omitempty"` // Custom base URL (default: official API)
	Model   string `yaml:"model,omitempty"`    // Default model name
}

// GeminiConfig represents configuration for the Gemini provider.
type GeminiConfig struct {
	BaseURL string `yaml:"base_url,omitempty"` // Custom base URL (default: generativelanguage.googleapis.com)
	Model   string `yaml:"model,omitempty"`    // Default model name
}

// CallLogConfig configures the sqlite call-log sink.
type CallLogConfig struct {
	Path     string `yaml:"path,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// Config is the aicall configuration file.
type Config struct {
	Provider       string `yaml:"provider,omitempty"` // "openai" or "gemini"
	APIKey         string `yaml:"api_key,omitempty"`  // Plaintext or enc:v1: obfuscated
	TextModel      string `yaml:"text_model,omitempty"`
	ImageModel     string `yaml:"image_model,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`

	OpenAI OpenAIConfig `yaml:"openai,omitempty"`
	Gemini GeminiConfig `yaml:"gemini,omitempty"`

	PurposeModels map[string]PurposeModelConfig `yaml:"purpose_models,omitempty"`
	CallLog       CallLogConfig                 `yaml:"call_log,omitempty"`
}

// GetConfigPath returns the default config file path.
// Can be overridden via AICALL_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("AICALL_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.aicall/config.yaml"
	}
	return filepath.Join(homeDir, ".aicall", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Defaults returns the configuration used when no file is present.
func Defaults() Config {
	return Config{
		TimeoutSeconds: int(llm.DefaultTimeout.Seconds()),
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   llm.DefaultOpenAIModel,
		},
		Gemini: GeminiConfig{
			BaseURL: "https://generativelanguage.googleapis.com",
			Model:   llm.DefaultGeminiModel,
		},
		PurposeModels: make(map[string]PurposeModelConfig),
		CallLog: CallLogConfig{
			Path: "~/.aicall/calls.db",
		},
	}
}

// Load reads the config file at path, merges it onto Defaults and applies
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	expandedPath := expandPath(path)

	f, err := os.Open(expandedPath) //#nosec 304 -- intentional file read for config
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Defaults()
			applyEnvOverrides(&cfg)
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to open config file %q: %w", expandedPath, err)
	}
	defer f.Close()

	unlock, err := lockShared(f)
	if err != nil {
		return nil, fmt.Errorf("failed to lock config file %q: %w", expandedPath, err)
	}
	data, err := io.ReadAll(f)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML config data, merges it onto Defaults and applies
// environment overrides.
func Parse(data []byte) (*Config, error) {
	defaults := Defaults()

	var fileConfig Config
	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := mergo.Merge(&defaults, fileConfig, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}
	if defaults.PurposeModels == nil {
		defaults.PurposeModels = make(map[string]PurposeModelConfig)
	}

	applyEnvOverrides(&defaults)
	return &defaults, nil
}

// SaveConfig saves the configuration to the specified path.
func SaveConfig(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	// Ensure directory exists
	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	f, err := os.OpenFile(expandedPath, os.O_RDWR|os.O_CREATE, 0o600) //#nosec 304 -- intentional file write for config
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	unlock, err := lockExclusive(f)
	if err != nil {
		return fmt.Errorf("failed to lock config file: %w", err)
	}
	defer unlock()

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate config file: %w", err)
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Account resolves the orchestrator-facing account configuration. The API key
// is decoded with secret; an empty text model falls back to the provider's
// configured or built-in default.
func (c *Config) Account(secret string) (llm.AccountConfig, error) {
	apiKey, err := DecodeSecret(c.APIKey, secret)
	if err != nil {
		return llm.AccountConfig{}, fmt.Errorf("failed to decode api key: %w", err)
	}

	provider := strings.ToLower(strings.TrimSpace(c.Provider))
	textModel := strings.TrimSpace(c.TextModel)
	if textModel == "" {
		switch provider {
		case llm.ProviderOpenAI:
			textModel = c.OpenAI.Model
		case llm.ProviderGemini:
			textModel = c.Gemini.Model
		}
	}
	if textModel == "" {
		textModel = llm.DefaultModel(provider)
	}

	purposes := make(map[string]llm.PolicyOverride, len(c.PurposeModels))
	for name, p := range c.PurposeModels {
		purposes[name] = llm.PolicyOverride{
			PrimaryModel:         p.PrimaryModel,
			FallbackModel:        p.FallbackModel,
			UseStreamingFallback: p.UseStreamingFallback,
			RetryOnceOnEmpty:     p.RetryOnceOnEmpty,
			UseStructuredJSON:    p.UseStructuredJSON,
		}
	}

	return llm.AccountConfig{
		Provider:       provider,
		APIKey:         apiKey,
		TextModel:      textModel,
		ImageModel:     c.ImageModel,
		PurposeModels:  purposes,
		OpenAIBaseURL:  c.OpenAI.BaseURL,
		GeminiBaseURL:  c.Gemini.BaseURL,
		TimeoutSeconds: c.TimeoutSeconds,
	}, nil
}

// CallLogPath returns the expanded call-log database path.
func (c *Config) CallLogPath() string {
	return expandPath(c.CallLog.Path)
}
