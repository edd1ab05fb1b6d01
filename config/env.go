package config

import (
	"os"
	"strings"

	"github.com/aschepis/backscratcher/aicall/llm"
)

// applyEnvOverrides applies environment variable overrides on top of the file.
// AICALL_API_KEY wins over the provider-specific OPENAI_API_KEY / GEMINI_API_KEY.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AICALL_PROVIDER"); v != "" {
		cfg.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("AICALL_TEXT_MODEL"); v != "" {
		cfg.TextModel = v
	}

	switch {
	case os.Getenv("AICALL_API_KEY") != "":
		cfg.APIKey = os.Getenv("AICALL_API_KEY")
	case cfg.Provider == llm.ProviderOpenAI && getOpenAIAPIKeyFromEnv() != "":
		cfg.APIKey = getOpenAIAPIKeyFromEnv()
	case cfg.Provider == llm.ProviderGemini && getGeminiAPIKeyFromEnv() != "":
		cfg.APIKey = getGeminiAPIKeyFromEnv()
	}

	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := os.Getenv("GEMINI_BASE_URL"); v != "" {
		cfg.Gemini.BaseURL = v
	}
}

// getOpenAIAPIKeyFromEnv gets the OpenAI API key from environment variable.
func getOpenAIAPIKeyFromEnv() string {
	return os.Getenv("OPENAI_API_KEY")
}

// getGeminiAPIKeyFromEnv gets the Gemini API key from environment variable.
func getGeminiAPIKeyFromEnv() string {
	return os.Getenv("GEMINI_API_KEY")
}
