package config

import (
	"context"

	"github.com/aschepis/backscratcher/aicall/llm"
)

// FileSource loads the account configuration from a YAML file on every call,
// so edits take effect without a restart.
type FileSource struct {
	Path string
	// Secret decodes an obfuscated api_key. Empty means SecretFromEnv.
	Secret string
}

// NewFileSource returns a FileSource for path, or GetConfigPath when path is empty.
func NewFileSource(path string) *FileSource {
	if path == "" {
		path = GetConfigPath()
	}
	return &FileSource{Path: path}
}

// Load implements orchestrator.ConfigSource.
func (s *FileSource) Load(ctx context.Context) (llm.AccountConfig, error) {
	if err := ctx.Err(); err != nil {
		return llm.AccountConfig{}, err
	}
	cfg, err := Load(s.Path)
	if err != nil {
		return llm.AccountConfig{}, err
	}
	secret := s.Secret
	if secret == "" {
		secret = SecretFromEnv()
	}
	return cfg.Account(secret)
}
