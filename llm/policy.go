package llm

import (
	"strings"

	"github.com/samber/lo"
)

// PurposeOfflineTenderExtraction is the only purpose that may run in
// structured-output mode.
const PurposeOfflineTenderExtraction = "tender_offline_extraction"

// Default models used when neither the account nor the purpose names one.
const (
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultGeminiModel = "gemini-2.0-flash"
)

// DefaultPolicy applies to purposes without an entry in DefaultPolicies.
var DefaultPolicy = ModelPolicy{
	RetryOnceOnEmpty: true,
}

// DefaultPolicies holds per-purpose defaults before stored overrides.
var DefaultPolicies = map[string]ModelPolicy{
	PurposeOfflineTenderExtraction: {
		UseStreamingFallback: true,
		RetryOnceOnEmpty:     true,
		UseStructuredJSON:    true,
	},
}

// DefaultModel returns the provider's built-in text model.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return DefaultOpenAIModel
	case ProviderGemini:
		return DefaultGeminiModel
	default:
		return ""
	}
}

// ResolvePolicy merges purpose defaults with the account's stored override.
// An empty primary model falls back to the account text model.
func ResolvePolicy(account AccountConfig, purpose string) ModelPolicy {
	policy, ok := DefaultPolicies[purpose]
	if !ok {
		policy = DefaultPolicy
	}

	if override, ok := account.PurposeModels[purpose]; ok {
		if m := strings.TrimSpace(override.PrimaryModel); m != "" {
			policy.PrimaryModel = m
		}
		if override.FallbackModel != nil {
			policy.FallbackModel = strings.TrimSpace(*override.FallbackModel)
		}
		policy.UseStreamingFallback = lo.FromPtrOr(override.UseStreamingFallback, policy.UseStreamingFallback)
		policy.RetryOnceOnEmpty = lo.FromPtrOr(override.RetryOnceOnEmpty, policy.RetryOnceOnEmpty)
		policy.UseStructuredJSON = lo.FromPtrOr(override.UseStructuredJSON, policy.UseStructuredJSON)
	}

	if policy.PrimaryModel == "" {
		policy.PrimaryModel = strings.TrimSpace(account.TextModel)
	}
	return policy
}

// ApplyOverrides applies request-level model overrides. A non-nil but empty
// fallback override clears the fallback model.
func ApplyOverrides(policy ModelPolicy, req CallRequest) ModelPolicy {
	if req.ModelOverride != nil {
		if m := strings.TrimSpace(*req.ModelOverride); m != "" {
			policy.PrimaryModel = m
		}
	}
	if req.FallbackModelOverride != nil {
		policy.FallbackModel = strings.TrimSpace(*req.FallbackModelOverride)
	}
	return policy
}

// StructuredMode reports whether a call runs with provider-side structured output.
func StructuredMode(provider, purpose string, policy ModelPolicy) bool {
	return provider == ProviderGemini &&
		purpose == PurposeOfflineTenderExtraction &&
		policy.UseStructuredJSON
}
