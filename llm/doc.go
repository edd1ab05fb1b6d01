// Package llm provides the provider-neutral types shared by the aicall engine.
//
// This package defines the canonical records that flow through an orchestration
// run, the error taxonomy, purpose policy resolution and the small HTTP transport
// used by the provider adapters. It does not import any provider package.
//
// # Core Concepts
//
//  1. CallRequest: one orchestration request (purpose, prompts, JSON expectation,
//     temperature, max tokens and optional model overrides).
//
//  2. Attempt: one provider HTTP round trip and its normalized outcome. Attempts
//     are appended in execution order and never modified.
//
//  3. CallResult: the aggregate returned to the caller, composed from the final
//     attempt plus the lenient JSON parse and schema validation outcome.
//
//  4. ModelPolicy: the per-purpose model behaviour resolved from DefaultPolicies,
//     stored PolicyOverride values and request-level overrides.
//
//  5. Adapter: executes a single AttemptSpec against one provider.
//
//  6. Observer: write-only sink for per-attempt and per-call events.
//
//  7. Errors: the Error type classifies config, transport, HTTP, payload,
//     block, empty-content, parse and schema failures.
//
// Usage Example
//
//	policy := llm.ResolvePolicy(account, req.Purpose)
//	policy = llm.ApplyOverrides(policy, req)
//
//	attempt := adapter.Execute(ctx, llm.AttemptSpec{
//	    Type:  llm.AttemptPrimary,
//	    Model: policy.PrimaryModel,
//	})
//
// # Extension Points
//
// To add a new provider:
//  1. Implement the Adapter interface
//  2. Use PostJSON and a HeaderCollector for the HTTP exchange
//  3. Isolate response shape decoding in a single normalize function
//  4. Classify failures with ClassifyHTTPStatus and the Error constructors
package llm
