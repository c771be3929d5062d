// Package llmwire presents a provider-agnostic conversation and streaming
// model over multiple LLM backends. Each backend is a ProviderAdapter variant
// that encodes the abstract Message/ToolCall/ToolResult model into its wire
// schema and normalizes its streaming output into a single event vocabulary,
// so callers never branch on backend identity.
//
// The package also owns the provider error taxonomy and the bounded retry
// policy applied when opening a stream: rate limits and transient network
// failures are retried with exponential backoff, authentication and
// context-size failures surface immediately.
package llmwire
