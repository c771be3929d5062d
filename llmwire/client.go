package llmwire

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Client routes requests to registered provider adapters. It owns the two
// concerns that sit above individual backends: the context-window preflight
// and the bounded retry applied when opening a stream.
type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
	retryPolicy     RetryPolicy
	mu              sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers a provider adapter.
func WithProvider(adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers[adapter.Name()] = adapter
	}
}

// WithDefaultProvider sets the default provider name.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retryPolicy = policy
	}
}

// NewClient creates a Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers:   make(map[string]ProviderAdapter),
		retryPolicy: DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	// With exactly one provider, no explicit default is needed.
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds a provider adapter to the client.
func (c *Client) RegisterProvider(adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[adapter.Name()] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = adapter.Name()
	}
}

// resolveProvider determines which adapter serves a request: an explicit
// Provider wins, then the default, then the model catalog.
func (c *Client) resolveProvider(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		if info := GetModelInfo(req.Model); info != nil {
			name = info.Provider
		}
	}
	if name == "" {
		return nil, &ConfigurationError{Message: "no provider specified and no default provider configured"}
	}

	adapter, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{Message: fmt.Sprintf("provider %q is not registered", name)}
	}
	return adapter, nil
}

// preflight rejects requests that clearly exceed the model's context window
// before any bytes go over the wire. The estimate is loose on purpose; the
// backend still enforces the real limit.
func (c *Client) preflight(req Request, provider string) error {
	info := GetModelInfo(req.Model)
	if info == nil {
		return nil
	}
	estimated := EstimateTokens(req)
	if estimated > info.ContextWindow {
		return &ContextTooLargeError{ProviderError{
			Provider: provider,
			Message: fmt.Sprintf("estimated %d tokens exceeds the %d token context window of %s",
				estimated, info.ContextWindow, info.ID),
		}}
	}
	return nil
}

// Stream opens a streaming request against the resolved provider. Opening the
// stream is retried under the client's policy for retryable errors; once a
// channel is returned, mid-stream failures surface as a StreamError event and
// are never resumed.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}
	if err := c.preflight(req, adapter.Name()); err != nil {
		return nil, err
	}

	log.Debug().
		Str("provider", adapter.Name()).
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Msg("opening provider stream")

	return Retry(ctx, c.retryPolicy, func(ctx context.Context) (<-chan StreamEvent, error) {
		return adapter.Stream(ctx, req)
	})
}

// Close releases resources held by all registered providers.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, adapter := range c.providers {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
