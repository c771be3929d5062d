package llmwire

import "context"

// ProviderAdapter translates the abstract conversation model to and from one
// backend's wire schema. Stream opens a request and returns a channel of
// normalized events; the channel is closed after TurnEnd or StreamError.
//
// Adapters must encode every ContentBlock faithfully. Flattening tool calls or
// results into prose is not an acceptable encoding.
type ProviderAdapter interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Closer is implemented by adapters that hold releasable resources.
type Closer interface {
	Close() error
}
