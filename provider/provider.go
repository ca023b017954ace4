package provider

import (
	"context"
	"net/http"
)

// HTTPClient is the minimal interface required from an HTTP client.
// It matches the Do method on *http.Client and allows callers to
// substitute custom clients or middleware.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientOptions are shared options for transport clients.
type ClientOptions struct {
	// BaseURL is the root URL of the API.
	BaseURL string
	// APIKey is the API key or bearer token used for authentication.
	APIKey string
	// HTTPClient is the underlying HTTP client. If nil, a default
	// client should be used by the transport.
	HTTPClient HTTPClient
	// Headers contains additional HTTP headers that transports should
	// attach to every outbound request. Required headers set by the
	// transport itself take precedence.
	Headers http.Header
}

// Transport is the network capability consumed by the synthtext core.
//
// Implementations only move bytes: they never inspect status codes or
// payloads beyond what is needed to deliver them. Any error returned by
// Send, OpenStream or ChunkSource.Next is treated as a connectivity
// failure by callers.
type Transport interface {
	// Send issues req and waits for the complete response.
	Send(ctx context.Context, req *Request) (*RawResponse, error)
	// OpenStream issues req for incremental delivery and returns as soon
	// as the response headers are available.
	OpenStream(ctx context.Context, req *Request) (*RawStream, error)
}

// ChunkSource yields raw frames of a streamed response in arrival order.
// Next blocks until a frame is available and returns io.EOF once the
// response body is exhausted.
type ChunkSource interface {
	Next(ctx context.Context) (RawChunk, error)
	Close() error
}
