package provider

// Endpoint names a per-engine API operation.
type Endpoint string

const (
	// EndpointCompletions generates text from a prompt.
	EndpointCompletions Endpoint = "completions"
	// EndpointLogProb scores a continuation against a context.
	EndpointLogProb Endpoint = "logprob"
)

// Request is a transport-level request. Body is the already encoded JSON
// payload; the transport sends it verbatim.
type Request struct {
	// Engine is the engine identifier the request is addressed to.
	Engine string
	// Endpoint is the operation to invoke on the engine.
	Endpoint Endpoint
	// Body is the JSON request payload.
	Body []byte
}

// RawResponse is a complete, undecoded response.
type RawResponse struct {
	StatusCode int
	Body       []byte
}

// RawStream is an undecoded streamed response. When StatusCode is not
// in the 2xx range, Chunks yields the error body instead of frames.
type RawStream struct {
	StatusCode int
	Chunks     ChunkSource
}

// RawChunk is a single frame of a streamed response body with the frame
// delimiter removed.
type RawChunk []byte
