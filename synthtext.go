// Package synthtext is a client-side pipeline for the TextSynth text
// generation API. It validates sampling parameters against an engine's
// capacity, executes blocking or streamed completions through a
// provider.Transport, and reports every failure as either a
// *ValidationError or an *ExecutionError.
package synthtext

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ncecere/synthtext/provider"
)

// Engine binds an engine definition to the transport used to reach it.
// An Engine holds no per-request state and may be shared between
// goroutines; every execution owns its own transport exchange.
type Engine struct {
	definition EngineDefinition
	transport  provider.Transport
	logger     zerolog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger used for request lifecycle events.
func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an Engine. A zero definition selects
// DefaultEngineDefinition.
func NewEngine(transport provider.Transport, def EngineDefinition, opts ...EngineOption) (*Engine, error) {
	if transport == nil {
		return nil, ErrMissingTransport
	}
	if def.IsZero() {
		def = DefaultEngineDefinition()
	}
	e := &Engine{
		definition: def,
		transport:  transport,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("engine", def.ID()).Logger()
	return e, nil
}

// Definition returns the engine definition.
func (e *Engine) Definition() EngineDefinition {
	return e.definition
}

// TextCompletion starts a completion request for prompt with all
// sampling parameters unset, so server defaults apply.
func (e *Engine) TextCompletion(prompt string) *CompletionRequest {
	return &CompletionRequest{engine: e, prompt: prompt}
}

// LogProbabilities returns the log probability that continuation is
// generated after prefix. An empty prefix means the End-Of-Text token.
func (e *Engine) LogProbabilities(ctx context.Context, prefix string, continuation NonEmptyString) (*LogProbabilities, error) {
	if continuation.String() == "" {
		return nil, &ValidationError{Parameter: "continuation", Value: `""`, Message: "must not be empty"}
	}

	data, err := e.send(ctx, provider.EndpointLogProb, logProbBody{
		Context:      prefix,
		Continuation: continuation.String(),
	})
	if err != nil {
		return nil, err
	}

	var out logProbPayload
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, decodeError(StageParse, err)
	}
	if out.Error != "" {
		return nil, payloadError(StageParse, out.Status, out.Error)
	}
	if out.LogProb == nil {
		return nil, decodeError(StageParse, fmt.Errorf("payload has no logprob field"))
	}

	return &LogProbabilities{
		LogProbability: *out.LogProb,
		IsGreedy:       out.IsGreedy,
		TotalTokens:    out.TotalTokens,
	}, nil
}

// send issues one blocking request and returns the body of a 2xx
// response.
func (e *Engine) send(ctx context.Context, endpoint provider.Endpoint, body any) ([]byte, error) {
	buf, err := jsonMarshal(body)
	if err != nil {
		return nil, err
	}

	e.logger.Debug().Str("endpoint", string(endpoint)).Int("bytes", len(buf)).Msg("sending request")
	resp, err := e.transport.Send(ctx, &provider.Request{
		Engine:   e.definition.ID(),
		Endpoint: endpoint,
		Body:     buf,
	})
	if err != nil {
		return nil, receiveError(StageConnect, err)
	}
	if resp == nil {
		return nil, transportError(StageConnect, fmt.Errorf("transport returned no response"))
	}
	if !isSuccess(resp.StatusCode) {
		return nil, apiError(resp.StatusCode, resp.Body)
	}
	return resp.Body, nil
}

// Params are the optional raw sampling parameters accepted by
// BuildRequest. Nil fields leave the server default in place.
type Params struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens *int
	// Temperature is the sampling temperature.
	Temperature *float64
	// TopK restricts sampling to the k most likely tokens.
	TopK *int
	// TopP restricts sampling to the smallest set of tokens whose
	// cumulative probability exceeds p.
	TopP *float64
}

// BuildRequest validates params against engine and returns a request
// ready for ExecuteNow or ExecuteStream. Invalid input never reaches the
// transport.
func BuildRequest(engine *Engine, prompt string, params Params) (*CompletionRequest, error) {
	if engine == nil {
		return nil, ErrMissingEngine
	}

	req := engine.TextCompletion(prompt)
	if params.MaxTokens != nil {
		m, err := NewMaxTokens(*params.MaxTokens, engine.definition)
		if err != nil {
			return nil, err
		}
		req.maxTokens = &m
	}
	if params.Temperature != nil {
		t := *params.Temperature
		if err := checkTemperature(t); err != nil {
			return nil, err
		}
		req.temperature = &t
	}
	if params.TopK != nil {
		k, err := NewTopK(*params.TopK)
		if err != nil {
			return nil, err
		}
		req.topK = &k
	}
	if params.TopP != nil {
		p, err := NewTopP(*params.TopP)
		if err != nil {
			return nil, err
		}
		req.topP = &p
	}
	return req, nil
}

// ExecuteNow runs req as a single blocking completion. See
// CompletionRequest.Now.
func ExecuteNow(ctx context.Context, req *CompletionRequest, stop *Stop) (*CompletionResult, error) {
	if req == nil {
		return nil, &ValidationError{Parameter: "request", Value: nil, Message: "must not be nil"}
	}
	return req.Now(ctx, stop)
}

// ExecuteStream runs req as a streamed completion. See
// CompletionRequest.Stream.
func ExecuteStream(ctx context.Context, req *CompletionRequest, stop *Stop) (*FragmentSequence, error) {
	if req == nil {
		return nil, &ValidationError{Parameter: "request", Value: nil, Message: "must not be nil"}
	}
	return req.Stream(ctx, stop)
}
