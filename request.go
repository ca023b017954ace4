package synthtext

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ncecere/synthtext/provider"
)

// CompletionRequest accumulates a prompt and optional sampling
// parameters. It is executed exactly once, by Now or Stream; afterwards
// it is consumed and every further call fails with ErrRequestConsumed.
type CompletionRequest struct {
	engine *Engine
	prompt string

	maxTokens   *MaxTokens
	temperature *float64
	topK        *TopK
	topP        *TopP

	consumed atomic.Bool
}

// Prompt returns the prompt text.
func (r *CompletionRequest) Prompt() string { return r.prompt }

// Engine returns the engine the request was created from.
func (r *CompletionRequest) Engine() *Engine { return r.engine }

// SetMaxTokens sets the generation length. m is re-checked against the
// request's engine, so a value validated for a larger engine is rejected.
func (r *CompletionRequest) SetMaxTokens(m MaxTokens) error {
	if r.consumed.Load() {
		return ErrRequestConsumed
	}
	if err := checkMaxTokens(m.Int(), r.engine.definition); err != nil {
		return err
	}
	r.maxTokens = &m
	return nil
}

// SetTemperature sets the sampling temperature. It must be finite.
func (r *CompletionRequest) SetTemperature(t float64) error {
	if r.consumed.Load() {
		return ErrRequestConsumed
	}
	if err := checkTemperature(t); err != nil {
		return err
	}
	r.temperature = &t
	return nil
}

// SetTopK sets top-k sampling.
func (r *CompletionRequest) SetTopK(k TopK) error {
	if r.consumed.Load() {
		return ErrRequestConsumed
	}
	r.topK = &k
	return nil
}

// SetTopP sets nucleus sampling.
func (r *CompletionRequest) SetTopP(p TopP) error {
	if r.consumed.Load() {
		return ErrRequestConsumed
	}
	r.topP = &p
	return nil
}

func (r *CompletionRequest) body(stop *Stop, stream bool) completionBody {
	b := completionBody{
		Prompt:      r.prompt,
		Temperature: r.temperature,
		Stream:      stream,
	}
	if r.maxTokens != nil {
		n := r.maxTokens.Int()
		b.MaxTokens = &n
	}
	if r.topK != nil {
		k := r.topK.Int()
		b.TopK = &k
	}
	if r.topP != nil {
		p := r.topP.Float64()
		b.TopP = &p
	}
	if stop != nil && stop.Len() > 0 {
		b.Stop = stop.Sequences()
	}
	return b
}

func (r *CompletionRequest) consume() error {
	if r.engine == nil {
		return ErrMissingEngine
	}
	if !r.consumed.CompareAndSwap(false, true) {
		return ErrRequestConsumed
	}
	return nil
}

// Now issues exactly one blocking request and waits for the whole
// completion. Generation halts before the first occurrence of any
// member of stop, which may be nil.
//
// A prompt longer than the engine's context length is truncated by the
// server; the result's TruncatedPrompt flag reports it and no error is
// returned.
//
// Errors:
//   - ErrRequestConsumed if the request was already executed.
//   - *ExecutionError of KindTransport, KindAPI or KindDecode.
func (r *CompletionRequest) Now(ctx context.Context, stop *Stop) (*CompletionResult, error) {
	if err := r.consume(); err != nil {
		return nil, err
	}

	data, err := r.engine.send(ctx, provider.EndpointCompletions, r.body(stop, false))
	if err != nil {
		return nil, err
	}

	payload, err := decodeCompletion(data)
	if err != nil {
		return nil, decodeError(StageParse, err)
	}
	if payload.Error != "" {
		return nil, payloadError(StageParse, payload.Status, payload.Error)
	}

	res := payload.result()
	if res.TruncatedPrompt {
		r.engine.logger.Warn().Int("max_tokens", r.engine.definition.MaxTokens()).Msg("prompt was truncated to fit the engine context length")
	}
	return res, nil
}

// Stream issues one request configured for incremental delivery and
// returns the fragment sequence as soon as the server accepts it. Stop
// sequences have the same meaning as for Now and are applied by the
// server as text is generated.
//
// Errors:
//   - ErrRequestConsumed if the request was already executed.
//   - *ExecutionError of KindTransport if the stream cannot be opened.
//   - *ExecutionError of KindAPI if the server rejects the request.
func (r *CompletionRequest) Stream(ctx context.Context, stop *Stop) (*FragmentSequence, error) {
	if err := r.consume(); err != nil {
		return nil, err
	}

	buf, err := jsonMarshal(r.body(stop, true))
	if err != nil {
		return nil, err
	}

	logger := r.engine.logger
	logger.Debug().Int("bytes", len(buf)).Msg("opening completion stream")
	raw, err := r.engine.transport.OpenStream(ctx, &provider.Request{
		Engine:   r.engine.definition.ID(),
		Endpoint: provider.EndpointCompletions,
		Body:     buf,
	})
	if err != nil {
		return nil, transportError(StageConnect, err)
	}
	if raw == nil || raw.Chunks == nil {
		return nil, transportError(StageConnect, fmt.Errorf("transport returned no stream"))
	}

	if !isSuccess(raw.StatusCode) {
		defer raw.Chunks.Close()
		// The error body is delivered as the stream's content.
		chunk, err := raw.Chunks.Next(ctx)
		if err != nil {
			chunk = nil
		}
		return nil, apiError(raw.StatusCode, chunk)
	}

	return newFragmentSequence(raw.Chunks, logger), nil
}
