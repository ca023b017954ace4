package synthtext

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ncecere/synthtext/provider"
)

// FragmentSequence is the lazy, ordered sequence of fragments produced
// by a streamed completion. Each call to Next pulls at most one frame
// from the transport; nothing happens between calls.
//
// The sequence terminates on end of stream, on the fragment marked
// ReachedEnd, on the first error, or on Close. Once terminated the
// connection is released and Next returns io.EOF without touching the
// transport again.
//
// A FragmentSequence is not safe for concurrent use.
type FragmentSequence struct {
	source provider.ChunkSource
	logger zerolog.Logger
	next   int
	done   bool
}

func newFragmentSequence(source provider.ChunkSource, logger zerolog.Logger) *FragmentSequence {
	return &FragmentSequence{source: source, logger: logger}
}

// Count reports how many fragments Next has returned so far.
func (s *FragmentSequence) Count() int { return s.next }

// Next returns the next fragment, or io.EOF once the sequence has
// terminated. An *ExecutionError is returned at most once and is always
// terminal:
//   - KindTransport when the connection fails mid-stream;
//   - KindDecode when a frame is not a valid completion payload;
//   - KindAPI when the server reports an error inside a frame.
func (s *FragmentSequence) Next(ctx context.Context) (*CompletionFragment, error) {
	for {
		if s.done {
			return nil, io.EOF
		}

		chunk, err := s.source.Next(ctx)
		if err != nil {
			s.finish()
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			s.logger.Debug().Err(err).Int("fragments", s.next).Msg("stream failed")
			return nil, receiveError(StageStream, err)
		}
		if strings.TrimSpace(string(chunk)) == "" {
			continue
		}

		payload, err := decodeCompletion(chunk)
		if err != nil {
			s.finish()
			return nil, decodeError(StageStream, err)
		}
		if payload.Error != "" {
			// The connection is still healthy, but the server gave up on
			// this completion.
			s.finish()
			return nil, payloadError(StageStream, payload.Status, payload.Error)
		}

		frag := payload.fragment(s.next)
		s.next++
		if frag.ReachedEnd {
			s.finish()
		}
		return frag, nil
	}
}

// Close stops the sequence and releases the connection. It is safe to
// call more than once and after the sequence has terminated.
func (s *FragmentSequence) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.source.Close()
}

func (s *FragmentSequence) finish() {
	if s.done {
		return
	}
	if err := s.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("closing stream")
	}
	s.logger.Debug().Int("fragments", s.next).Msg("stream closed")
}

// All returns an iterator over the remaining fragments. A terminal error
// is yielded as the last element. Breaking out of the loop closes the
// sequence.
//
//	for frag, err := range seq.All(ctx) {
//		if err != nil {
//			return err
//		}
//		fmt.Print(frag.Text)
//	}
func (s *FragmentSequence) All(ctx context.Context) iter.Seq2[*CompletionFragment, error] {
	return func(yield func(*CompletionFragment, error) bool) {
		defer s.Close()
		for {
			frag, err := s.Next(ctx)
			if err == io.EOF {
				return
			}
			if !yield(frag, err) || err != nil {
				return
			}
		}
	}
}

// Collect drains the sequence into a CompletionResult. Metadata is taken
// from the last fragment that carried any.
func (s *FragmentSequence) Collect(ctx context.Context) (*CompletionResult, error) {
	var (
		text strings.Builder
		res  CompletionResult
	)
	for frag, err := range s.All(ctx) {
		if err != nil {
			return nil, err
		}
		text.WriteString(frag.Text)
		if frag.ReachedEnd {
			res.ReachedEnd = true
		}
		if md := frag.Metadata; md != nil {
			res.TruncatedPrompt = res.TruncatedPrompt || md.TruncatedPrompt
			res.TotalTokens = md.TotalTokens
			res.InputTokens = md.InputTokens
			res.OutputTokens = md.OutputTokens
		}
	}
	res.Text = text.String()
	return &res, nil
}
