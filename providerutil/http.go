package providerutil

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ncecere/synthtext/provider"
)

const (
	// MaxResponseBytes caps how much of a non-streamed response body is read.
	MaxResponseBytes = 16 * 1024 * 1024
	// MaxFrameBytes caps the size of a single stream frame.
	MaxFrameBytes = 1024 * 1024
)

// ErrTooLong is returned when a response body or a stream frame exceeds
// its size limit. The same request would fail the same way again.
var ErrTooLong = errors.New("provider: payload too long")

// ReadResponse reads the whole response body into a RawResponse and
// closes the body. Status codes are not interpreted here.
func ReadResponse(resp *http.Response) (*provider.RawResponse, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("provider: read response body: %w", err)
	}
	if len(body) > MaxResponseBytes {
		return nil, fmt.Errorf("%w: response body exceeds %d bytes", ErrTooLong, MaxResponseBytes)
	}
	return &provider.RawResponse{StatusCode: resp.StatusCode, Body: body}, nil
}

// DefaultHTTPClient returns the default HTTP client used when none is provided.
func DefaultHTTPClient() *http.Client {
	return http.DefaultClient
}

// SplitFrames is a bufio.SplitFunc that splits a stream on blank lines.
// Both "\n\n" and "\r\n\r\n" delimit a frame. Data after the last
// delimiter is returned as a final frame at EOF.
func SplitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i, n := frameBoundary(data); i >= 0 {
		return i + n, bytes.TrimRight(data[:i], "\r"), nil
	}
	if atEOF {
		return len(data), bytes.TrimRight(data, "\r\n"), nil
	}
	// Request more data.
	return 0, nil, nil
}

// frameBoundary returns the index and length of the first blank-line
// delimiter in data, or -1.
func frameBoundary(data []byte) (int, int) {
	for i := 0; i < len(data); i++ {
		if data[i] != '\n' {
			continue
		}
		j := i + 1
		if j < len(data) && data[j] == '\r' {
			j++
		}
		if j < len(data) && data[j] == '\n' {
			return i, j + 1 - i
		}
	}
	return -1, 0
}

// FrameSource is a provider.ChunkSource over an HTTP response body that
// yields one chunk per blank-line delimited frame. Partial frames stay
// buffered until their delimiter (or EOF) arrives.
type FrameSource struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	closed  bool
}

// NewFrameSource wraps body. The body is closed by Close or when the
// source reaches EOF.
func NewFrameSource(body io.ReadCloser) *FrameSource {
	scanner := bufio.NewScanner(body)
	// Increase buffer for long frames
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, MaxFrameBytes)
	scanner.Split(SplitFrames)
	return &FrameSource{body: body, scanner: scanner}
}

// Next returns the next non-empty frame.
func (s *FrameSource) Next(ctx context.Context) (provider.RawChunk, error) {
	for {
		if s.closed {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			err := s.scanner.Err()
			_ = s.Close()
			if errors.Is(err, bufio.ErrTooLong) {
				return nil, fmt.Errorf("%w: %w", ErrTooLong, err)
			}
			if err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		frame := bytes.TrimSpace(s.scanner.Bytes())
		if len(frame) == 0 {
			continue
		}
		// The scanner reuses its buffer on the next Scan.
		return provider.RawChunk(bytes.Clone(frame)), nil
	}
}

// Close releases the underlying body. It is safe to call more than once.
func (s *FrameSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.body.Close()
	if errors.Is(err, http.ErrBodyReadAfterClose) {
		return nil
	}
	return err
}
