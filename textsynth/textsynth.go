// Package textsynth implements provider.Transport over the TextSynth
// HTTP API.
package textsynth

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ncecere/synthtext/provider"
	"github.com/ncecere/synthtext/providerutil"
)

// DefaultBaseURL is the public TextSynth API endpoint.
const DefaultBaseURL = "https://api.textsynth.com"

// Client is a TextSynth transport.
//
// It can be configured explicitly via ClientOptions or implicitly via
// environment variables. See NewClient for configuration details.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient provider.HTTPClient
	headers    http.Header
}

// Ensure Client implements provider.Transport.
var _ provider.Transport = (*Client)(nil)

// NewClient creates a new TextSynth client.
//
// Environment variables:
//   - TEXTSYNTH_API_KEY (required if opts.APIKey is empty)
//   - TEXTSYNTH_BASE_URL (optional, defaults to https://api.textsynth.com)
func NewClient(opts provider.ClientOptions) (*Client, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("TEXTSYNTH_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("textsynth: missing API key; set ClientOptions.APIKey or TEXTSYNTH_API_KEY")
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("TEXTSYNTH_BASE_URL")
		if baseURL == "" {
			baseURL = DefaultBaseURL
		}
	}
	baseURL = strings.TrimRight(baseURL, "/")

	hc := opts.HTTPClient
	if hc == nil {
		hc = providerutil.DefaultHTTPClient()
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: hc,
		headers:    opts.Headers,
	}, nil
}

func (c *Client) endpointURL(engine string, endpoint provider.Endpoint) string {
	prefix := c.baseURL
	if !strings.HasSuffix(prefix, "/v1") {
		prefix += "/v1"
	}
	return prefix + "/engines/" + url.PathEscape(engine) + "/" + string(endpoint)
}

func (c *Client) newRequest(ctx context.Context, req *provider.Request) (*http.Request, error) {
	if req.Engine == "" {
		return nil, fmt.Errorf("textsynth: request has no engine")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(req.Engine, req.Endpoint), bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	// Attach any custom headers first, then enforce required headers.
	for k, vs := range c.headers {
		for _, v := range vs {
			if v == "" {
				continue
			}
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// Send posts the request and reads the full response body.
func (c *Client) Send(ctx context.Context, req *provider.Request) (*provider.RawResponse, error) {
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	return providerutil.ReadResponse(resp)
}

// OpenStream posts the request and returns once headers arrive. The
// returned chunk source frames the body on blank lines.
func (c *Client) OpenStream(ctx context.Context, req *provider.Request) (*provider.RawStream, error) {
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}

	return &provider.RawStream{
		StatusCode: resp.StatusCode,
		Chunks:     providerutil.NewFrameSource(resp.Body),
	}, nil
}

// WithHTTPTimeout is a helper to build an HTTP client with a timeout.
// The timeout covers the whole exchange, including reading a stream.
func WithHTTPTimeout(d time.Duration) provider.HTTPClient {
	return &http.Client{Timeout: d}
}
