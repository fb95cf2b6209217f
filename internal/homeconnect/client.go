// Package homeconnect talks to the Home Connect cloud API for one appliance:
// the server-sent event stream, the status reads used for reconciliation and
// the power state command.
package homeconnect

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"
)

// Defaults for the production API.
const (
	DefaultBaseURL        = "https://api.home-connect.com"
	DefaultTimeout        = 15 * time.Second
	DefaultRESTLanguage   = "en-GB"
	DefaultStreamLanguage = "en-US"
)

const (
	mediaType       = "application/vnd.bsh.sdk.v1+json"
	eventStreamType = "text/event-stream"
	maxErrorBody    = 512
)

// TokenSource yields the bearer token for the next call.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client is bound to one appliance.
type Client struct {
	baseURL        string
	haID           string
	tokens         TokenSource
	rest           *http.Client
	stream         *http.Client
	restLanguage   string
	streamLanguage string
	log            logr.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every REST call. The event stream is never bounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.rest.Timeout = d }
}

// WithTransport sets the round tripper for both REST and stream calls.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.rest.Transport = rt
		c.stream.Transport = rt
	}
}

// WithLanguages sets Accept-Language for REST and stream calls.
func WithLanguages(rest, stream string) Option {
	return func(c *Client) {
		if rest != "" {
			c.restLanguage = rest
		}
		if stream != "" {
			c.streamLanguage = stream
		}
	}
}

// New creates a client for appliance haID.
func New(baseURL, haID string, tokens TokenSource, log logr.Logger, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:        baseURL,
		haID:           haID,
		tokens:         tokens,
		rest:           &http.Client{Timeout: DefaultTimeout},
		stream:         &http.Client{},
		restLanguage:   DefaultRESTLanguage,
		streamLanguage: DefaultStreamLanguage,
		log:            log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HaID returns the appliance identifier.
func (c *Client) HaID() string {
	return c.haID
}

func (c *Client) appliancePath(suffix string) string {
	return "/api/homeappliances/" + c.haID + suffix
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	tok, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("access token: %w", err)
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", mediaType)
	req.Header.Set("Accept-Language", c.restLanguage)
	if body != nil {
		req.Header.Set("Content-Type", mediaType)
	}
	return req, nil
}

// do performs a REST call and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.rest.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	c.log.V(1).Info("api response", "method", method, "path", path, "code", resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
