// Package jina provides a client for the Jina AI reader proxy.
package jina

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultBaseURL is the Jina Reader endpoint.
const DefaultBaseURL = "https://r.jina.ai"

const maxBodyBytes = 16 << 20

// ErrBodyTooLarge is returned when the response body exceeds the size cap.
var ErrBodyTooLarge = eris.New("jina: response body too large")

// Client defines the Jina AI Reader operations.
type Client interface {
	// Read fetches a URL via Jina AI Reader and returns the raw response.
	Read(ctx context.Context, req ReadRequest) (*ReadResponse, error)
}

// ReadRequest describes the page to read. Params are appended to the target
// URL's query before it is handed to the reader.
type ReadRequest struct {
	URL     string
	Header  http.Header
	Cookies []*http.Cookie
	Params  url.Values
	// Format is the X-Return-Format value. Default: "html".
	Format string
}

// ReadResponse is the reader's response.
type ReadResponse struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Option configures the Jina client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithMaxBodyBytes caps the response body. Larger bodies fail with
// ErrBodyTooLarge.
func WithMaxBodyBytes(n int64) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	maxBody int64
}

// NewClient creates a new Jina AI Reader client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		maxBody: maxBodyBytes,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// targetURL merges params into the target's own query string.
func targetURL(raw string, params url.Values) (string, error) {
	if len(params) == 0 {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", eris.Wrap(err, "jina: parse target url")
	}
	q := u.Query()
	for k, vs := range params {
		q[k] = append([]string(nil), vs...)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// cookieHeader renders cookies in the X-Set-Cookie form the reader forwards.
func cookieHeader(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, ck := range cookies {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	return strings.Join(parts, "; ")
}

func (c *httpClient) Read(ctx context.Context, req ReadRequest) (*ReadResponse, error) {
	if c.apiKey == "" {
		return nil, eris.New("jina: api key is required")
	}

	target, err := targetURL(req.URL, req.Params)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.baseURL, "/")+"/"+target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create request")
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	format := req.Format
	if format == "" {
		format = "html"
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-Return-Format", format)
	if len(req.Cookies) > 0 {
		httpReq.Header.Set("X-Set-Cookie", cookieHeader(req.Cookies))
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "jina: request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, eris.Wrap(err, "jina: read response body")
	}
	if int64(len(body)) > c.maxBody {
		return nil, eris.Wrapf(ErrBodyTooLarge, "jina: status %d", resp.StatusCode)
	}

	return &ReadResponse{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header.Clone(),
	}, nil
}
