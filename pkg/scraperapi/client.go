// Package scraperapi provides a client for the ScraperAPI proxy endpoint.
package scraperapi

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultBaseURL is the ScraperAPI endpoint.
const DefaultBaseURL = "https://api.scraperapi.com/"

const maxBodyBytes = 16 << 20

// ErrBodyTooLarge is returned when the response body exceeds the size cap.
var ErrBodyTooLarge = eris.New("scraperapi: response body too large")

// Client performs GET requests through ScraperAPI.
type Client interface {
	// Get fetches req.URL through ScraperAPI. The returned status is whatever
	// ScraperAPI answered with; non-200 is not an error.
	Get(ctx context.Context, req GetRequest) (*Response, error)
}

// GetRequest describes the page to fetch.
type GetRequest struct {
	URL     string
	Header  http.Header
	Cookies []*http.Cookie
	Params  url.Values
}

// Response is the proxied response.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Option configures the ScraperAPI client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
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

// NewClient creates a ScraperAPI client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		maxBody: maxBodyBytes,
		http: &http.Client{
			// ScraperAPI retries upstream for up to 60s itself.
			Timeout: 70 * time.Second,
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

func (c *httpClient) Get(ctx context.Context, req GetRequest) (*Response, error) {
	if c.apiKey == "" {
		return nil, eris.New("scraperapi: api key is required")
	}

	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("url", req.URL)
	q.Set("keep_headers", "true")
	for k, vs := range req.Params {
		q[k] = append([]string(nil), vs...)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "scraperapi: create request")
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	for _, ck := range req.Cookies {
		httpReq.AddCookie(ck)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "scraperapi: request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, eris.Wrap(err, "scraperapi: read response body")
	}
	if int64(len(body)) > c.maxBody {
		return nil, eris.Wrapf(ErrBodyTooLarge, "scraperapi: status %d", resp.StatusCode)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header.Clone(),
	}, nil
}
