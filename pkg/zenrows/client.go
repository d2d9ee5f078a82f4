// Package zenrows provides a client for the ZenRows universal scraper API.
package zenrows

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultBaseURL is the ZenRows API endpoint.
const DefaultBaseURL = "https://api.zenrows.com/v1/"

// maxBodyBytes caps how much of a proxied page is buffered.
const maxBodyBytes = 16 << 20

// ErrBodyTooLarge is returned when the response body exceeds the size cap.
var ErrBodyTooLarge = eris.New("zenrows: response body too large")

// Client performs GET requests through ZenRows.
type Client interface {
	// Get fetches req.URL through ZenRows and returns the origin response
	// untouched. A non-200 status is not an error.
	Get(ctx context.Context, req GetRequest) (*Response, error)
}

// GetRequest describes the page to fetch.
type GetRequest struct {
	URL     string
	Header  http.Header
	Cookies []*http.Cookie
	Params  url.Values
}

// Response is the proxied origin response.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Option configures the ZenRows client.
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

// NewClient creates a ZenRows client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		maxBody: maxBodyBytes,
		http: &http.Client{
			Timeout: 60 * time.Second,
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

// query builds the API query. original_status makes ZenRows pass the origin
// status through, custom_headers forwards the caller's headers. Caller params
// replace injected ones on key collision.
func (c *httpClient) query(req GetRequest) url.Values {
	q := url.Values{}
	q.Set("apikey", c.apiKey)
	q.Set("url", req.URL)
	q.Set("original_status", "true")
	q.Set("custom_headers", "true")
	for k, vs := range req.Params {
		q[k] = append([]string(nil), vs...)
	}
	return q
}

func (c *httpClient) Get(ctx context.Context, req GetRequest) (*Response, error) {
	if c.apiKey == "" {
		return nil, eris.New("zenrows: api key is required")
	}

	reqURL := c.baseURL + "?" + c.query(req).Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "zenrows: create request")
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
		return nil, eris.Wrap(err, "zenrows: request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, eris.Wrap(err, "zenrows: read response body")
	}
	if int64(len(body)) > c.maxBody {
		return nil, eris.Wrapf(ErrBodyTooLarge, "zenrows: status %d", resp.StatusCode)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header.Clone(),
	}, nil
}
