package fetch

import (
	"net/http"
	"net/url"
)

// Request is one page to fetch. Header, Cookies and Params are optional and
// forwarded to whichever strategy handles the attempt.
type Request struct {
	URL     string
	Header  http.Header
	Cookies []*http.Cookie
	Params  url.Values
}

// Response is the page returned by a successful strategy.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	// Strategy names the strategy that produced the response.
	Strategy string
}
