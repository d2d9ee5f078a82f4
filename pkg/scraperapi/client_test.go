package scraperapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "sa-key", q.Get("api_key"))
		assert.Equal(t, "https://acme.com/", q.Get("url"))
		assert.Equal(t, "true", q.Get("keep_headers"))
		assert.Equal(t, "us", q.Get("country_code"))
		assert.Equal(t, "en-US", r.Header.Get("Accept-Language"))

		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	client := NewClient("sa-key", WithBaseURL(srv.URL))
	got, err := client.Get(context.Background(), GetRequest{
		URL:    "https://acme.com/",
		Header: http.Header{"Accept-Language": []string{"en-US"}},
		Params: url.Values{"country_code": []string{"us"}},
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, got.StatusCode)
	assert.Equal(t, "hello", string(got.Body))
}

func TestGet_ServerErrorIsReturnedAsStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream failed"))
	}))
	defer srv.Close()

	client := NewClient("sa-key", WithBaseURL(srv.URL))
	got, err := client.Get(context.Background(), GetRequest{URL: "https://acme.com"})

	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, got.StatusCode)
}

func TestGet_MissingKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient("").Get(context.Background(), GetRequest{URL: "https://acme.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is required")
}

func TestGet_ContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient("sa-key", WithBaseURL(srv.URL)).Get(ctx, GetRequest{URL: "https://acme.com"})
	require.Error(t, err)
}

func TestWithHTTPClient(t *testing.T) {
	t.Parallel()
	custom := &http.Client{}
	hc := NewClient("k", WithHTTPClient(custom)).(*httpClient)
	assert.Equal(t, custom, hc.http)
}

func TestGet_OversizedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	client := NewClient("key", WithBaseURL(srv.URL), WithMaxBodyBytes(9))
	_, err := client.Get(context.Background(), GetRequest{URL: "https://acme.com/"})
	require.ErrorIs(t, err, ErrBodyTooLarge)

	client = NewClient("key", WithBaseURL(srv.URL), WithMaxBodyBytes(10))
	got, err := client.Get(context.Background(), GetRequest{URL: "https://acme.com/"})
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(got.Body))
}
