package main

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/proxyfetch/internal/model"
)

func TestBuildRequest(t *testing.T) {
	req, err := buildRequest("https://nhentai.net/g/1/",
		[]string{"User-Agent: bot/1.0", "Accept:text/html"},
		[]string{"session=abc", "csrftoken=x=y"},
		[]string{"js_render=true", "premium_proxy=true"},
	)
	require.NoError(t, err)

	assert.Equal(t, "https://nhentai.net/g/1/", req.URL)
	assert.Equal(t, "bot/1.0", req.Header.Get("User-Agent"))
	assert.Equal(t, "text/html", req.Header.Get("Accept"))
	require.Len(t, req.Cookies, 2)
	assert.Equal(t, &http.Cookie{Name: "csrftoken", Value: "x=y"}, req.Cookies[1])
	assert.Equal(t, url.Values{"js_render": {"true"}, "premium_proxy": {"true"}}, req.Params)
}

func TestBuildRequest_NoFlags(t *testing.T) {
	req, err := buildRequest("https://example.com", nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, req.Header)
	assert.Nil(t, req.Cookies)
	assert.Nil(t, req.Params)
}

func TestBuildRequest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		cookies []string
		params  []string
		want    string
	}{
		{name: "header without colon", headers: []string{"Accept"}, want: "invalid header"},
		{name: "header without key", headers: []string{": v"}, want: "invalid header"},
		{name: "cookie without value", cookies: []string{"session"}, want: "invalid cookie"},
		{name: "param without key", params: []string{"=1"}, want: "invalid param"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildRequest("https://example.com", tt.headers, tt.cookies, tt.params)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadSearchResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	body := `{"query":"q","page":2,"total_pages":5,"doujins":[{"id":"7","title":{"pretty":"P"}}]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	got, err := readSearchResult(path)
	require.NoError(t, err)
	assert.Equal(t, "q", got.Query)
	assert.Equal(t, 2, got.Page)
	assert.Equal(t, []model.Doujin{{ID: "7", Title: model.Title{Pretty: "P"}}}, got.Doujins)
}

func TestReadSearchResult_Errors(t *testing.T) {
	_, err := readSearchResult(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = readSearchResult(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}
