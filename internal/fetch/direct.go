package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"
)

const (
	maxBodyBytes     = 16 << 20
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// directStrategy fetches the target itself over net/http. Free, no API calls.
type directStrategy struct {
	client  *http.Client
	maxBody int64
}

func newDirectStrategy(o buildOptions) Strategy {
	return &directStrategy{client: o.http, maxBody: maxBodyBytes}
}

func (d *directStrategy) Name() string { return StrategyDirect }

func (d *directStrategy) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, eris.Wrap(err, "direct: parse url")
	}
	if len(req.Params) > 0 {
		q := u.Query()
		for k, vs := range req.Params {
			q[k] = append([]string(nil), vs...)
		}
		u.RawQuery = q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "direct: create request")
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", defaultUserAgent)
	}
	for _, ck := range req.Cookies {
		httpReq.AddCookie(ck)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "direct: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBody+1))
	if err != nil {
		return nil, eris.Wrap(err, "direct: read body")
	}
	if int64(len(body)) > d.maxBody {
		return nil, eris.Wrapf(ErrBodyTooLarge, "direct: status %d", resp.StatusCode)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header.Clone(),
	}, nil
}
