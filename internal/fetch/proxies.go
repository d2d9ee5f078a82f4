package fetch

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/proxyfetch/pkg/jina"
	"github.com/sells-group/proxyfetch/pkg/scraperapi"
	"github.com/sells-group/proxyfetch/pkg/zenrows"
)

// ZenRowsAdapter wraps a ZenRows client as a Strategy.
type ZenRowsAdapter struct {
	client zenrows.Client
	hasKey bool
}

func newZenRowsStrategy(o buildOptions) Strategy {
	opts := []zenrows.Option{zenrows.WithHTTPClient(o.http)}
	if o.baseURL != "" {
		opts = append(opts, zenrows.WithBaseURL(o.baseURL))
	}
	return &ZenRowsAdapter{client: zenrows.NewClient(o.key, opts...), hasKey: o.key != ""}
}

func (z *ZenRowsAdapter) Name() string { return StrategyZenRows }

func (z *ZenRowsAdapter) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	if !z.hasKey {
		return nil, eris.Wrap(ErrMissingCredential, "zenrows")
	}
	resp, err := z.client.Get(ctx, zenrows.GetRequest{
		URL:     req.URL,
		Header:  req.Header,
		Cookies: req.Cookies,
		Params:  req.Params,
	})
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Body: resp.Body, Header: resp.Header}, nil
}

// ScraperAPIAdapter wraps a ScraperAPI client as a Strategy.
type ScraperAPIAdapter struct {
	client scraperapi.Client
	hasKey bool
}

func newScraperAPIStrategy(o buildOptions) Strategy {
	opts := []scraperapi.Option{scraperapi.WithHTTPClient(o.http)}
	if o.baseURL != "" {
		opts = append(opts, scraperapi.WithBaseURL(o.baseURL))
	}
	return &ScraperAPIAdapter{client: scraperapi.NewClient(o.key, opts...), hasKey: o.key != ""}
}

func (s *ScraperAPIAdapter) Name() string { return StrategyScraperAPI }

func (s *ScraperAPIAdapter) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	if !s.hasKey {
		return nil, eris.Wrap(ErrMissingCredential, "scraperapi")
	}
	resp, err := s.client.Get(ctx, scraperapi.GetRequest{
		URL:     req.URL,
		Header:  req.Header,
		Cookies: req.Cookies,
		Params:  req.Params,
	})
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Body: resp.Body, Header: resp.Header}, nil
}

// JinaAdapter wraps a Jina Reader client as a Strategy returning raw HTML.
type JinaAdapter struct {
	client jina.Client
	hasKey bool
}

func newJinaStrategy(o buildOptions) Strategy {
	opts := []jina.Option{jina.WithHTTPClient(o.http)}
	if o.baseURL != "" {
		opts = append(opts, jina.WithBaseURL(o.baseURL))
	}
	return &JinaAdapter{client: jina.NewClient(o.key, opts...), hasKey: o.key != ""}
}

func (j *JinaAdapter) Name() string { return StrategyJina }

func (j *JinaAdapter) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	if !j.hasKey {
		return nil, eris.Wrap(ErrMissingCredential, "jina")
	}
	resp, err := j.client.Read(ctx, jina.ReadRequest{
		URL:     req.URL,
		Header:  req.Header,
		Cookies: req.Cookies,
		Params:  req.Params,
	})
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Body: resp.Body, Header: resp.Header}, nil
}
