package publish

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/proxyfetch/internal/model"
)

// DefaultSort is the search order used when the caller passes none.
const DefaultSort = "recent"

// Searcher runs one search against the gallery site.
type Searcher interface {
	Search(ctx context.Context, query, sort string, page int) (*model.SearchResult, error)
}

// Submitter accepts messages for asynchronous delivery. *Pool implements it.
type Submitter interface {
	Submit(msg *model.Message) bool
}

// SearchUseCase runs a search and hands every hit to the publisher. The
// caller gets the search result as soon as the search returns.
type SearchUseCase struct {
	searcher  Searcher
	publisher Submitter
}

// NewSearchUseCase wires a searcher to a publisher.
func NewSearchUseCase(searcher Searcher, publisher Submitter) *SearchUseCase {
	return &SearchUseCase{searcher: searcher, publisher: publisher}
}

// Execute searches and enqueues one message per hit. Publish failures are
// logged by the publisher and never reach the caller.
func (u *SearchUseCase) Execute(ctx context.Context, query, sort string, page int) (*model.SearchResult, error) {
	if sort == "" {
		sort = DefaultSort
	}
	if page < 1 {
		page = 1
	}

	result, err := u.searcher.Search(ctx, query, sort, page)
	if err != nil {
		return nil, eris.Wrapf(err, "publish: search %q", query)
	}

	u.Publish(result)
	return result, nil
}

// Publish enqueues one message per hit in result and reports how many were
// accepted.
func (u *SearchUseCase) Publish(result *model.SearchResult) int {
	if result == nil || u.publisher == nil {
		return 0
	}

	accepted := 0
	for _, d := range result.Doujins {
		if u.submit(d) {
			accepted++
		}
	}

	zap.L().Debug("publish: enqueued search hits",
		zap.String("query", result.Query),
		zap.Int("hits", len(result.Doujins)),
		zap.Int("accepted", accepted),
	)
	return accepted
}

func (u *SearchUseCase) submit(d model.Doujin) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("publish: building message panicked",
				zap.String("source_id", d.ID),
				zap.Any("panic", r),
			)
			ok = false
		}
	}()
	return u.publisher.Submit(model.NewMessage(d))
}

// StaticSearcher returns a fixed result, for replaying a saved search.
type StaticSearcher struct {
	Result *model.SearchResult
}

// Search returns the stored result with the requested query metadata.
func (s StaticSearcher) Search(_ context.Context, query, sort string, page int) (*model.SearchResult, error) {
	if s.Result == nil {
		return nil, eris.New("publish: no stored result")
	}
	res := *s.Result
	if res.Query == "" {
		res.Query = query
	}
	if res.Sort == "" {
		res.Sort = sort
	}
	if res.Page == 0 {
		res.Page = page
	}
	return &res, nil
}
