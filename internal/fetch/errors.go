package fetch

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrRetriesExhausted is returned once every round failed to produce a
	// 200 response. It means "nothing fetched", not a crash.
	ErrRetriesExhausted = eris.New("fetch: no response obtainable, retries exhausted")

	// ErrUnknownStrategy is returned at construction for an unregistered id.
	ErrUnknownStrategy = eris.New("fetch: unknown strategy")

	// ErrMissingCredential is returned by a proxy strategy dispatched without
	// an API key.
	ErrMissingCredential = eris.New("fetch: missing credential")

	// ErrBodyTooLarge is returned by the direct strategy when the page exceeds
	// the body cap. The attempt counts as failed.
	ErrBodyTooLarge = eris.New("fetch: response body too large")

	// errThrottled means a rate-limited strategy could not get a slot before
	// the caller's deadline. The service was not contacted.
	errThrottled = eris.New("fetch: throttled")
)

// StatusError describes a non-200 response. It is only used for logging; a
// non-200 is never returned to the caller.
type StatusError struct {
	Strategy   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s returned status %d", e.Strategy, e.StatusCode)
}
