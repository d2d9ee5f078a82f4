// Package publish delivers search hits to a message broker without holding
// up the search caller.
package publish

import (
	"context"

	"github.com/sells-group/proxyfetch/internal/model"
)

// Broker sends one message to the downstream consumers.
type Broker interface {
	Publish(ctx context.Context, msg *model.Message) error
}
