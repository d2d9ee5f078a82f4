package publish

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/proxyfetch/internal/model"
	"github.com/sells-group/proxyfetch/internal/resilience"
)

const defaultFlushTimeout = 5 * time.Second

// natsConn is the subset of *nats.Conn the broker needs.
type natsConn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Drain() error
}

// NATSBroker publishes JSON-encoded messages to a single subject.
type NATSBroker struct {
	conn    natsConn
	subject string
}

// ConnectNATS dials url and returns a broker bound to subject.
func ConnectNATS(url, subject string, opts ...nats.Option) (*NATSBroker, error) {
	if subject == "" {
		return nil, eris.New("publish: nats subject is required")
	}

	opts = append([]nats.Option{
		nats.Name("proxyfetch"),
		nats.Timeout(5 * time.Second),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				zap.L().Warn("publish: nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			zap.L().Info("publish: nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}, opts...)

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, eris.Wrapf(err, "publish: connect nats %s", url)
	}
	return &NATSBroker{conn: conn, subject: subject}, nil
}

// Publish encodes msg and sends it, flushing within ctx's deadline.
func (b *NATSBroker) Publish(ctx context.Context, msg *model.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return eris.Wrap(err, "publish: encode message")
	}

	if err := b.conn.Publish(b.subject, payload); err != nil {
		return classifyNATS(eris.Wrapf(err, "publish: nats publish %s", b.subject), err)
	}

	timeout := defaultFlushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return eris.Wrap(context.DeadlineExceeded, "publish: nats flush")
	}
	if err := b.conn.FlushTimeout(timeout); err != nil {
		return classifyNATS(eris.Wrap(err, "publish: nats flush"), err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (b *NATSBroker) Close() error {
	if err := b.conn.Drain(); err != nil {
		return eris.Wrap(err, "publish: nats drain")
	}
	return nil
}

func classifyNATS(wrapped, cause error) error {
	if errors.Is(cause, nats.ErrTimeout) ||
		errors.Is(cause, nats.ErrConnectionReconnecting) ||
		errors.Is(cause, nats.ErrReconnectBufExceeded) ||
		errors.Is(cause, nats.ErrNoServers) {
		return resilience.NewTransientError(wrapped, 0)
	}
	return wrapped
}
