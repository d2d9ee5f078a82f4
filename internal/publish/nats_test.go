package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/proxyfetch/internal/model"
	"github.com/sells-group/proxyfetch/internal/resilience"
)

type fakeConn struct {
	subject    string
	data       []byte
	publishErr error
	flushErr   error
	flushedIn  time.Duration
	drained    bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.subject, c.data = subject, data
	return c.publishErr
}

func (c *fakeConn) FlushTimeout(timeout time.Duration) error {
	c.flushedIn = timeout
	return c.flushErr
}

func (c *fakeConn) Drain() error {
	c.drained = true
	return nil
}

func TestNATSBroker_PublishEncodesJSON(t *testing.T) {
	conn := &fakeConn{}
	b := &NATSBroker{conn: conn, subject: "doujins.search"}
	msg := testMessage("177013")

	require.NoError(t, b.Publish(context.Background(), msg))

	assert.Equal(t, "doujins.search", conn.subject)
	assert.Equal(t, defaultFlushTimeout, conn.flushedIn)

	var decoded model.Message
	require.NoError(t, json.Unmarshal(conn.data, &decoded))
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, "https://nhentai.net/g/177013/", decoded.Source.URL)
}

func TestNATSBroker_FlushUsesDeadline(t *testing.T) {
	conn := &fakeConn{}
	b := &NATSBroker{conn: conn, subject: "s"}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Publish(ctx, testMessage("1")))

	assert.Greater(t, conn.flushedIn, time.Duration(0))
	assert.LessOrEqual(t, conn.flushedIn, time.Second)
}

func TestNATSBroker_TimeoutIsTransient(t *testing.T) {
	conn := &fakeConn{flushErr: nats.ErrTimeout}
	b := &NATSBroker{conn: conn, subject: "s"}

	err := b.Publish(context.Background(), testMessage("1"))
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "publish: nats flush")
}

func TestNATSBroker_ClosedConnectionIsPermanent(t *testing.T) {
	conn := &fakeConn{publishErr: nats.ErrConnectionClosed}
	b := &NATSBroker{conn: conn, subject: "s"}

	err := b.Publish(context.Background(), testMessage("1"))
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.True(t, errors.Is(err, nats.ErrConnectionClosed))
}

func TestNATSBroker_Close(t *testing.T) {
	conn := &fakeConn{}
	b := &NATSBroker{conn: conn, subject: "s"}

	require.NoError(t, b.Close())
	assert.True(t, conn.drained)
}

func TestConnectNATS_RequiresSubject(t *testing.T) {
	_, err := ConnectNATS("nats://127.0.0.1:4222", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject is required")
}
