package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	sent   [][]byte
	closed bool
	err    error
	block  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: uuid.NewString()}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ctx context.Context, payload []byte) error {
	if c.block {
		<-ctx.Done()
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

var errBrokenPipe = errors.New("broken pipe")
