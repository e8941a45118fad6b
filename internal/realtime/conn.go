package realtime

import "context"

// Conn is a live client session as seen by the core. Implementations must
// make Send safe for concurrent use and must not block past ctx.
type Conn interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
	Close() error
}
