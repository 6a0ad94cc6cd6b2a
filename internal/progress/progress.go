// Package progress has the client side of the per task progress streams. A
// Channel keeps a connection to the server for one remote task, reconnects it
// while the task is not finished and reports the progress it receives.
package progress

import (
	"context"
	"time"
)

// DefaultKeepaliveInterval is the interval the keepalive is sent to the server.
const DefaultKeepaliveInterval = 30 * time.Second

// Conn is a single live connection to the progress stream of a task.
type Conn interface {
	// Receive blocks until the next message is received. Returns an error when
	// the connection is closed by any of the ends.
	Receive() ([]byte, error)
	// Send sends a text message to the server.
	Send(msg []byte) error
	// Close closes the connection, must be safe to call more than once.
	Close() error
}

// Dialer opens connections to the progress stream of a remote task.
type Dialer interface {
	Dial(ctx context.Context, taskID, token string) (Conn, error)
}
