// Package memory has an in-process progress stream server. The local OCR backends
// publish on it and it's also used to drive progress channels in tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/slok/ocrtrack/internal/log"
	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/progress"
)

const connBuffer = 128

// Hub is an in-memory progress stream server that satisfies progress.Dialer.
type Hub struct {
	mu      sync.Mutex
	conns   map[string][]*conn
	dials   map[string]int
	pings   map[string]int
	tokens  map[string]string
	dialErr error
	logger  log.Logger
}

var _ progress.Dialer = &Hub{}

// NewHub returns a new hub.
func NewHub(logger log.Logger) *Hub {
	if logger == nil {
		logger = log.Noop
	}

	return &Hub{
		conns:  map[string][]*conn{},
		dials:  map[string]int{},
		pings:  map[string]int{},
		tokens: map[string]string{},
		logger: logger.WithValues(log.Kv{"svc": "progress.memory.Hub"}),
	}
}

// Dial satisfies progress.Dialer.
func (h *Hub) Dial(ctx context.Context, taskID, token string) (progress.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.dials[taskID]++
	if h.dialErr != nil {
		return nil, h.dialErr
	}

	h.tokens[taskID] = token
	c := &conn{
		hub:    h,
		taskID: taskID,
		inbox:  make(chan []byte, connBuffer),
		closed: make(chan struct{}),
	}
	h.conns[taskID] = append(h.conns[taskID], c)

	return c, nil
}

// SetDialError makes the next dials fail with err, nil restores them.
func (h *Hub) SetDialError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dialErr = err
}

// Publish sends a progress event to all the connections of the event task.
// Returns the number of connections that received it.
func (h *Hub) Publish(ev model.ProgressEvent) (int, error) {
	data, err := progress.EncodeProgressEvent(ev)
	if err != nil {
		return 0, fmt.Errorf("could not encode event: %w", err)
	}

	return h.PublishRaw(ev.TaskID, data), nil
}

// PublishRaw sends a raw message to all the connections of a task.
func (h *Hub) PublishRaw(taskID string, data []byte) int {
	h.mu.Lock()
	conns := append([]*conn(nil), h.conns[taskID]...)
	h.mu.Unlock()

	n := 0
	for _, c := range conns {
		if c.deliver(data) {
			n++
		}
	}
	return n
}

// Drop closes the server side of all the connections of a task, like a network
// drop. Returns the number of dropped connections.
func (h *Hub) Drop(taskID string) int {
	h.mu.Lock()
	conns := h.conns[taskID]
	delete(h.conns, taskID)
	h.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
	return len(conns)
}

// Connections returns the number of live connections of a task.
func (h *Hub) Connections(taskID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[taskID])
}

// Dials returns the number of dial attempts made for a task.
func (h *Hub) Dials(taskID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials[taskID]
}

// Pings returns the number of keepalives received for a task.
func (h *Hub) Pings(taskID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pings[taskID]
}

// LastToken returns the token used on the last dial of a task.
func (h *Hub) LastToken(taskID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tokens[taskID]
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.conns[c.taskID]
	for i, cc := range conns {
		if cc == c {
			h.conns[c.taskID] = append(conns[:i:i], conns[i+1:]...)
			break
		}
	}
	if len(h.conns[c.taskID]) == 0 {
		delete(h.conns, c.taskID)
	}
}

func (h *Hub) ping(c *conn) {
	h.mu.Lock()
	h.pings[c.taskID]++
	h.mu.Unlock()

	c.deliver([]byte(progress.KeepaliveAckMessage))
}

type conn struct {
	hub       *Hub
	taskID    string
	inbox     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *conn) Receive() ([]byte, error) {
	// Pending messages first.
	select {
	case msg := <-c.inbox:
		return msg, nil
	default:
	}

	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *conn) Send(msg []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}

	if string(msg) == progress.KeepaliveMessage {
		c.hub.ping(c)
	}
	return nil
}

func (c *conn) Close() error {
	c.shutdown()
	c.hub.unregister(c)
	return nil
}

func (c *conn) shutdown() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *conn) deliver(data []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.inbox <- data:
		return true
	default:
		c.hub.logger.Warningf("Connection buffer of task %s full, dropping message", c.taskID)
		return false
	}
}
