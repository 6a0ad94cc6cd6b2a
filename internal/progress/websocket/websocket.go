// Package websocket has the progress stream transport over WebSocket.
package websocket

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/slok/ocrtrack/internal/log"
	"github.com/slok/ocrtrack/internal/progress"
)

const (
	// DefaultPath is the server path of the progress streams.
	DefaultPath   = "/api/v1/ws/ocr-progress"
	defaultOrigin = "http://localhost/"
)

// DialerConfig is the configuration of the WebSocket dialer.
type DialerConfig struct {
	// URL is the server base URL, http(s) schemes are converted to ws(s).
	URL    string
	Path   string
	Origin string
	Logger log.Logger
}

func (c *DialerConfig) defaults() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}

	if c.Path == "" {
		c.Path = DefaultPath
	}

	if c.Origin == "" {
		c.Origin = defaultOrigin
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "progress.websocket.Dialer"})

	return nil
}

// Dialer opens progress streams over WebSocket.
type Dialer struct {
	base   *url.URL
	origin string
	logger log.Logger
}

var _ progress.Dialer = &Dialer{}

// NewDialer returns a new WebSocket dialer.
func NewDialer(cfg DialerConfig) (*Dialer, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	u, err := url.Parse(strings.TrimSuffix(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid config: unsupported url scheme %q", u.Scheme)
	}
	u.Path += cfg.Path

	return &Dialer{
		base:   u,
		origin: cfg.Origin,
		logger: cfg.Logger,
	}, nil
}

// Dial satisfies progress.Dialer.
func (d *Dialer) Dial(ctx context.Context, taskID, token string) (progress.Conn, error) {
	u := *d.base
	q := u.Query()
	q.Set("task_id", taskID)
	u.RawQuery = q.Encode()

	cfg, err := websocket.NewConfig(u.String(), d.origin)
	if err != nil {
		return nil, fmt.Errorf("could not create websocket config: %w", err)
	}
	if token != "" {
		cfg.Header.Set("Authorization", "Bearer "+token)
	}

	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not dial %s: %w", u.Redacted(), err)
	}
	d.logger.Debugf("Connected to %s", u.Redacted())

	return &conn{ws: ws}, nil
}

type conn struct {
	ws        *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (c *conn) Receive() ([]byte, error) {
	var msg string
	if err := websocket.Message.Receive(c.ws, &msg); err != nil {
		return nil, err
	}
	return []byte(msg), nil
}

// Send sends text frames, the server doesn't accept binary ones.
func (c *conn) Send(msg []byte) error {
	return websocket.Message.Send(c.ws, string(msg))
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.ws.Close() })
	return c.closeErr
}
