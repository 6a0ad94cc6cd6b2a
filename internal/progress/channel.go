package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slok/ocrtrack/internal/auth"
	"github.com/slok/ocrtrack/internal/log"
	"github.com/slok/ocrtrack/internal/model"
)

// ChannelConfig is the configuration of a progress channel.
type ChannelConfig struct {
	// TaskID is the remote task ID the channel follows.
	TaskID string
	Dialer Dialer
	// Credentials is read on every (re)connection, optional.
	Credentials auth.Provider
	// Reconnect is the wait policy before reconnecting a dropped connection.
	Reconnect         ReconnectPolicy
	KeepaliveInterval time.Duration
	// OnUpdate is called with the new channel state every time it changes. Never
	// called after Close returns. It must not call Close.
	OnUpdate func(model.ChannelState)
	Logger   log.Logger
}

func (c *ChannelConfig) defaults() error {
	if c.TaskID == "" {
		return fmt.Errorf("task id is required")
	}

	if c.Dialer == nil {
		return fmt.Errorf("dialer is required")
	}

	if c.Reconnect == nil {
		c.Reconnect = FixedBackoff{Interval: DefaultReconnectDelay}
	}

	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}

	if c.OnUpdate == nil {
		c.OnUpdate = func(model.ChannelState) {}
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "progress.Channel", "task-id": c.TaskID})

	return nil
}

// Channel is a reconnecting progress stream for a single remote task.
//
// The connection is reopened after a drop while the last known remote status is
// not terminal and the channel has not been closed. Progress and status never go
// backwards on stale or duplicated events.
type Channel struct {
	dialer    Dialer
	creds     auth.Provider
	reconnect ReconnectPolicy
	keepalive time.Duration
	onUpdate  func(model.ChannelState)
	logger    log.Logger

	mu     sync.Mutex
	state  model.ChannelState
	closed bool
	conn   Conn

	// emitMu serializes state changes with their notification so Close can wait
	// for an in flight one.
	emitMu    sync.Mutex
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// Open opens a progress channel and starts following the task in background.
// The channel stops when Close is called or ctx is cancelled.
func Open(ctx context.Context, cfg ChannelConfig) (*Channel, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Channel{
		dialer:    cfg.Dialer,
		creds:     cfg.Credentials,
		reconnect: cfg.Reconnect,
		keepalive: cfg.KeepaliveInterval,
		onUpdate:  cfg.OnUpdate,
		logger:    cfg.Logger,
		state: model.ChannelState{
			TaskID:     cfg.TaskID,
			Connection: model.ConnectionStateConnecting,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go c.run(ctx)

	return c, nil
}

// State returns the current channel state.
func (c *Channel) State() model.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the channel has stopped.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Close stops the channel. It cancels any scheduled reconnection, closes the live
// connection and, once returned, no more updates are notified. Calling it more
// than once has no effect.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.state.Connection = model.ConnectionStateClosed
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		c.cancel()
		if conn != nil {
			if err := conn.Close(); err != nil {
				c.logger.Debugf("could not close connection: %s", err)
			}
		}

		// Wait for the notification in flight, if any.
		c.emitMu.Lock()
		c.emitMu.Unlock()
		c.logger.Debugf("Progress channel closed")
	})

	return nil
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)

	attempt := 0
	for {
		conn, err := c.connect(ctx)
		switch {
		case err == nil:
			attempt = 0
			c.serve(ctx, conn)
		case ctx.Err() != nil:
			c.stop()
			return
		default:
			c.logger.Warningf("could not connect: %s", &model.ChannelError{TaskID: c.State().TaskID, Err: err})
		}

		if ctx.Err() != nil || c.isClosed() {
			c.stop()
			return
		}

		if c.State().Status.IsTerminal() {
			c.update(func(s *model.ChannelState) bool {
				s.Connection = model.ConnectionStateClosed
				return true
			})
			c.logger.Debugf("Task finished, not reconnecting")
			return
		}

		delay := c.reconnect.Delay(attempt)
		attempt++
		c.update(func(s *model.ChannelState) bool {
			s.Connection = model.ConnectionStateReconnecting
			s.Reconnects++
			return true
		})
		c.logger.Debugf("Reconnecting in %s", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.stop()
			return
		case <-timer.C:
		}
	}
}

// stop marks the connection as closed when the channel stops by its context.
// After Close there is nothing to do.
func (c *Channel) stop() {
	c.update(func(s *model.ChannelState) bool {
		if s.Connection == model.ConnectionStateClosed {
			return false
		}
		s.Connection = model.ConnectionStateClosed
		return true
	})
}

func (c *Channel) connect(ctx context.Context) (Conn, error) {
	// Without a provider the stream is anonymous. With one, a missing token is
	// a failed dial so the credentials are read again on the next attempt.
	token := ""
	if c.creds != nil {
		t, err := c.creds.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not get credentials: %w", err)
		}
		if t == "" {
			return nil, fmt.Errorf("empty token: %w", model.ErrNotAuthenticated)
		}
		token = t
	}

	conn, err := c.dialer.Dial(ctx, c.State().TaskID, token)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, context.Canceled
	}
	c.conn = conn
	c.mu.Unlock()

	c.update(func(s *model.ChannelState) bool {
		s.Connection = model.ConnectionStateOpen
		return true
	})
	c.logger.Debugf("Progress channel connected")

	return conn, nil
}

// serve reads the connection until it drops.
func (c *Channel) serve(ctx context.Context, conn Conn) {
	kaCtx, kaCancel := context.WithCancel(ctx)
	defer kaCancel()
	go c.sendKeepalives(kaCtx, conn)

	for {
		data, err := conn.Receive()
		if err != nil {
			if ctx.Err() == nil && !c.isClosed() {
				c.logger.Infof("Progress connection dropped: %s", err)
			}
			break
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			c.logger.Warningf("Dropping malformed message: %s", err)
			continue
		}
		c.handle(ev)
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Channel) sendKeepalives(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(c.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Unblocks the receive loop when the channel is stopped.
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.Send([]byte(KeepaliveMessage)); err != nil {
				c.logger.Debugf("could not send keepalive: %s", err)
			}
		}
	}
}

func (c *Channel) handle(ev Event) {
	switch ev := ev.(type) {
	case ProgressEvent:
		c.update(func(s *model.ChannelState) bool {
			if ev.TaskID != s.TaskID {
				c.logger.Debugf("Ignoring event of task %s", ev.TaskID)
				return false
			}

			changed := false
			if ev.Progress > s.Progress {
				s.Progress = ev.Progress
				changed = true
			}
			if statusRank(ev.Status) > statusRank(s.Status) {
				s.Status = ev.Status
				changed = true
			}
			return changed
		})
	case KeepaliveAck:
	case UnknownEvent:
		c.logger.Debugf("Ignoring unknown %q event", ev.Type)
	}
}

// update applies the mutation and notifies the new state if it changed.
func (c *Channel) update(mutate func(s *model.ChannelState) bool) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	changed := mutate(&c.state)
	state := c.state
	c.mu.Unlock()

	if changed {
		c.onUpdate(state)
	}
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func statusRank(s model.RemoteStatus) int {
	switch s {
	case model.RemoteStatusUploaded:
		return 1
	case model.RemoteStatusProcessing:
		return 2
	case model.RemoteStatusCompleted, model.RemoteStatusFailed:
		return 3
	default:
		return 0
	}
}
