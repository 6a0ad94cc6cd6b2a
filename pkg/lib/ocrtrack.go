package lib

import (
	"context"
	"fmt"
	"time"

	"github.com/slok/ocrtrack/internal/app/export"
	"github.com/slok/ocrtrack/internal/app/pipeline"
	"github.com/slok/ocrtrack/internal/app/result"
	"github.com/slok/ocrtrack/internal/auth"
	"github.com/slok/ocrtrack/internal/log"
	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/ocr"
	"github.com/slok/ocrtrack/internal/ocr/api"
	"github.com/slok/ocrtrack/internal/ocr/fake"
	"github.com/slok/ocrtrack/internal/ocr/local"
	"github.com/slok/ocrtrack/internal/progress"
	progressmemory "github.com/slok/ocrtrack/internal/progress/memory"
	"github.com/slok/ocrtrack/internal/progress/websocket"
	"github.com/slok/ocrtrack/internal/storage"
	storagememory "github.com/slok/ocrtrack/internal/storage/memory"
	"github.com/slok/ocrtrack/internal/storage/sqlite"
)

const defaultAPIURL = "http://localhost:8000"

// Config configures the SDK client.
//
// All fields are optional and have sensible defaults. An empty Config{} uses the
// OCR service at http://localhost:8000.
type Config struct {
	// Backend selects the OCR backend.
	// Default: [BackendAPI].
	Backend BackendType

	// APIURL is the OCR service base URL.
	// Default: http://localhost:8000.
	APIURL string

	// WSURL is the base URL of the progress WebSocket.
	// Default: APIURL.
	WSURL string

	// Origin is the Origin header of the WebSocket handshake.
	Origin string

	// Token is the initial access token, see [Client.Login] to get one.
	Token string

	// FakePages and FakePageDelay shape the documents of [BackendFake].
	// Default: 1 page without delay.
	FakePages     int
	FakePageDelay time.Duration

	// ReconnectDelay is the wait before reopening a dropped progress stream.
	// Default: 3s.
	ReconnectDelay time.Duration

	// KeepaliveInterval is the interval of the progress stream keepalives.
	// Default: 30s.
	KeepaliveInterval time.Duration

	// MaxConcurrent limits the documents processed at the same time.
	// Default: 0 (unlimited).
	MaxConcurrent int

	// MaxFileSizeMB is the biggest accepted document.
	// Default: 50.
	MaxFileSizeMB int

	// HistoryDBPath is the SQLite database where the finished tasks are recorded.
	// The recorded results are available with [Client.Result] and [Client.Export]
	// after the client is closed.
	// Default: no history.
	HistoryDBPath string

	// Logger receives structured log output from the SDK.
	// Default: noop (silent). See the log sub-package for the interface.
	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.Backend == "" {
		c.Backend = BackendAPI
	}
	if c.Backend != BackendAPI && c.Backend != BackendFake {
		return fmt.Errorf("unsupported backend type: %s", c.Backend)
	}

	if c.APIURL == "" {
		c.APIURL = defaultAPIURL
	}
	if c.WSURL == "" {
		c.WSURL = c.APIURL
	}

	if c.MaxConcurrent < 0 {
		return fmt.Errorf("max concurrent can't be negative")
	}
	if c.MaxFileSizeMB < 0 {
		return fmt.Errorf("max file size can't be negative")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Client is the main SDK entry point to process documents.
//
// Create a Client with [New] and release its resources with [Client.Close].
// A Client is safe for concurrent use.
type Client struct {
	store    *storagememory.TaskStore
	pipeline *pipeline.Service
	results  *result.Service
	exports  *export.Service
	session  *auth.Session
	api      *api.Client
	history  *sqlite.Repository
	limits   model.FileLimits
	logger   log.Logger
}

// New creates a new SDK client.
func New(cfg Config) (*Client, error) {
	return NewWithContext(context.Background(), cfg)
}

// NewWithContext is like [New], ctx bounds the history database setup.
func NewWithContext(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", joinErrors(err, ErrNotValid))
	}

	limits := model.ClientConfig{MaxFileSizeMB: cfg.MaxFileSizeMB}.FileLimits()

	store, err := storagememory.NewTaskStore(storagememory.TaskStoreConfig{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create task store: %w", err)
	}

	c := &Client{
		store:   store,
		session: auth.NewSession(),
		limits:  limits,
		logger:  cfg.Logger,
	}
	if cfg.Token != "" {
		c.session.Set(cfg.Token)
	}

	var (
		backend  ocr.Backend
		getter   ocr.ResultGetter
		exporter ocr.Exporter
		dialer   progress.Dialer
		// Only the remote stream is authorized.
		creds    auth.Provider
	)
	switch cfg.Backend {
	case BackendFake:
		engine, err := fake.NewEngine(fake.EngineConfig{Pages: cfg.FakePages, PageDelay: cfg.FakePageDelay})
		if err != nil {
			return nil, mapError(fmt.Errorf("could not create fake engine: %w", err))
		}
		hub := progressmemory.NewHub(cfg.Logger)
		lb, err := local.NewBackend(local.BackendConfig{Engine: engine, Hub: hub, Limits: &limits, Logger: cfg.Logger})
		if err != nil {
			return nil, fmt.Errorf("could not create fake backend: %w", err)
		}
		backend, getter, exporter, dialer = lb, lb, lb, hub

	default:
		client, err := api.NewClient(api.ClientConfig{URL: cfg.APIURL, Credentials: c.session, Logger: cfg.Logger})
		if err != nil {
			return nil, fmt.Errorf("could not create API client: %w", joinErrors(err, ErrNotValid))
		}
		wsDialer, err := websocket.NewDialer(websocket.DialerConfig{URL: cfg.WSURL, Origin: cfg.Origin, Logger: cfg.Logger})
		if err != nil {
			return nil, fmt.Errorf("could not create progress dialer: %w", joinErrors(err, ErrNotValid))
		}
		c.api = client
		backend, getter, exporter, dialer = client, client, client, wsDialer
		creds = c.session
	}

	// Nil without a database path.
	var history storage.HistoryRepository
	if cfg.HistoryDBPath != "" {
		c.history, err = sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: cfg.HistoryDBPath, Logger: cfg.Logger})
		if err != nil {
			return nil, fmt.Errorf("could not create history: %w", err)
		}
		history = c.history
	}

	c.pipeline, err = pipeline.NewService(pipeline.ServiceConfig{
		Store:             store,
		Backend:           backend,
		Dialer:            dialer,
		Credentials:       creds,
		Reconnect:         progress.FixedBackoff{Interval: cfg.ReconnectDelay},
		KeepaliveInterval: cfg.KeepaliveInterval,
		MaxConcurrent:     int64(cfg.MaxConcurrent),
		History:           history,
		Logger:            cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create pipeline: %w", err)
	}

	c.results, err = result.NewService(result.ServiceConfig{Getter: getter, History: history, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create result service: %w", err)
	}

	c.exports, err = export.NewService(export.ServiceConfig{Exporter: exporter, History: history, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create export service: %w", err)
	}

	return c, nil
}

// Close closes the progress streams and removes all the tasks. Results of the
// calls still in flight are discarded. With a history, Close waits for the
// started tasks to return. After Close returns, the client must not be used.
func (c *Client) Close() error {
	for c.store.Remove(0) {
	}

	if c.history != nil {
		// Pipelines record their tasks until they return.
		c.pipeline.Wait()
		if err := c.history.Close(); err != nil {
			return fmt.Errorf("could not close history: %w", err)
		}
	}

	return nil
}

// Login gets an access token from the service and uses it for the following
// calls. Set ldap to use the LDAP login.
//
// Returns [ErrNotAuthenticated] if the service rejects the credentials.
func (c *Client) Login(ctx context.Context, username, password string, ldap bool) error {
	if c.api == nil {
		return mapError(fmt.Errorf("login requires the API backend: %w", model.ErrNotValid))
	}

	login := c.api.Login
	if ldap {
		login = c.api.LoginLDAP
	}

	token, err := login(ctx, username, password)
	if err != nil {
		return mapError(err)
	}
	c.session.Set(token)

	return nil
}

// Logout forgets the access token.
func (c *Client) Logout() { c.session.Clear() }

// AddFile adds a pending task for the document at path.
//
// Returns [ErrNotValid] if the document is empty, too big or of an unsupported type.
func (c *Client) AddFile(path string) (Task, error) {
	file, err := model.NewPathSourceFile(path)
	if err != nil {
		return Task{}, mapError(err)
	}
	return c.add(file)
}

// AddBytes adds a pending task for an in memory document.
//
// Returns [ErrNotValid] if the document is empty, too big or of an unsupported type.
func (c *Client) AddBytes(name string, data []byte) (Task, error) {
	return c.add(model.NewBytesSourceFile(name, data))
}

func (c *Client) add(file model.SourceFile) (Task, error) {
	if err := model.ValidateFile(file, c.limits); err != nil {
		return Task{}, mapError(err)
	}

	_, rec := c.store.Add(file)
	return fromInternalTask(rec), nil
}

// Start starts processing the pending task at index in background. It returns
// false if there is no pending task at index.
func (c *Client) Start(ctx context.Context, index int) bool {
	return c.pipeline.Start(ctx, index)
}

// StartAll starts processing all the pending tasks and returns how many were started.
func (c *Client) StartAll(ctx context.Context) int {
	return c.pipeline.StartAll(ctx)
}

// Remove removes the task at index. Its progress stream is closed and the result
// of a call still in flight is discarded.
func (c *Client) Remove(index int) bool {
	return c.pipeline.Remove(index)
}

// Wait blocks until all the started tasks have finished.
func (c *Client) Wait() { c.pipeline.Wait() }

// Tasks returns the tasks in submission order.
func (c *Client) Tasks() []Task {
	return fromInternalTaskList(c.store.List())
}

// Subscribe registers fn to receive the tasks after every change and returns the
// function to unregister it. fn is called synchronously and must not call the
// client.
func (c *Client) Subscribe(fn func(tasks []Task)) (unsubscribe func()) {
	return c.store.Subscribe(func(s storage.Snapshot) {
		fn(fromInternalTaskList(s.Tasks))
	})
}

// History returns the recorded finished tasks, most recent first. A limit of 0
// returns all of them.
//
// Returns [ErrNotValid] if the client has no history configured.
func (c *Client) History(ctx context.Context, limit int) ([]Task, error) {
	if c.history == nil {
		return nil, mapError(fmt.Errorf("history is not configured: %w", model.ErrNotValid))
	}

	entries, err := c.history.ListEntries(ctx, model.HistoryFilter{Limit: limit})
	if err != nil {
		return nil, mapError(err)
	}

	tasks := make([]Task, 0, len(entries))
	for _, e := range entries {
		tasks = append(tasks, fromInternalHistoryEntry(e))
	}
	return tasks, nil
}

// Result returns the result of a processed task by its service ID.
//
// Returns [ErrNotFound] if the task has no result.
func (c *Client) Result(ctx context.Context, taskID string) (*Result, error) {
	res, err := c.results.Run(ctx, result.Request{TaskID: taskID})
	if err != nil {
		return nil, mapError(err)
	}

	r := fromInternalResult(*res)
	return &r, nil
}

// Export stores the result of a processed task in the format at dest (a file or
// an existing directory, empty is the working directory) and returns the path of
// the stored file.
//
// Returns [ErrAlreadyExists] if the file exists and overwrite is not set.
func (c *Client) Export(ctx context.Context, taskID string, format ExportFormat, dest string, overwrite bool) (string, error) {
	resp, err := c.exports.Run(ctx, export.Request{
		TaskID:      taskID,
		Format:      model.ExportFormat(format),
		Destination: dest,
		Overwrite:   overwrite,
	})
	if err != nil {
		return "", mapError(err)
	}

	return resp.Path, nil
}
