package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/ocrtrack/internal/app/pipeline"
	"github.com/slok/ocrtrack/internal/auth"
	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/ocr"
	"github.com/slok/ocrtrack/internal/ocr/fake"
	"github.com/slok/ocrtrack/internal/ocr/local"
	"github.com/slok/ocrtrack/internal/ocr/tesseract"
	"github.com/slok/ocrtrack/internal/printer"
	"github.com/slok/ocrtrack/internal/progress"
	progressmemory "github.com/slok/ocrtrack/internal/progress/memory"
	"github.com/slok/ocrtrack/internal/progress/websocket"
	"github.com/slok/ocrtrack/internal/storage"
	storagememory "github.com/slok/ocrtrack/internal/storage/memory"
)

const (
	backendAPI       = "api"
	backendFake      = "fake"
	backendTesseract = "tesseract"
)

type ProcessCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	files         []string
	backend       string
	maxConcurrent int
	noProgress    bool
	noHistory     bool
	format        string
	languages     []string
	fakePages     int
	fakePageDelay time.Duration
	fakeFail      string
	login         loginFlags
}

// NewProcessCommand returns the process command.
func NewProcessCommand(rootCmd *RootCommand, app *kingpin.Application) *ProcessCommand {
	c := &ProcessCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("process", "Upload documents, follow their OCR progress and print the results.")
	c.Cmd.Arg("files", "Documents to process (PDF or images).").Required().ExistingFilesVar(&c.files)
	c.Cmd.Flag("backend", "OCR backend (api, fake, tesseract).").Default(backendAPI).EnumVar(&c.backend, backendAPI, backendFake, backendTesseract)
	c.Cmd.Flag("max-concurrent", "Maximum documents processed at the same time, 0 is unlimited.").IntVar(&c.maxConcurrent)
	c.Cmd.Flag("no-progress", "Don't print the progress of the tasks.").BoolVar(&c.noProgress)
	c.Cmd.Flag("no-history", "Don't record the finished tasks in the history.").BoolVar(&c.noHistory)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")
	c.Cmd.Flag("lang", "Tesseract languages (tesseract backend).").Default("eng").StringsVar(&c.languages)
	c.Cmd.Flag("fake-pages", "Pages of every document (fake backend).").Default("3").IntVar(&c.fakePages)
	c.Cmd.Flag("fake-page-delay", "Recognition time of every page (fake backend).").Default("500ms").DurationVar(&c.fakePageDelay)
	c.Cmd.Flag("fake-fail", "Fail the documents with a name containing this (fake backend).").StringVar(&c.fakeFail)
	c.login.register(c.Cmd)

	return c
}

func (c ProcessCommand) Name() string { return c.Cmd.FullCommand() }

func (c ProcessCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	cfg, err := c.rootCmd.Config(ctx)
	if err != nil {
		return err
	}
	if c.maxConcurrent < 0 {
		return fmt.Errorf("max concurrent can't be negative")
	}
	if c.maxConcurrent > 0 {
		cfg.MaxConcurrent = c.maxConcurrent
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	// Create the store with the valid documents.
	store, err := storagememory.NewTaskStore(storagememory.TaskStoreConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create task store: %w", err)
	}

	limits := cfg.FileLimits()
	for _, path := range c.files {
		file, err := model.NewPathSourceFile(path)
		if err == nil {
			err = model.ValidateFile(file, limits)
		}
		if err != nil {
			logger.Errorf("Skipping %s: %s", path, err)
			continue
		}
		store.Add(file)
	}
	if store.Len() == 0 {
		return fmt.Errorf("no valid documents to process: %w", model.ErrNotValid)
	}

	// Setup backend.
	backend, dialer, creds, err := c.newBackend(ctx, cfg)
	if err != nil {
		return err
	}

	var history storage.HistoryRepository
	if !c.noHistory {
		repo, err := c.rootCmd.newHistory(ctx)
		if err != nil {
			return err
		}
		defer repo.Close()
		history = repo
	}

	svc, err := pipeline.NewService(pipeline.ServiceConfig{
		Store:             store,
		Backend:           backend,
		Dialer:            dialer,
		Credentials:       creds,
		Reconnect:         progress.NewReconnectPolicy(cfg.Reconnect),
		KeepaliveInterval: cfg.KeepaliveInterval,
		MaxConcurrent:     int64(cfg.MaxConcurrent),
		History:           history,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	if !c.noProgress {
		pp := printer.NewProgressPrinter(c.rootCmd.Stderr, 0)
		unsubscribe := store.Subscribe(pp.Observe)
		defer unsubscribe()
	}

	// Execute the pipelines.
	started := svc.StartAll(ctx)
	logger.Debugf("%d tasks started", started)
	svc.Wait()

	tasks := store.List()
	if err := c.rootCmd.newPrinter(c.format).PrintTasks(tasks); err != nil {
		return fmt.Errorf("could not print tasks: %w", err)
	}

	failed := 0
	for _, t := range tasks {
		if t.Status != model.TaskStatusCompleted {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents could not be processed", failed, len(tasks))
	}

	return nil
}

func (c ProcessCommand) newBackend(ctx context.Context, cfg model.ClientConfig) (ocr.Backend, progress.Dialer, auth.Provider, error) {
	logger := c.rootCmd.Logger

	if c.backend == backendAPI {
		client, session, err := c.rootCmd.newAPIClient(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := c.login.login(ctx, client, session); err != nil {
			return nil, nil, nil, err
		}

		dialer, err := websocket.NewDialer(websocket.DialerConfig{
			URL:    cfg.WSURL,
			Origin: cfg.Origin,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("could not create progress dialer: %w", err)
		}

		return client, dialer, session, nil
	}

	var engine local.Engine
	switch c.backend {
	case backendTesseract:
		e, err := tesseract.NewEngine(tesseract.EngineConfig{Languages: c.languages})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("could not create tesseract engine: %w", err)
		}
		engine = e
	default:
		fcfg := fake.EngineConfig{Pages: c.fakePages, PageDelay: c.fakePageDelay}
		if c.fakeFail != "" {
			fcfg.FailPage = fake.FailNamed(c.fakeFail)
		}
		e, err := fake.NewEngine(fcfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("could not create fake engine: %w", err)
		}
		engine = e
	}

	hub := progressmemory.NewHub(logger)
	limits := cfg.FileLimits()
	backend, err := local.NewBackend(local.BackendConfig{
		Engine: engine,
		Hub:    hub,
		Limits: &limits,
		Logger: logger,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("could not create local backend: %w", err)
	}

	return backend, hub, nil, nil
}
