package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/ocrtrack/internal/auth"
	"github.com/slok/ocrtrack/internal/conventions"
	"github.com/slok/ocrtrack/internal/log"
	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/ocr/api"
	"github.com/slok/ocrtrack/internal/printer"
	storageio "github.com/slok/ocrtrack/internal/storage/io"
	"github.com/slok/ocrtrack/internal/storage/sqlite"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"

	defaultAPIURL = "http://localhost:8000"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug      bool
	NoLog      bool
	NoColor    bool
	LoggerType string
	ConfigPath string
	DBPath     string
	APIURL     string
	WSURL      string
	Token      string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger

	defaultConfigPath string
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	dataDir := filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir)
	c := &RootCommand{
		defaultConfigPath: conventions.ConfigPath(dataDir),
	}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger and output color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)
	app.Flag("config", "Path to the YAML configuration file.").Default(c.defaultConfigPath).StringVar(&c.ConfigPath)
	app.Flag("db-path", "Path to the SQLite task history database.").Default(conventions.DBPath(dataDir)).StringVar(&c.DBPath)
	app.Flag("api-url", "OCR service base URL (overrides the config file).").StringVar(&c.APIURL)
	app.Flag("ws-url", "Progress WebSocket base URL, defaults to the API URL.").StringVar(&c.WSURL)
	app.Flag("token", "Bearer token used to authorize the calls.").StringVar(&c.Token)

	return c
}

// Config returns the client configuration: the config file values overridden by
// the flags. A missing default config file is not an error.
func (c *RootCommand) Config(ctx context.Context) (model.ClientConfig, error) {
	cfg, err := c.loadConfigFile(ctx)
	if err != nil {
		return model.ClientConfig{}, err
	}

	if c.APIURL != "" {
		cfg.APIURL = c.APIURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if c.WSURL != "" {
		cfg.WSURL = c.WSURL
	}
	if cfg.WSURL == "" {
		cfg.WSURL = cfg.APIURL
	}
	if c.Token != "" {
		cfg.Token = c.Token
	}

	return cfg, nil
}

func (c *RootCommand) loadConfigFile(ctx context.Context) (model.ClientConfig, error) {
	if c.ConfigPath == "" {
		return model.ClientConfig{}, nil
	}

	configPath, err := filepath.Abs(c.ConfigPath)
	if err != nil {
		return model.ClientConfig{}, fmt.Errorf("could not resolve config path: %w", err)
	}

	repo := storageio.NewConfigYAMLRepository(os.DirFS("/"))
	cfg, err := repo.GetConfig(ctx, filepath.ToSlash(configPath[1:]))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && c.ConfigPath == c.defaultConfigPath {
			c.Logger.Debugf("No config file at %s, using defaults", c.ConfigPath)
			return model.ClientConfig{}, nil
		}
		return model.ClientConfig{}, fmt.Errorf("could not load config: %w", err)
	}

	c.Logger.Debugf("Config loaded from %s", c.ConfigPath)
	return cfg, nil
}

// newAPIClient returns the OCR API client of the configuration and its session.
func (c *RootCommand) newAPIClient(cfg model.ClientConfig) (*api.Client, *auth.Session, error) {
	session := auth.NewSession()
	if cfg.Token != "" {
		session.Set(cfg.Token)
	}

	client, err := api.NewClient(api.ClientConfig{
		URL:         cfg.APIURL,
		Credentials: session,
		Logger:      c.Logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not create API client: %w", err)
	}

	return client, session, nil
}

// newHistory opens the task history repository.
func (c *RootCommand) newHistory(ctx context.Context) (*sqlite.Repository, error) {
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.DBPath,
		Logger: c.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create history repository: %w", err)
	}

	return repo, nil
}

// newRemoteHistory returns the history client of the OCR service, logged in with
// the login flags when set.
func (c *RootCommand) newRemoteHistory(ctx context.Context, login loginFlags) (*api.Client, error) {
	cfg, err := c.Config(ctx)
	if err != nil {
		return nil, err
	}

	client, session, err := c.newAPIClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := login.login(ctx, client, session); err != nil {
		return nil, err
	}

	return client, nil
}

// newPrinter returns the printer of an output format.
func (c *RootCommand) newPrinter(format string) printer.Printer {
	if format == "json" {
		return printer.NewJSONPrinter(c.Stdout)
	}
	return printer.NewTablePrinter(c.Stdout)
}

// loginFlags are the credentials used to get a token before running a command.
type loginFlags struct {
	username string
	password string
	ldap     bool
}

func (l *loginFlags) register(cmd *kingpin.CmdClause) {
	cmd.Flag("username", "Login with this username before running the command.").StringVar(&l.username)
	cmd.Flag("password", "Password of the login username.").StringVar(&l.password)
	cmd.Flag("ldap", "Use the LDAP login.").BoolVar(&l.ldap)
}

// login gets a token when a username has been set and stores it in the session.
func (l *loginFlags) login(ctx context.Context, client *api.Client, session *auth.Session) error {
	if l.username == "" {
		return nil
	}

	login := client.Login
	if l.ldap {
		login = client.LoginLDAP
	}

	token, err := login(ctx, l.username, l.password)
	if err != nil {
		return fmt.Errorf("could not login: %w", err)
	}
	session.Set(token)

	return nil
}
