package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"github.com/slok/ocrtrack/cmd/ocrtrack/commands"
	"github.com/slok/ocrtrack/internal/log"
	loglogrus "github.com/slok/ocrtrack/internal/log/logrus"
)

const (
	// Version is the application version (set via ldflags).
	Version = "dev"
)

// Run runs the main application.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	app := kingpin.New("ocrtrack", "OCR document processing client with live progress tracking.")
	app.DefaultEnvars()
	rootCmd := commands.NewRootCommand(app)

	// Setup commands (registers flags).
	processCmd := commands.NewProcessCommand(rootCmd, app)
	resultCmd := commands.NewResultCommand(rootCmd, app)
	exportCmd := commands.NewExportCommand(rootCmd, app)
	loginCmd := commands.NewLoginCommand(rootCmd, app)
	historyCmd := app.Command("history", "Processed documents history.")
	historyListCmd := commands.NewHistoryListCommand(rootCmd, historyCmd)
	historyPruneCmd := commands.NewHistoryPruneCommand(rootCmd, historyCmd)
	historyRemoveCmd := commands.NewHistoryRemoveCommand(rootCmd, historyCmd)

	cmds := map[string]commands.Command{
		processCmd.Name(): processCmd,
		resultCmd.Name():  resultCmd,
		exportCmd.Name():  exportCmd,
		loginCmd.Name():   loginCmd,

		historyListCmd.Name():   historyListCmd,
		historyPruneCmd.Name():  historyPruneCmd,
		historyRemoveCmd.Name(): historyRemoveCmd,
	}

	// Parse command.
	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	// Set standard input/output.
	rootCmd.Stdin = stdin
	rootCmd.Stdout = stdout
	rootCmd.Stderr = stderr

	// Structured output commands don't mix logs unless debugging.
	printerCommands := map[string]bool{
		"result":       true,
		"login":        true,
		"history list": true,
	}
	if printerCommands[cmdName] && !rootCmd.Debug {
		rootCmd.NoLog = true
	}
	if rootCmd.NoColor {
		color.NoColor = true
	}

	// Set logger.
	rootCmd.Logger = getLogger(ctx, *rootCmd)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				rootCmd.Logger.Debugf("Termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Execute command.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				err := cmds[cmdName].Run(ctx)
				if err != nil {
					return fmt.Errorf("%q command failed: %w", cmdName, err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

// getLogger returns the application logger.
func getLogger(ctx context.Context, config commands.RootCommand) log.Logger {
	if config.NoLog {
		return log.Noop
	}

	logrusLog := logrus.New()
	logrusLog.Out = config.Stderr // Logs to stderr so they don't mix with the printers.
	logrusLogEntry := logrus.NewEntry(logrusLog)

	if config.Debug {
		logrusLogEntry.Logger.SetLevel(logrus.DebugLevel)
	}

	// Log format.
	switch config.LoggerType {
	case commands.LoggerTypeDefault:
		logrusLogEntry.Logger.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !config.NoColor,
			DisableColors: config.NoColor,
		})
	case commands.LoggerTypeJSON:
		logrusLogEntry.Logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger := loglogrus.NewLogrus(logrusLogEntry).WithValues(log.Kv{
		"version": Version,
	})

	logger.Debugf("Debug level is enabled")

	return logger
}

func main() {
	ctx := context.Background()
	err := Run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
