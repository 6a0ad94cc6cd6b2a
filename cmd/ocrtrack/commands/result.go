package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/ocrtrack/internal/app/result"
)

type ResultCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID  string
	format  string
	offline bool
	login   loginFlags
}

// NewResultCommand returns the result command.
func NewResultCommand(rootCmd *RootCommand, app *kingpin.Application) *ResultCommand {
	c := &ResultCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("result", "Show the OCR result of a processed task.")
	c.Cmd.Arg("task-id", "Task ID returned by the upload.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")
	c.Cmd.Flag("offline", "Only use the local task history, without calling the service.").BoolVar(&c.offline)
	c.login.register(c.Cmd)

	return c
}

func (c ResultCommand) Name() string { return c.Cmd.FullCommand() }

func (c ResultCommand) Run(ctx context.Context) error {
	cfg, err := c.rootCmd.Config(ctx)
	if err != nil {
		return err
	}

	history, err := c.rootCmd.newHistory(ctx)
	if err != nil {
		return err
	}
	defer history.Close()

	svcCfg := result.ServiceConfig{
		History: history,
		Logger:  c.rootCmd.Logger,
	}
	if !c.offline {
		client, session, err := c.rootCmd.newAPIClient(cfg)
		if err != nil {
			return err
		}
		if err := c.login.login(ctx, client, session); err != nil {
			return err
		}
		svcCfg.Getter = client
	}

	svc, err := result.NewService(svcCfg)
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	res, err := svc.Run(ctx, result.Request{TaskID: c.taskID})
	if err != nil {
		return err
	}

	if err := c.rootCmd.newPrinter(c.format).PrintResult(*res); err != nil {
		return fmt.Errorf("could not print result: %w", err)
	}

	return nil
}
