package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/ocrtrack/internal/app/export"
	"github.com/slok/ocrtrack/internal/model"
)

type ExportCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID      string
	format      string
	destination string
	overwrite   bool
	output      string
	offline     bool
	login       loginFlags
}

// NewExportCommand returns the export command.
func NewExportCommand(rootCmd *RootCommand, app *kingpin.Application) *ExportCommand {
	c := &ExportCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("export", "Download the OCR result of a task as a document.")
	c.Cmd.Arg("task-id", "Task ID returned by the upload.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("format", "Export format (json, csv, xlsx).").Default(string(model.ExportFormatJSON)).
		EnumVar(&c.format, string(model.ExportFormatJSON), string(model.ExportFormatCSV), string(model.ExportFormatXLSX))
	c.Cmd.Flag("dest", "Destination file or directory, defaults to the working directory.").Short('o').StringVar(&c.destination)
	c.Cmd.Flag("overwrite", "Replace the destination file if it exists.").BoolVar(&c.overwrite)
	c.Cmd.Flag("output", "Output format (table, json).").Default("table").EnumVar(&c.output, "table", "json")
	c.Cmd.Flag("offline", "Only use the local task history, without calling the service.").BoolVar(&c.offline)
	c.login.register(c.Cmd)

	return c
}

func (c ExportCommand) Name() string { return c.Cmd.FullCommand() }

func (c ExportCommand) Run(ctx context.Context) error {
	cfg, err := c.rootCmd.Config(ctx)
	if err != nil {
		return err
	}

	history, err := c.rootCmd.newHistory(ctx)
	if err != nil {
		return err
	}
	defer history.Close()

	svcCfg := export.ServiceConfig{
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
		svcCfg.Exporter = client
	}

	svc, err := export.NewService(svcCfg)
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	resp, err := svc.Run(ctx, export.Request{
		TaskID:      c.taskID,
		Format:      model.ExportFormat(c.format),
		Destination: c.destination,
		Overwrite:   c.overwrite,
	})
	if err != nil {
		return err
	}

	if err := c.rootCmd.newPrinter(c.output).PrintExport(resp.Path, resp.Size); err != nil {
		return fmt.Errorf("could not print export: %w", err)
	}

	return nil
}
