package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/ocrtrack/internal/app/history"
	"github.com/slok/ocrtrack/internal/model"
)

// HistoryListCommand lists the finished tasks.
type HistoryListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	status string
	limit  int
	skip   int
	remote bool
	format string
	login  loginFlags
}

// NewHistoryListCommand returns the history list command.
func NewHistoryListCommand(rootCmd *RootCommand, historyCmd *kingpin.CmdClause) *HistoryListCommand {
	c := &HistoryListCommand{rootCmd: rootCmd}

	c.Cmd = historyCmd.Command("list", "List the processed documents.").Default()
	c.Cmd.Flag("status", "Only list the tasks with this status (completed, failed; uploaded, processing with --remote).").
		EnumVar(&c.status, string(model.RemoteStatusUploaded), string(model.RemoteStatusProcessing), string(model.RemoteStatusCompleted), string(model.RemoteStatusFailed))
	c.Cmd.Flag("limit", "Maximum number of tasks listed, 0 is unlimited (the service page size with --remote).").Default("20").IntVar(&c.limit)
	c.Cmd.Flag("skip", "Tasks skipped before the listed ones (only with --remote).").IntVar(&c.skip)
	c.Cmd.Flag("remote", "List the history kept by the OCR service instead of the local one.").BoolVar(&c.remote)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")
	c.login.register(c.Cmd)

	return c
}

func (c HistoryListCommand) Name() string { return c.Cmd.FullCommand() }

func (c HistoryListCommand) Run(ctx context.Context) error {
	repo, err := c.rootCmd.newHistory(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	svcCfg := history.ServiceConfig{
		Repository: repo,
		Logger:     c.rootCmd.Logger,
	}
	if c.remote {
		svcCfg.Remote, err = c.rootCmd.newRemoteHistory(ctx, c.login)
		if err != nil {
			return err
		}
	}

	svc, err := history.NewService(svcCfg)
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	if c.remote {
		h, err := svc.ListRemote(ctx, history.ListRemoteRequest{
			Skip:   c.skip,
			Limit:  c.limit,
			Status: model.RemoteStatus(c.status),
		})
		if err != nil {
			return err
		}
		if err := c.rootCmd.newPrinter(c.format).PrintRemoteHistory(*h); err != nil {
			return fmt.Errorf("could not print history: %w", err)
		}
		return nil
	}

	entries, err := svc.List(ctx, history.ListRequest{
		Status: model.TaskStatus(c.status),
		Limit:  c.limit,
	})
	if err != nil {
		return err
	}

	if err := c.rootCmd.newPrinter(c.format).PrintHistory(entries); err != nil {
		return fmt.Errorf("could not print history: %w", err)
	}

	return nil
}

// HistoryPruneCommand deletes the old finished tasks.
type HistoryPruneCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	olderThan time.Duration
}

// NewHistoryPruneCommand returns the history prune command.
func NewHistoryPruneCommand(rootCmd *RootCommand, historyCmd *kingpin.CmdClause) *HistoryPruneCommand {
	c := &HistoryPruneCommand{rootCmd: rootCmd}

	c.Cmd = historyCmd.Command("prune", "Delete the old processed documents from the history.")
	c.Cmd.Flag("older-than", "Delete the tasks finished more than this time ago.").Default("720h").DurationVar(&c.olderThan)

	return c
}

func (c HistoryPruneCommand) Name() string { return c.Cmd.FullCommand() }

func (c HistoryPruneCommand) Run(ctx context.Context) error {
	repo, err := c.rootCmd.newHistory(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	svc, err := history.NewService(history.ServiceConfig{
		Repository: repo,
		Logger:     c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	n, err := svc.Prune(ctx, history.PruneRequest{OlderThan: c.olderThan})
	if err != nil {
		return err
	}

	return c.rootCmd.newPrinter("table").PrintMessage(fmt.Sprintf("%d tasks deleted from the history", n))
}

// HistoryRemoveCommand deletes a task from the history.
type HistoryRemoveCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID  string
	offline bool
	login   loginFlags
}

// NewHistoryRemoveCommand returns the history rm command.
func NewHistoryRemoveCommand(rootCmd *RootCommand, historyCmd *kingpin.CmdClause) *HistoryRemoveCommand {
	c := &HistoryRemoveCommand{rootCmd: rootCmd}

	c.Cmd = historyCmd.Command("rm", "Delete a processed document from the local and the OCR service history.")
	c.Cmd.Arg("task-id", "Task ID returned by the upload.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("offline", "Only delete the task from the local history.").BoolVar(&c.offline)
	c.login.register(c.Cmd)

	return c
}

func (c HistoryRemoveCommand) Name() string { return c.Cmd.FullCommand() }

func (c HistoryRemoveCommand) Run(ctx context.Context) error {
	repo, err := c.rootCmd.newHistory(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	svcCfg := history.ServiceConfig{
		Repository: repo,
		Logger:     c.rootCmd.Logger,
	}
	if !c.offline {
		svcCfg.Remote, err = c.rootCmd.newRemoteHistory(ctx, c.login)
		if err != nil {
			return err
		}
	}

	svc, err := history.NewService(svcCfg)
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	resp, err := svc.Remove(ctx, history.RemoveRequest{TaskID: c.taskID, LocalOnly: c.offline})
	if err != nil {
		return err
	}

	msg := fmt.Sprintf("Task %s deleted from the local history (%d entries)", c.taskID, resp.LocalDeleted)
	if resp.RemoteDeleted {
		msg = fmt.Sprintf("Task %s deleted from the service and the local history (%d entries)", c.taskID, resp.LocalDeleted)
	}

	return c.rootCmd.newPrinter("table").PrintMessage(msg)
}
