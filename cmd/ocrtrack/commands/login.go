package commands

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"
)

type LoginCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	login loginFlags
}

// NewLoginCommand returns the login command.
func NewLoginCommand(rootCmd *RootCommand, app *kingpin.Application) *LoginCommand {
	c := &LoginCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("login", "Get an access token, print it so it can be used with --token or OCRTRACK_TOKEN.")
	c.Cmd.Flag("username", "Username.").Required().StringVar(&c.login.username)
	c.Cmd.Flag("password", "Password, read from stdin when missing.").StringVar(&c.login.password)
	c.Cmd.Flag("ldap", "Use the LDAP login.").BoolVar(&c.login.ldap)

	return c
}

func (c LoginCommand) Name() string { return c.Cmd.FullCommand() }

func (c LoginCommand) Run(ctx context.Context) error {
	cfg, err := c.rootCmd.Config(ctx)
	if err != nil {
		return err
	}

	if c.login.password == "" {
		line, err := bufio.NewReader(c.rootCmd.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("could not read password: %w", err)
		}
		c.login.password = strings.TrimRight(line, "\r\n")
	}

	// Login without a previous token.
	cfg.Token = ""
	client, session, err := c.rootCmd.newAPIClient(cfg)
	if err != nil {
		return err
	}
	if err := c.login.login(ctx, client, session); err != nil {
		return err
	}

	token, err := session.Token(ctx)
	if err != nil {
		return err
	}

	return c.rootCmd.newPrinter("table").PrintMessage(token)
}
