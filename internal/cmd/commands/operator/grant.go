package operator

import (
	"context"
	"flag"
	"fmt"

	"github.com/hashicorp-forge/wopihost/internal/cmd/base"
	"github.com/hashicorp-forge/wopihost/internal/config"
	"github.com/hashicorp-forge/wopihost/internal/server"
	"github.com/hashicorp-forge/wopihost/pkg/storage"
)

type GrantCommand struct {
	*base.Command

	flagConfig string
	flagFile   string
	flagUser   string
	flagMode   string
}

func (c *GrantCommand) Synopsis() string {
	return "Give a user access to a file"
}

func (c *GrantCommand) Help() string {
	return `Usage: wopihost operator grant -config=config.hcl -file=ID -user=bob [-mode=read]

  This command lets a user other than the owner open a file.` +
		c.Flags().Help()
}

func (c *GrantCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(
		flag.NewFlagSet("grant", flag.ContinueOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "(Required) Path to config file",
	)
	f.StringVar(
		&c.flagFile, "file", "", "(Required) File ID",
	)
	f.StringVar(
		&c.flagUser, "user", "", "(Required) Login name of the user",
	)
	f.StringVar(
		&c.flagMode, "mode", "read", "Access mode (read, write)",
	)

	return f
}

func (c *GrantCommand) Run(args []string) int {
	ui := c.UI
	ctx := context.Background()

	flags := c.Flags()
	if err := flags.Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	if c.flagConfig == "" || c.flagFile == "" || c.flagUser == "" {
		ui.Error("config, file and user flags are required")
		return 1
	}

	var mode storage.Mode
	switch c.flagMode {
	case "read":
		mode = storage.ModeRead
	case "write":
		mode = storage.ModeWrite
	default:
		ui.Error(fmt.Sprintf("invalid mode %q", c.flagMode))
		return 1
	}

	cfg, err := config.NewConfig(c.flagConfig)
	if err != nil {
		ui.Error(fmt.Sprintf("error parsing config file: %v", err))
		return 1
	}

	db, err := server.ConnectDatabase(cfg, c.Log)
	if err != nil {
		ui.Error(fmt.Sprintf("error initializing database: %v", err))
		return 1
	}
	cat, err := server.OpenCatalog(ctx, cfg, db, c.Log)
	if err != nil {
		ui.Error(fmt.Sprintf("error initializing storage: %v", err))
		return 1
	}

	if _, err := cat.Stat(ctx, c.flagFile); err != nil {
		ui.Error(fmt.Sprintf("error looking up file: %v", err))
		return 1
	}
	if err := cat.Grant(ctx, c.flagFile, c.flagUser, mode); err != nil {
		ui.Error(fmt.Sprintf("error granting access: %v", err))
		return 1
	}

	ui.Info(fmt.Sprintf("Granted %s access on %s to %s", mode, c.flagFile, c.flagUser))
	return 0
}
