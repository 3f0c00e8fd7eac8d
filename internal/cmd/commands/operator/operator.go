package operator

import (
	"github.com/mitchellh/cli"

	"github.com/hashicorp-forge/wopihost/internal/cmd/base"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Perform operator-specific tasks"
}

func (c *Command) Help() string {
	return `Usage: wopihost operator <subcommand> [options] [args]

  This command groups subcommands for operators managing the users and files
  of the bundled catalog.`
}

func (c *Command) Run(args []string) int {
	return cli.RunResultHelp
}
