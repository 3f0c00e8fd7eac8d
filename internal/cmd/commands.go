package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/hashicorp-forge/wopihost/internal/cmd/base"
	"github.com/hashicorp-forge/wopihost/internal/cmd/commands/discovery"
	"github.com/hashicorp-forge/wopihost/internal/cmd/commands/operator"
	"github.com/hashicorp-forge/wopihost/internal/cmd/commands/server"
	"github.com/hashicorp-forge/wopihost/internal/cmd/commands/version"
)

// Commands is the mapping of all the available commands.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	b := base.NewCommand(log, ui)

	Commands = map[string]cli.CommandFactory{
		"discovery": func() (cli.Command, error) {
			return &discovery.Command{Command: b}, nil
		},
		"operator": func() (cli.Command, error) {
			return &operator.Command{Command: b}, nil
		},
		"operator grant": func() (cli.Command, error) {
			return &operator.GrantCommand{Command: b}, nil
		},
		"operator import": func() (cli.Command, error) {
			return &operator.ImportFilesCommand{Command: b}, nil
		},
		"server": func() (cli.Command, error) {
			return &server.Command{Command: b}, nil
		},
		"version": func() (cli.Command, error) {
			return &version.Command{Command: b}, nil
		},
	}
}
