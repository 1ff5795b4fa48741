package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/hashicorp-forge/dtmigrate/internal/cmd/base"
	"github.com/hashicorp-forge/dtmigrate/internal/cmd/commands/list"
	"github.com/hashicorp-forge/dtmigrate/internal/cmd/commands/migrate"
	"github.com/hashicorp-forge/dtmigrate/internal/cmd/commands/version"
)

// Commands is the mapping of all available dtmigrate commands.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	b := base.NewCommand(log, ui)

	Commands = map[string]cli.CommandFactory{
		"list": func() (cli.Command, error) {
			return &list.Command{Command: b}, nil
		},
		"migrate": func() (cli.Command, error) {
			return &migrate.Command{Command: b}, nil
		},
		"version": func() (cli.Command, error) {
			return &version.Command{Command: b}, nil
		},
	}
}
