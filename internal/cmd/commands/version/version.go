package version

import (
	"github.com/hashicorp-forge/dtmigrate/internal/cmd/base"
	"github.com/hashicorp-forge/dtmigrate/internal/version"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Print the version"
}

func (c *Command) Help() string {
	return `Usage: dtmigrate version

  This command prints the version of dtmigrate.`
}

func (c *Command) Run(args []string) int {
	c.UI.Output(version.String())
	return 0
}
