package cmd

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp-forge/dtmigrate/internal/version"
)

func TestCommandsAreRegistered(t *testing.T) {
	initCommands(hclog.NewNullLogger(), cli.NewMockUi())

	for _, name := range []string{"list", "migrate", "version"} {
		factory, ok := Commands[name]
		require.True(t, ok, name)
		c, err := factory()
		require.NoError(t, err)
		assert.NotEmpty(t, c.Synopsis(), name)
		assert.Contains(t, c.Help(), "Usage: dtmigrate "+name)
	}
}

func TestVersionCommand(t *testing.T) {
	ui := cli.NewMockUi()
	initCommands(hclog.NewNullLogger(), ui)

	c, err := Commands["version"]()
	require.NoError(t, err)
	assert.Equal(t, 0, c.Run(nil))
	assert.Equal(t, version.String()+"\n", ui.OutputWriter.String())
}
