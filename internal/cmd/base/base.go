// Package base contains the pieces shared by every dtmigrate command.
package base

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/hashicorp-forge/dtmigrate/internal/config"
	"github.com/hashicorp-forge/dtmigrate/pkg/crm"
	"github.com/hashicorp-forge/dtmigrate/pkg/crm/webapi"
)

// Command is embedded by every command.
type Command struct {
	Log hclog.Logger
	UI  cli.Ui

	// OpenStores connects to the source and destination stores. It defaults
	// to Web API clients built from the configuration.
	OpenStores func(cfg *config.Config, log hclog.Logger) (source, destination crm.Store, err error)
}

// NewCommand returns a Command writing to ui and logging to log.
func NewCommand(log hclog.Logger, ui cli.Ui) *Command {
	return &Command{
		Log:        log,
		UI:         ui,
		OpenStores: OpenWebAPIStores,
	}
}

// LoadConfig reads the configuration file and applies its log level unless
// logLevel overrides it.
func (c *Command) LoadConfig(path, logLevel string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config flag is required")
	}
	cfg, err := config.NewConfig(path)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	l := hclog.LevelFromString(level)
	if l == hclog.NoLevel {
		return nil, fmt.Errorf("invalid log level: %s", level)
	}
	c.Log.SetLevel(l)
	return cfg, nil
}

// Stores connects to the configured stores.
func (c *Command) Stores(cfg *config.Config) (crm.Store, crm.Store, error) {
	open := c.OpenStores
	if open == nil {
		open = OpenWebAPIStores
	}
	return open(cfg, c.Log)
}

// OpenWebAPIStores creates Web API clients for the source and destination.
func OpenWebAPIStores(cfg *config.Config, log hclog.Logger) (crm.Store, crm.Store, error) {
	source, err := webapi.New("source", cfg.Source, log)
	if err != nil {
		return nil, nil, fmt.Errorf("error connecting to source: %w", err)
	}
	dest, err := webapi.New("destination", cfg.Destination, log)
	if err != nil {
		return nil, nil, fmt.Errorf("error connecting to destination: %w", err)
	}
	return source, dest, nil
}
