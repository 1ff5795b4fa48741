// Package config loads the dtmigrate HCL configuration file.
package config

import (
	"fmt"
	"os"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"

	"github.com/hashicorp-forge/dtmigrate/pkg/audit"
	"github.com/hashicorp-forge/dtmigrate/pkg/crm/webapi"
	"github.com/hashicorp-forge/dtmigrate/pkg/database"
	"github.com/hashicorp-forge/dtmigrate/pkg/migration"
)

// Config contains the dtmigrate configuration.
type Config struct {
	// LogLevel is the level of the root logger: trace, debug, info, warn or
	// error (default: info).
	LogLevel string `hcl:"log_level,optional"`

	// Source is the instance templates are read from.
	Source *webapi.Config `hcl:"source,block"`

	// Destination is the instance templates are written to.
	Destination *webapi.Config `hcl:"destination,block"`

	// Migration configures the migration run.
	Migration *Migration `hcl:"migration,block"`

	// Audit configures where original template content is kept.
	Audit *audit.Config `hcl:"audit,block"`

	// Ledger configures the database runs and outcomes are recorded in. No
	// ledger is kept when the block is absent.
	Ledger *database.Config `hcl:"ledger,block"`
}

// Migration configures the migration run.
type Migration struct {
	Concurrency int    `hcl:"concurrency,optional"` // Templates migrated at the same time (default: 5)
	ScratchDir  string `hcl:"scratch_dir,optional"` // Directory for scratch buffers; in memory when empty
}

// Validate validates the migration configuration.
func (m *Migration) Validate() error {
	return validation.ValidateStruct(m,
		validation.Field(&m.Concurrency, validation.Min(0)),
	)
}

var logLevels = []any{"trace", "debug", "info", "warn", "error"}

// envFunc returns the value of an environment variable, or an empty string
// when it is unset.
var envFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "name", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		return cty.StringVal(os.Getenv(args[0].AsString())), nil
	},
})

func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Functions: map[string]function.Function{
			"env": envFunc,
		},
	}
}

// NewConfig parses, defaults and validates the configuration file at
// filename.
func NewConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("configuration file path is required")
	}
	src, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", filename)
		}
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}
	return Parse(filename, src)
}

// Parse decodes configuration from src. The filename selects the syntax
// (".hcl" or ".json") and is used in diagnostics.
func Parse(filename string, src []byte) (*Config, error) {
	cfg := &Config{}
	if err := hclsimple.Decode(filename, src, evalContext(), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	if c.Source != nil {
		c.Source.SetDefaults()
	}
	if c.Destination != nil {
		c.Destination.SetDefaults()
	}

	if c.Migration == nil {
		c.Migration = &Migration{}
	}
	if c.Migration.Concurrency == 0 {
		c.Migration.Concurrency = migration.DefaultConcurrency
	}

	if c.Audit == nil {
		c.Audit = &audit.Config{}
	}
	c.Audit.SetDefaults()

	if c.Ledger != nil {
		c.Ledger.SetDefaults()
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.LogLevel, validation.In(logLevels...)),
		validation.Field(&c.Source, validation.Required),
		validation.Field(&c.Destination, validation.Required, validation.By(c.distinctFromSource)),
		validation.Field(&c.Migration),
		validation.Field(&c.Audit),
		validation.Field(&c.Ledger),
	)
}

func (c *Config) distinctFromSource(value any) error {
	dest, _ := value.(*webapi.Config)
	if dest == nil || c.Source == nil {
		return nil
	}
	if strings.EqualFold(strings.TrimRight(dest.URL, "/"), strings.TrimRight(c.Source.URL, "/")) {
		return fmt.Errorf("must not be the same instance as source")
	}
	return nil
}
