// Package audit keeps a copy of every template's original content before it
// is rewritten, so a migration can be inspected or reverted by hand.
package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
)

// Sink types.
const (
	TypeNone = "none"
	TypeFS   = "fs"
	TypeS3   = "s3"
)

// originalSuffix is appended to the template name to form the stored name.
const originalSuffix = ".original.docx"

// Sink receives original template content.
type Sink interface {
	// StoreOriginal stores content under a name derived from the template
	// name and returns where it was stored.
	StoreOriginal(ctx context.Context, name string, content []byte) (string, error)
}

// Config configures the audit sink.
type Config struct {
	Type      string    `hcl:"type,optional"`      // "none" (default), "fs" or "s3"
	Directory string    `hcl:"directory,optional"` // Target directory for "fs" (default: "originals")
	S3        *S3Config `hcl:"s3,block"`
}

// Validate validates the audit configuration.
func (c *Config) Validate() error {
	switch c.Type {
	case "", TypeNone, TypeFS:
		return nil
	case TypeS3:
		if c.S3 == nil {
			return fmt.Errorf("s3 block is required when type is %q", TypeS3)
		}
		return c.S3.Validate()
	default:
		return fmt.Errorf("invalid audit type: %s (must be one of: none, fs, s3)", c.Type)
	}
}

// SetDefaults sets default values for optional configuration fields.
func (c *Config) SetDefaults() {
	if c.Type == "" {
		c.Type = TypeNone
	}
	if c.Directory == "" {
		c.Directory = "originals"
	}
	if c.S3 != nil {
		c.S3.SetDefaults()
	}
}

// New builds the sink selected by cfg. Filesystem sinks write to fs.
func New(cfg *Config, fs afero.Fs, logger hclog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audit configuration: %w", err)
	}
	cfg.SetDefaults()

	switch cfg.Type {
	case TypeFS:
		return NewFSSink(fs, cfg.Directory, logger), nil
	case TypeS3:
		return NewS3SinkFromConfig(cfg.S3, logger)
	default:
		return Discard{}, nil
	}
}

// Discard is a Sink that stores nothing.
type Discard struct{}

// StoreOriginal implements Sink.
func (Discard) StoreOriginal(ctx context.Context, name string, content []byte) (string, error) {
	return "", ctx.Err()
}

// objectName returns the stored name for a template name.
func objectName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, " ", "-")
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "",
		"<", "-",
		">", "-",
		"|", "-",
	)
	name = replacer.Replace(name)
	if name == "" || name == "." || name == ".." {
		name = "unnamed"
	}
	return name + originalSuffix
}
