package audit

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
)

// FSSink writes originals as files into a directory.
type FSSink struct {
	fs     afero.Fs
	dir    string
	logger hclog.Logger
}

// NewFSSink creates a sink writing into dir on fs. A nil fs means the
// operating system filesystem.
func NewFSSink(fs afero.Fs, dir string, logger hclog.Logger) *FSSink {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &FSSink{
		fs:     fs,
		dir:    dir,
		logger: logger.Named("audit-fs"),
	}
}

// StoreOriginal implements Sink.
func (s *FSSink) StoreOriginal(ctx context.Context, name string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create audit directory %s: %w", s.dir, err)
	}

	path := filepath.Join(s.dir, objectName(name))
	if err := afero.WriteFile(s.fs, path, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write original of %q: %w", name, err)
	}

	s.logger.Debug("stored original", "template", name, "path", path, "bytes", len(content))
	return path, nil
}
