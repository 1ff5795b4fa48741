package migration

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
)

// defaultScratchDir is used when no scratch directory is configured.
const defaultScratchDir = "dtmigrate-scratch"

// Scratch hands out private package buffers to workers.
type Scratch struct {
	fs  afero.Fs
	dir string
}

// NewScratch creates scratch space in dir on fs. A nil fs keeps buffers in
// memory.
func NewScratch(fs afero.Fs, dir string) *Scratch {
	if fs == nil {
		fs = afero.NewMemMapFs()
	}
	if dir == "" {
		dir = defaultScratchDir
	}
	return &Scratch{fs: fs, dir: dir}
}

// Acquire creates a buffer holding content. The caller must Release it.
func (s *Scratch) Acquire(name string, content []byte) (*Buffer, error) {
	if err := s.fs.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory %s: %w", s.dir, err)
	}

	f, err := afero.TempFile(s.fs, s.dir, bufferPrefix(name)+"-*.docx")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch buffer: %w", err)
	}
	path := f.Name()
	_, err = f.Write(content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(path)
		return nil, fmt.Errorf("failed to fill scratch buffer: %w", err)
	}
	return &Buffer{fs: s.fs, path: path}, nil
}

// Pending returns the number of buffers that have not been released.
func (s *Scratch) Pending() (int, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Buffer is a scratch file owned by a single worker.
type Buffer struct {
	fs   afero.Fs
	path string
}

// Path returns the buffer's file path on the scratch filesystem.
func (b *Buffer) Path() string {
	return b.path
}

// Bytes returns the buffer's content.
func (b *Buffer) Bytes() ([]byte, error) {
	return afero.ReadFile(b.fs, b.path)
}

// Replace overwrites the buffer's content.
func (b *Buffer) Replace(content []byte) error {
	return afero.WriteFile(b.fs, b.path, content, 0o600)
}

// Release deletes the buffer. Releasing twice is not an error.
func (b *Buffer) Release() error {
	if err := b.fs.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func bufferPrefix(name string) string {
	prefix := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if len(prefix) > 40 {
		prefix = prefix[:40]
	}
	if prefix == "" {
		prefix = "template"
	}
	return prefix
}
