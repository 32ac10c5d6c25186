package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultMaxFileSize bounds a single stored attachment.
const DefaultMaxFileSize = 64 * 1024 * 1024

// Errors returned by FileStore.
var (
	ErrEmptyData   = errors.New("media data is empty")
	ErrTooLarge    = errors.New("media exceeds maximum size")
	ErrInvalidName = errors.New("invalid storage name")
	ErrNoBaseDir   = errors.New("media base directory not set")
)

// Opts holds configuration options for FileStore.
type Opts struct {
	BaseDir     string
	MaxFileSize int64
}

// Option defines a configuration option for FileStore.
type Option func(*Opts)

// WithBaseDir sets the root directory for stored attachments.
func WithBaseDir(dir string) Option {
	return func(o *Opts) {
		o.BaseDir = dir
	}
}

// WithMaxFileSize sets the maximum accepted attachment size in bytes.
func WithMaxFileSize(n int64) Option {
	return func(o *Opts) {
		o.MaxFileSize = n
	}
}

// FileStore writes attachments below BaseDir, one sub-directory per month.
type FileStore struct {
	baseDir string
	maxSize int64
}

// NewFileStore creates the base directory and returns a FileStore.
func NewFileStore(opts ...Option) (*FileStore, error) {
	cfg := Opts{MaxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseDir == "" {
		return nil, ErrNoBaseDir
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	slog.Debug("Media FileStore initialized", "base_dir", cfg.BaseDir, "max_size", cfg.MaxFileSize)
	return &FileStore{baseDir: cfg.BaseDir, maxSize: cfg.MaxFileSize}, nil
}

// Save writes data under name and returns the stored path. The file is
// written to a temporary name first and renamed into place.
func (s *FileStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", ErrEmptyData
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	// Names start with a yyyymm timestamp; group by month.
	dir := s.baseDir
	if len(name) >= 6 {
		dir = filepath.Join(s.baseDir, name[:6])
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}

	final := filepath.Join(dir, name)
	tmp := filepath.Join(dir, ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write media file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to move media file into place: %w", err)
	}
	slog.Debug("FileStore Save succeeded", "path", final, "size", len(data))
	return final, nil
}
