// Package storage provides the backing stores for uploaded files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"fileshare/internal/config"
)

var (
	// ErrNotFound is returned when no file exists under the requested name.
	ErrNotFound = errors.New("file not found")
	// ErrInvalidName is returned for names that could escape the store's namespace.
	ErrInvalidName = errors.New("invalid file name")
)

// Object is an opened stored file. The caller must close Body.
// Body also implements io.Seeker for backends that support random access.
type Object struct {
	Name    string
	Size    int64
	ModTime time.Time
	Body    io.ReadCloser
}

// Store is a flat namespace of files addressed by sanitized name.
// Implementations perform no locking: concurrent writers of one name race and
// the last completed write wins.
type Store interface {
	// List returns the stored names in backend iteration order.
	List(ctx context.Context) ([]string, error)
	// Put writes r under name, replacing any existing file, and returns the byte count.
	Put(ctx context.Context, name string, r io.Reader) (int64, error)
	// Get opens the named file or returns ErrNotFound.
	Get(ctx context.Context, name string) (*Object, error)
	// Delete removes the named file or returns ErrNotFound.
	Delete(ctx context.Context, name string) error
}

// New builds the Store selected by storage.backend.
func New(cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendMinio:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s, err := NewMinioStore(ctx, cfg.Storage.Minio, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendLocal, "":
		s, err := OpenLocalStore(cfg.Storage.UploadDir, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
}

// contextReader fails reads once ctx is done, so an abandoned upload stops promptly.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
