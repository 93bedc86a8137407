package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// stagingPrefix marks in-flight uploads. Sanitized names never start with a
// dot, so staging files cannot collide with stored ones.
const stagingPrefix = ".upload-"

// LocalStore keeps files in a single directory. The afero filesystem it is
// given is treated as rooted at that directory.
type LocalStore struct {
	fs     afero.Fs
	logger *slog.Logger
}

// NewLocalStore wraps an afero filesystem whose root is the upload directory.
func NewLocalStore(fsys afero.Fs, logger *slog.Logger) *LocalStore {
	return &LocalStore{
		fs:     fsys,
		logger: logger.With("component", "local_store"),
	}
}

// OpenLocalStore creates dir if needed and returns a store confined to it.
func OpenLocalStore(dir string, logger *slog.Logger) (*LocalStore, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	logger.Info("using local upload directory", "dir", dir)
	return NewLocalStore(afero.NewBasePathFs(osFs, dir), logger), nil
}

// List returns the directory entries in the order the filesystem yields them.
func (s *LocalStore) List(_ context.Context) ([]string, error) {
	dir, err := s.fs.Open("/")
	if err != nil {
		return nil, fmt.Errorf("open upload dir: %w", err)
	}
	defer func() { _ = dir.Close() }()

	names, err := dir.Readdirnames(-1)
	if err != nil {
		return nil, fmt.Errorf("read upload dir: %w", err)
	}

	out := names[:0]
	for _, name := range names {
		if strings.HasPrefix(name, stagingPrefix) {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

// Put streams r into a staging file and renames it over name, so readers see
// either the previous file or the complete new one.
func (s *LocalStore) Put(ctx context.Context, name string, r io.Reader) (int64, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}

	staging := "/" + stagingPrefix + uuid.NewString()
	f, err := s.fs.OpenFile(staging, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create staging file: %w", err)
	}

	n, copyErr := io.Copy(f, contextReader{ctx: ctx, r: r})
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		if rmErr := s.fs.Remove(staging); rmErr != nil {
			s.logger.Warn("removing staging file", "path", staging, "err", rmErr)
		}
		return n, fmt.Errorf("write %s: %w", name, err)
	}

	if err := s.fs.Rename(staging, s.path(name)); err != nil {
		_ = s.fs.Remove(staging)
		return n, fmt.Errorf("commit %s: %w", name, err)
	}
	return n, nil
}

// Get opens name for reading. Directories are reported as not found.
func (s *LocalStore) Get(_ context.Context, name string) (*Object, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	p := s.path(name)
	info, err := s.fs.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	f, err := s.fs.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	return &Object{
		Name:    name,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Body:    f,
	}, nil
}

// Delete removes name. A missing file yields ErrNotFound.
func (s *LocalStore) Delete(_ context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	p := s.path(name)
	info, err := s.fs.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("stat %s: %w", name, err)
	}
	if info.IsDir() {
		return ErrNotFound
	}

	if err := s.fs.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

func (s *LocalStore) path(name string) string {
	return path.Join("/", name)
}
