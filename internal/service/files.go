package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"strings"

	"fileshare/internal/config"
	"fileshare/internal/metrics"
	"fileshare/internal/storage"
)

var (
	// ErrEmptyName is returned when a name sanitizes to nothing.
	ErrEmptyName = errors.New("file name is empty after sanitization")
	// ErrExtensionNotAllowed is returned when extension validation rejects an upload.
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
	// ErrTooLarge is returned when an upload exceeds storage.max_upload_bytes.
	ErrTooLarge = errors.New("file exceeds upload size limit")
)

// fallbackContentType is served when the extension maps to no known type.
const fallbackContentType = "application/octet-stream"

// knownContentTypes pins the allow-listed extensions so responses do not
// depend on the host's mime.types file.
var knownContentTypes = map[string]string{
	".txt": "text/plain; charset=utf-8",
	".jpg": "image/jpeg",
	".png": "image/png",
	".pdf": "application/pdf",
	".zip": "application/zip",
	".mp4": "video/mp4",
	".mp3": "audio/mpeg",
}

// FileService is the storage gateway: it sanitizes names, enforces the
// upload policy and delegates to a Store.
type FileService struct {
	store     storage.Store
	validate  bool
	allowed   map[string]bool
	maxUpload int64
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewFileService creates a FileService. The metrics parameter is optional.
func NewFileService(store storage.Store, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *FileService {
	allowed := make(map[string]bool, len(cfg.Storage.AllowedExtensions))
	for _, ext := range cfg.Storage.AllowedExtensions {
		allowed[strings.ToLower(ext)] = true
	}

	return &FileService{
		store:     store,
		validate:  cfg.Storage.ExtensionsValidated(),
		allowed:   allowed,
		maxUpload: cfg.Storage.MaxUploadBytes,
		logger:    logger.With("component", "file_service"),
		metrics:   m,
	}
}

// List returns the stored file names.
func (s *FileService) List(ctx context.Context) ([]string, error) {
	names, err := s.store.List(ctx)
	s.observe("list", err)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return names, nil
}

// Upload stores r under the sanitized form of rawName and returns that name.
// An existing file with the same name is replaced.
func (s *FileService) Upload(ctx context.Context, rawName string, r io.Reader) (string, error) {
	name := storage.SanitizeName(rawName)
	if name == "" {
		s.observe("upload", ErrEmptyName)
		return "", ErrEmptyName
	}
	if s.validate && !s.allowed[extension(name)] {
		s.observe("upload", ErrExtensionNotAllowed)
		return "", fmt.Errorf("%w: %q", ErrExtensionNotAllowed, name)
	}

	if s.maxUpload > 0 {
		r = &limitedReader{r: r, n: s.maxUpload}
	}

	n, err := s.store.Put(ctx, name, r)
	s.observe("upload", err)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return "", ErrTooLarge
		}
		return "", fmt.Errorf("store %s: %w", name, err)
	}

	s.logger.Info("file stored", "name", name, "bytes", n)
	return name, nil
}

// Retrieve opens the sanitized name and reports its content type. The caller
// must close the object body.
func (s *FileService) Retrieve(ctx context.Context, rawName string) (*storage.Object, string, error) {
	name := storage.SanitizeName(rawName)
	if name == "" {
		s.observe("retrieve", storage.ErrNotFound)
		return nil, "", storage.ErrNotFound
	}

	obj, err := s.store.Get(ctx, name)
	s.observe("retrieve", err)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", storage.ErrNotFound
		}
		return nil, "", fmt.Errorf("open %s: %w", name, err)
	}
	return obj, ContentType(name), nil
}

// Delete removes the sanitized name. Deleting an absent file yields
// storage.ErrNotFound, every time.
func (s *FileService) Delete(ctx context.Context, rawName string) error {
	name := storage.SanitizeName(rawName)
	if name == "" {
		s.observe("delete", storage.ErrNotFound)
		return storage.ErrNotFound
	}

	err := s.store.Delete(ctx, name)
	s.observe("delete", err)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("delete %s: %w", name, err)
	}

	s.logger.Info("file deleted", "name", name)
	return nil
}

// ContentType infers a MIME type from the name's extension.
func ContentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return fallbackContentType
	}
	if ct, ok := knownContentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return fallbackContentType
}

func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

func (s *FileService) observe(op string, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		result = "not_found"
	case errors.Is(err, ErrEmptyName), errors.Is(err, ErrExtensionNotAllowed), errors.Is(err, storage.ErrInvalidName):
		result = "rejected"
	case errors.Is(err, ErrTooLarge):
		result = "too_large"
	default:
		result = "error"
	}
	s.metrics.StorageOperations.WithLabelValues(op, result).Inc()
}

// limitedReader fails with ErrTooLarge once more than n bytes are read.
// Unlike io.LimitReader it distinguishes "exactly n" from "more than n".
type limitedReader struct {
	r io.Reader
	n int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.n <= 0 {
		var probe [1]byte
		k, err := l.r.Read(probe[:])
		if k > 0 {
			return 0, ErrTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > l.n {
		p = p[:l.n]
	}
	k, err := l.r.Read(p)
	l.n -= int64(k)
	return k, err
}
