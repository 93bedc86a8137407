package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"fileshare/internal/service"
	"fileshare/internal/storage"
)

// uploadField is the multipart field carrying the uploaded file.
const uploadField = "file"

// FileHandler serves the listing, download, upload and delete routes.
type FileHandler struct {
	files  *service.FileService
	logger *slog.Logger
}

// NewFileHandler creates a FileHandler.
func NewFileHandler(files *service.FileService, logger *slog.Logger) *FileHandler {
	return &FileHandler{
		files:  files,
		logger: logger.With("component", "file_handler"),
	}
}

type indexPage struct {
	Files []string
}

type deleteRequest struct {
	Filename string `json:"filename" form:"filename"`
}

// Index renders the file listing. Clients asking for JSON get {"files": [...]}.
func (h *FileHandler) Index(c echo.Context) error {
	names, err := h.files.List(c.Request().Context())
	if err != nil {
		h.logger.Error("listing files", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Could not list files",
		})
	}
	if names == nil {
		names = []string{}
	}

	if wantsJSON(c.Request()) {
		return c.JSON(http.StatusOK, map[string][]string{"files": names})
	}
	return c.Render(http.StatusOK, indexTemplate, indexPage{Files: names})
}

// Serve writes a stored file with a content type derived from its name.
func (h *FileHandler) Serve(c echo.Context) error {
	name := c.Param("filename")
	if c.Request().URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
	}

	obj, contentType, err := h.files.Retrieve(c.Request().Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "File not found"})
		}
		h.logger.Error("opening file", "name", name, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not read file"})
	}
	defer func() { _ = obj.Body.Close() }()

	c.Response().Header().Set(echo.HeaderContentType, contentType)

	if rs, ok := obj.Body.(io.ReadSeeker); ok {
		http.ServeContent(c.Response(), c.Request(), obj.Name, obj.ModTime, rs)
		return nil
	}

	if obj.Size >= 0 {
		c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(obj.Size, 10))
	}
	return c.Stream(http.StatusOK, contentType, obj.Body)
}

// Upload stores the multipart "file" field and redirects back to the listing.
// Requests without a usable file are redirected too.
func (h *FileHandler) Upload(c echo.Context) error {
	fh, err := c.FormFile(uploadField)
	if err != nil {
		if isTooLarge(err) {
			return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "File too large"})
		}
		h.logger.Debug("upload without file", "err", err)
		return c.Redirect(http.StatusFound, "/")
	}
	if fh.Filename == "" {
		return c.Redirect(http.StatusFound, "/")
	}

	f, err := fh.Open()
	if err != nil {
		h.logger.Error("opening multipart file", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not read upload"})
	}
	defer func() { _ = f.Close() }()

	name, err := h.files.Upload(c.Request().Context(), fh.Filename, f)
	switch {
	case err == nil:
		h.logger.Info("upload complete", "name", name, "size", fh.Size)
	case errors.Is(err, service.ErrEmptyName), errors.Is(err, service.ErrExtensionNotAllowed):
		h.logger.Info("upload rejected", "filename", fh.Filename, "err", err)
	case errors.Is(err, service.ErrTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "File too large"})
	default:
		h.logger.Error("storing upload", "filename", fh.Filename, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not store file"})
	}

	return c.Redirect(http.StatusFound, "/")
}

// Delete removes the file named by the JSON body {"filename": "..."}.
func (h *FileHandler) Delete(c echo.Context) error {
	var body deleteRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
	}
	if body.Filename == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No filename provided"})
	}

	err := h.files.Delete(c.Request().Context(), body.Filename)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "File not found"})
		}
		h.logger.Error("deleting file", "filename", body.Filename, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not delete file"})
	}

	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON)
}

func isTooLarge(err error) bool {
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
		return true
	}
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
