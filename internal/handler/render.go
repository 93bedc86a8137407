package handler

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"os"

	"github.com/labstack/echo/v4"

	"fileshare/internal/config"
)

const indexTemplate = "index.html"

//go:embed templates/index.html
var templateFS embed.FS

// TemplateRenderer implements echo.Renderer over html/template.
type TemplateRenderer struct {
	templates *template.Template
}

// NewTemplateRenderer loads the listing page. server.template_path replaces
// the embedded page when set.
func NewTemplateRenderer(cfg *config.Config) (*TemplateRenderer, error) {
	var (
		src []byte
		err error
	)
	if cfg.Server.TemplatePath != "" {
		src, err = os.ReadFile(cfg.Server.TemplatePath)
	} else {
		src, err = templateFS.ReadFile("templates/" + indexTemplate)
	}
	if err != nil {
		return nil, fmt.Errorf("read listing template: %w", err)
	}

	t, err := template.New(indexTemplate).Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parse listing template: %w", err)
	}
	return &TemplateRenderer{templates: t}, nil
}

// Render executes the named template with data.
func (r *TemplateRenderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	return r.templates.ExecuteTemplate(w, name, data)
}
