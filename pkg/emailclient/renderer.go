package emailclient

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"sort"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

const layoutFile = "templates/layout.html"

// ErrUnknownTemplate is returned by Render for names with no template file.
var ErrUnknownTemplate = errors.New("emailclient: unknown template")

// Renderer renders the embedded HTML templates, each wrapped in the shared layout.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer parses every embedded template. It fails on the first parse error.
func NewRenderer() (*Renderer, error) {
	entries, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	r := &Renderer{templates: make(map[string]*template.Template, len(entries))}
	for _, entry := range entries {
		if entry == layoutFile {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(entry, "templates/"), ".html")
		tmpl, err := template.New(name).ParseFS(templateFS, layoutFile, entry)
		if err != nil {
			return nil, fmt.Errorf("parse email template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// Has reports whether a template with this name is embedded.
func (r *Renderer) Has(name string) bool {
	_, ok := r.templates[name]
	return ok
}

// Names lists the embedded templates in sorted order.
func (r *Renderer) Names() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the named template with data and returns the HTML body.
func (r *Renderer) Render(name string, data map[string]any) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	if data == nil {
		data = map[string]any{}
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("render email template %s: %w", name, err)
	}
	return buf.String(), nil
}
