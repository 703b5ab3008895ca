// Package render turns generation data bundles into markup. Templates are
// embedded; a directory of same-named files can override any of them.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dreamware/boardcache/internal/storage"
)

// Template names.
const (
	FrontPage   = "frontPage"
	BoardsIndex = "boardsIndex"
	BoardPage   = "boardPage"
	Thread      = "thread"
	Catalog     = "catalog"
	NotFound    = "notFound"
	Login       = "login"
	Maintenance = "maintenance"
	Multiboard  = "multiboard"
)

//go:embed templates/*.html
var defaults embed.FS

// Renderer renders a named template. Implementations must be pure: the same
// name and data always produce the same bytes.
type Renderer interface {
	Render(name string, data any) ([]byte, error)
}

// FrontPageData lists every board.
type FrontPageData struct {
	Language string
	Boards   []storage.Board
}

// BoardPageData is one page of a board's thread list.
type BoardPageData struct {
	Language  string
	Board     storage.Board
	Page      int
	PageCount int
	Threads   []ThreadSummary
}

// Pages returns 1..PageCount for pagination links.
func (d BoardPageData) Pages() []int {
	pages := make([]int, d.PageCount)
	for i := range pages {
		pages[i] = i + 1
	}
	return pages
}

// ThreadSummary is a thread shown on a board page with its preview replies.
type ThreadSummary struct {
	Thread   storage.Thread
	Previews []storage.Post
}

// Omitted returns how many replies the preview doesn't show.
func (s ThreadSummary) Omitted() int {
	if n := s.Thread.PostCount - len(s.Previews); n > 0 {
		return n
	}
	return 0
}

// ThreadData is a full thread.
type ThreadData struct {
	Language string
	Board    storage.Board
	Thread   storage.Thread
	Posts    []storage.Post
}

// CatalogData is the catalog grid of a board.
type CatalogData struct {
	Language string
	Board    storage.Board
	Threads  []storage.Thread
}

// MultiboardData is the aggregate view of several boards.
type MultiboardData struct {
	Language string
	Boards   []string
	Threads  []storage.Thread
}

// PageData is used by the stateless pages (notFound, login, maintenance).
type PageData struct {
	Language string
	Title    string
}

// TemplateRenderer renders html/template templates.
type TemplateRenderer struct {
	tmpl *template.Template
}

var _ Renderer = (*TemplateRenderer)(nil)

var funcs = template.FuncMap{
	"comma": func(n int) string { return humanize.Comma(int64(n)) },
	"date": func(t time.Time) string {
		return t.UTC().Format("2006-01-02 15:04:05")
	},
}

// New parses the embedded templates, then every *.html file in overrideDir
// (if not empty) on top of them.
func New(overrideDir string) (*TemplateRenderer, error) {
	tmpl, err := template.New("").Funcs(funcs).ParseFS(defaults, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if overrideDir != "" {
		matches, err := filepath.Glob(filepath.Join(overrideDir, "*.html"))
		if err != nil {
			return nil, fmt.Errorf("list template overrides: %w", err)
		}
		for _, name := range matches {
			b, err := os.ReadFile(name)
			if err != nil {
				return nil, fmt.Errorf("read template override: %w", err)
			}
			if _, err := tmpl.New(filepath.Base(name)).Parse(string(b)); err != nil {
				return nil, fmt.Errorf("parse %s: %w", name, err)
			}
		}
	}
	return &TemplateRenderer{tmpl: tmpl}, nil
}

// Render executes the template name with data.
func (r *TemplateRenderer) Render(name string, data any) ([]byte, error) {
	t := r.tmpl.Lookup(name + ".html")
	if t == nil {
		return nil, fmt.Errorf("unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
