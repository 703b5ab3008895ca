// Package router classifies request paths and dispatches them to API
// handlers, form handlers, multiboard aggregation or the artifact server.
package router

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/boardcache/internal/artifact"
	"github.com/dreamware/boardcache/internal/cluster"
	"github.com/dreamware/boardcache/internal/negotiate"
	"github.com/dreamware/boardcache/internal/storage"
)

const (
	APIPrefix = "/.api/"

	indexSuffix      = "index.html"
	jsonSuffix       = "1.json"
	maintenanceImage = artifact.StaticPrefix + "maintenance.png"
)

// formImages are form paths answered with an image during maintenance.
var formImages = []string{"/captcha.js", "/randomBanner.js"}

var wordOnly = regexp.MustCompile(`^\w+$`)

// Boards reports which board URIs exist.
type Boards interface {
	ExistingBoards(ctx context.Context, uris []string) ([]string, error)
}

// Multiboard renders aggregate views on demand.
type Multiboard interface {
	Multiboard(ctx context.Context, boards []string, language string) ([]byte, error)
	MultiboardThreads(ctx context.Context, boards []string) ([]storage.Thread, error)
}

// Artifacts serves stored artifacts.
type Artifacts interface {
	Serve(w http.ResponseWriter, r *http.Request, path string)
	NotFound(w http.ResponseWriter, r *http.Request)
}

// Options configures routing switches.
type Options struct {
	Maintenance bool
	Multiboard  bool
	Verbose     bool
	Logger      *log.Logger
}

// Router is the http.Handler behind the topology guard and the negotiator.
type Router struct {
	boards    Boards
	multi     Multiboard
	artifacts Artifacts
	opts      Options
	log       *log.Logger

	mu    sync.RWMutex
	apis  map[string]http.Handler
	forms map[string]http.Handler
}

// New creates a Router. multi may be nil when multiboard is disabled.
func New(boards Boards, multi Multiboard, artifacts Artifacts, opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if multi == nil {
		opts.Multiboard = false
	}
	return &Router{
		boards:    boards,
		multi:     multi,
		artifacts: artifacts,
		opts:      opts,
		log:       logger,
		apis:      make(map[string]http.Handler),
		forms:     make(map[string]http.Handler),
	}
}

// HandleAPI registers h for /.api/<name>. A trailing ".js" on the request
// is ignored when matching.
func (rt *Router) HandleAPI(name string, h http.Handler) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.apis[name] = h
}

// HandleForm registers h for /<name>.js.
func (rt *Router) HandleForm(name string, h http.Handler) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.forms[name] = h
}

// CleanPath strips a trailing "index.html" from p.
func CleanPath(p string) string {
	if len(p) <= len(indexSuffix) || !strings.HasSuffix(p, indexSuffix) {
		return p
	}
	return strings.TrimSuffix(p, indexSuffix)
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case strings.HasPrefix(path, APIPrefix):
		rt.serveAPI(w, r, strings.TrimPrefix(path, APIPrefix))
		return
	case strings.HasPrefix(path, artifact.StaticPrefix):
		rt.artifacts.Serve(w, r, path)
		return
	}

	path = CleanPath(path)
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		rt.artifacts.Serve(w, r, path)
		return
	}

	if isFormScript(parts[1]) {
		rt.serveForm(w, r, path, strings.TrimSuffix(parts[1], ".js"))
		return
	}

	if rt.serveMultiboard(w, r, parts) {
		return
	}

	if len(parts) == 2 && wordOnly.MatchString(parts[1]) {
		http.Redirect(w, r, "/"+parts[1]+"/", http.StatusFound)
		return
	}

	rt.artifacts.Serve(w, r, path)
}

func isFormScript(first string) bool {
	return len(first) >= 4 && strings.HasSuffix(first, ".js")
}

func fromSlave(r *http.Request) bool {
	d, _ := cluster.DecisionFrom(r.Context())
	return d.FromSlave
}

func (rt *Router) serveAPI(w http.ResponseWriter, r *http.Request, name string) {
	name = strings.TrimSuffix(name, ".js")
	if rt.opts.Verbose {
		rt.log.Printf("processing api request name=%s", name)
	}

	if rt.opts.Maintenance && !fromSlave(r) {
		WriteStatus(w, "maintenance", nil)
		return
	}

	rt.mu.RLock()
	h, ok := rt.apis[name]
	rt.mu.RUnlock()
	if !ok {
		WriteStatus(w, "notFound", nil)
		return
	}
	h.ServeHTTP(w, r)
}

func (rt *Router) serveForm(w http.ResponseWriter, r *http.Request, path, name string) {
	if rt.opts.Verbose {
		rt.log.Printf("processing form request path=%s", path)
	}

	if rt.opts.Maintenance && !fromSlave(r) {
		location := "/maintenance.html"
		if slices.Contains(formImages, path) {
			location = maintenanceImage
		}
		http.Redirect(w, r, location, http.StatusFound)
		return
	}

	rt.mu.RLock()
	h, ok := rt.forms[name]
	rt.mu.RUnlock()
	if !ok {
		rt.artifacts.NotFound(w, r)
		return
	}
	h.ServeHTTP(w, r)
}

// MultiboardTokens extracts the board list of a multiboard path split on
// "/". It returns nil unless the second segment holds at least two
// non-empty word-only tokens joined by "+".
func MultiboardTokens(parts []string) []string {
	if len(parts) < 2 {
		return nil
	}
	tokens := strings.Split(parts[1], "+")
	if len(tokens) < 2 {
		return nil
	}
	for _, t := range tokens {
		if !wordOnly.MatchString(t) {
			return nil
		}
	}
	return tokens
}

// serveMultiboard answers multiboard paths. It returns false when the path
// isn't one and routing should continue.
func (rt *Router) serveMultiboard(w http.ResponseWriter, r *http.Request, parts []string) bool {
	if !rt.opts.Multiboard || len(parts) > 3 {
		return false
	}
	if len(parts) == 3 && parts[2] != "" && parts[2] != jsonSuffix {
		return false
	}

	requested := MultiboardTokens(parts)
	if requested == nil {
		return false
	}

	found, err := rt.boards.ExistingBoards(r.Context(), requested)
	if err != nil {
		rt.log.Printf("multiboard lookup failed boards=%v err=%v", requested, err)
		return false
	}
	if len(found) == 0 {
		return false
	}
	slices.Sort(found)

	if !slices.Equal(found, requested) || len(parts) == 2 {
		canonical := []string{"", strings.Join(found, "+")}
		if len(parts) == 3 {
			canonical = append(canonical, parts[2])
		} else {
			canonical = append(canonical, "")
		}
		http.Redirect(w, r, strings.Join(canonical, "/"), http.StatusFound)
		return true
	}

	if parts[2] == jsonSuffix {
		rt.multiboardJSON(w, r, found)
	} else {
		rt.multiboardPage(w, r, found)
	}
	return true
}

func (rt *Router) multiboardPage(w http.ResponseWriter, r *http.Request, boards []string) {
	var language string
	if lang, ok := negotiate.Language(r.Context()); ok {
		language = lang.Code
	}

	content, err := rt.multi.Multiboard(r.Context(), boards, language)
	if err != nil {
		rt.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(content)
}

func (rt *Router) multiboardJSON(w http.ResponseWriter, r *http.Request, boards []string) {
	threads, err := rt.multi.MultiboardThreads(r.Context(), boards)
	if err != nil {
		rt.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(threads)
}

func (rt *Router) fail(w http.ResponseWriter, err error) {
	rt.log.Printf("multiboard failed: %v", err)
	msg := "500"
	if rt.opts.Verbose {
		msg += "\n" + err.Error()
	}
	http.Error(w, msg, http.StatusInternalServerError)
}

// WriteStatus writes the JSON envelope used by every /.api/ response.
func WriteStatus(w http.ResponseWriter, status string, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cluster.Envelope{Status: status, Data: data})
}

// WriteError writes an "error" envelope with the given HTTP status code.
func WriteError(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(cluster.Envelope{Status: "error", Data: data})
}
