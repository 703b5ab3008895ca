package artifact

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dreamware/boardcache/internal/negotiate"
)

// StaticPrefix is the request path prefix served from the static backend.
const StaticPrefix = "/.static/"

// Options controls how the Server answers.
type Options struct {
	CSP        string // Content-Security-Policy header value, omitted when empty
	Disable304 bool   // never answer 304
	NoCache    bool   // bypass the hot cache entirely
	Verbose    bool
	Logger     *log.Logger
}

// Server answers artifact requests through the hot cache.
type Server struct {
	artifacts Backend
	static    Backend
	cache     *Cache
	opts      Options
	log       *log.Logger
	now       func() time.Time
}

// NewServer creates a server reading generated artifacts from artifacts and
// files under StaticPrefix from static. static may be nil.
func NewServer(artifacts, static Backend, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		artifacts: artifacts,
		static:    static,
		cache:     NewCache(),
		opts:      opts,
		log:       logger,
		now:       time.Now,
	}
}

// Cache returns the server's hot cache.
func (s *Server) Cache() *Cache {
	return s.cache
}

// Invalidate drops path from the hot cache. Register it as a BoltStore write
// hook to keep the cache consistent with regeneration.
func (s *Server) Invalidate(path string) {
	s.cache.Delete(path)
}

// Flush empties the hot cache.
func (s *Server) Flush() {
	s.cache.Flush()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Serve(w, r, r.URL.Path)
}

// Serve answers with the artifact at path, 304 when the client copy is
// current, or the 404 artifact when nothing is stored there.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, path string) {
	if s.opts.Verbose {
		s.log.Printf("outputting artifact path=%s", path)
	}

	a, err := s.lookup(path)
	if errors.Is(err, ErrNotFound) {
		s.NotFound(w, r)
		return
	}
	if err != nil {
		s.log.Printf("artifact read failed path=%s err=%v", path, err)
		http.Error(w, "500\n", http.StatusInternalServerError)
		return
	}
	s.respond(w, r, a, http.StatusOK)
}

// NotFound answers 404 with the 404 artifact, or a bare 404 when that
// artifact hasn't been generated yet.
func (s *Server) NotFound(w http.ResponseWriter, r *http.Request) {
	a, err := s.lookup(NotFoundPath)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Printf("artifact read failed path=%s err=%v", NotFoundPath, err)
		}
		http.Error(w, "404", http.StatusNotFound)
		return
	}
	s.respond(w, r, a, http.StatusNotFound)
}

func (s *Server) lookup(path string) (Artifact, error) {
	if !s.opts.NoCache {
		if a, ok := s.cache.Get(path); ok {
			return a, nil
		}
	}

	var (
		a       Artifact
		err     error
		version uint64
	)
	if !s.opts.NoCache {
		version = s.cache.Version(path)
	}
	if strings.HasPrefix(path, StaticPrefix) {
		if s.static == nil {
			return Artifact{}, ErrNotFound
		}
		a, err = s.static.Get(strings.TrimPrefix(path, "/.static"))
	} else {
		a, err = s.artifacts.Get(path)
	}
	if err != nil {
		return Artifact{}, err
	}

	a.Path = path
	if !s.opts.NoCache && !s.cache.PutIf(a, version) && s.opts.Verbose {
		s.log.Printf("cache fill dropped path=%s", path)
	}
	return a, nil
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, a Artifact, status int) {
	lastModified := a.LastModified()
	if status == http.StatusOK && !s.opts.Disable304 && r.Header.Get("If-Modified-Since") == lastModified {
		if s.opts.Verbose {
			s.log.Printf("304 path=%s", a.Path)
		}
		w.WriteHeader(http.StatusNotModified)
		return
	}

	h := w.Header()
	contentType := a.MIME
	if contentType == "" {
		contentType = mimeFor(a.Path)
	}
	h.Set("Content-Type", contentType)
	h.Set("Last-Modified", lastModified)
	h.Set("Expires", s.now().UTC().Format(http.TimeFormat))
	if s.opts.CSP != "" {
		h.Set("Content-Security-Policy", s.opts.CSP)
	}

	body := a.Content
	if len(a.Gzip) > 0 {
		h.Add("Vary", "Accept-Encoding")
		if negotiate.Compressed(r.Context()) {
			h.Set("Content-Encoding", "gzip")
			body = a.Gzip
		}
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
