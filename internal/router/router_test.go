package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"

	"github.com/dreamware/boardcache/internal/cluster"
	"github.com/dreamware/boardcache/internal/negotiate"
	"github.com/dreamware/boardcache/internal/storage"
)

type fakeBoards struct {
	existing []string
	err      error
}

func (f fakeBoards) ExistingBoards(_ context.Context, uris []string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []string
	// reverse order, callers must sort
	for i := len(uris) - 1; i >= 0; i-- {
		if slices.Contains(f.existing, uris[i]) {
			out = append(out, uris[i])
		}
	}
	return out, nil
}

type fakeMulti struct {
	boards   []string
	language string
}

func (f *fakeMulti) Multiboard(_ context.Context, boards []string, language string) ([]byte, error) {
	f.boards, f.language = boards, language
	return []byte("multi"), nil
}

func (f *fakeMulti) MultiboardThreads(_ context.Context, boards []string) ([]storage.Thread, error) {
	f.boards = boards
	return []storage.Thread{{BoardURI: boards[0], ThreadID: 1}}, nil
}

type fakeArtifacts struct {
	served   string
	notFound bool
}

func (f *fakeArtifacts) Serve(w http.ResponseWriter, _ *http.Request, path string) {
	f.served = path
	w.WriteHeader(http.StatusOK)
}

func (f *fakeArtifacts) NotFound(w http.ResponseWriter, _ *http.Request) {
	f.notFound = true
	w.WriteHeader(http.StatusNotFound)
}

func newTestRouter(opts Options, existing ...string) (*Router, *fakeArtifacts, *fakeMulti) {
	arts := &fakeArtifacts{}
	multi := &fakeMulti{}
	opts.Logger = log.New(io.Discard, "", 0)
	return New(fakeBoards{existing: existing}, multi, arts, opts), arts, multi
}

func get(rt http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestCleanPath(t *testing.T) {
	assert.Equal(t, "/", CleanPath("/index.html"))
	assert.Equal(t, "/a/", CleanPath("/a/index.html"))
	assert.Equal(t, "index.html", CleanPath("index.html"))
	assert.Equal(t, "/a/2.html", CleanPath("/a/2.html"))
}

func TestMultiboardTokens(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, MultiboardTokens([]string{"", "a+b", ""}))
	assert.Nil(t, MultiboardTokens([]string{"", "a", ""}))
	assert.Nil(t, MultiboardTokens([]string{"", "a+", ""}))
	assert.Nil(t, MultiboardTokens([]string{"", "a+b-c", ""}))
	assert.Nil(t, MultiboardTokens([]string{""}))
}

func TestMultiboardCanonicalization(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		existing []string
		location string
		served   string
		rendered []string
	}{
		{name: "reordered", path: "/b+a/", existing: []string{"a", "b"}, location: "/a+b/"},
		{name: "canonical", path: "/a+b/", existing: []string{"a", "b"}, rendered: []string{"a", "b"}},
		{name: "missing board", path: "/a+x/", existing: []string{"a", "b"}, location: "/a/"},
		{name: "no slash", path: "/a+b", existing: []string{"a", "b"}, location: "/a+b/"},
		{name: "json reordered", path: "/b+a/1.json", existing: []string{"a", "b"}, location: "/a+b/1.json"},
		{name: "none exist", path: "/x+y/", existing: []string{"a"}, served: "/x+y/"},
		{name: "other suffix", path: "/a+b/2.html", existing: []string{"a", "b"}, served: "/a+b/2.html"},
		{name: "too deep", path: "/a+b/res/1.html", existing: []string{"a", "b"}, served: "/a+b/res/1.html"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, arts, multi := newTestRouter(Options{Multiboard: true}, tt.existing...)
			w := get(rt, tt.path)

			switch {
			case tt.location != "":
				assert.Equal(t, http.StatusFound, w.Code)
				assert.Equal(t, tt.location, w.Header().Get("Location"))
			case tt.rendered != nil:
				assert.Equal(t, http.StatusOK, w.Code)
				assert.Equal(t, "multi", w.Body.String())
				assert.Equal(t, tt.rendered, multi.boards)
			default:
				assert.Equal(t, tt.served, arts.served)
			}
		})
	}
}

func TestMultiboardJSON(t *testing.T) {
	rt, _, _ := newTestRouter(Options{Multiboard: true}, "a", "b")
	w := get(rt, "/a+b/1.json")

	require.Equal(t, http.StatusOK, w.Code)
	var threads []storage.Thread
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &threads))
	require.Len(t, threads, 1)
	assert.Equal(t, "a", threads[0].BoardURI)
}

func TestMultiboardLanguage(t *testing.T) {
	rt, _, multi := newTestRouter(Options{Multiboard: true}, "a", "b")
	r := httptest.NewRequest(http.MethodGet, "/a+b/", nil)
	r = r.WithContext(negotiate.WithLanguage(r.Context(), storage.Language{Code: "fr"}))
	rt.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "fr", multi.language)
}

func TestMultiboardDisabled(t *testing.T) {
	rt, arts, _ := newTestRouter(Options{}, "a", "b")
	get(rt, "/b+a/")
	assert.Equal(t, "/b+a/", arts.served)
}

func TestMultiboardLookupErrorFallsThrough(t *testing.T) {
	arts := &fakeArtifacts{}
	rt := New(fakeBoards{err: errors.New("db down")}, &fakeMulti{}, arts,
		Options{Multiboard: true, Logger: log.New(io.Discard, "", 0)})
	get(rt, "/a+b/")
	assert.Equal(t, "/a+b/", arts.served)
}

func TestBareBoardRedirect(t *testing.T) {
	rt, arts, _ := newTestRouter(Options{})

	w := get(rt, "/a")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/a/", w.Header().Get("Location"))

	get(rt, "/a-b")
	assert.Equal(t, "/a-b", arts.served)

	get(rt, "/a/index.html")
	assert.Equal(t, "/a/", arts.served)
}

func TestStaticBypassesClassification(t *testing.T) {
	rt, arts, _ := newTestRouter(Options{Maintenance: true})
	get(rt, "/.static/index.html")
	assert.Equal(t, "/.static/index.html", arts.served)
}

func TestAPIDispatch(t *testing.T) {
	rt, _, _ := newTestRouter(Options{})
	rt.HandleAPI("health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteStatus(w, "ok", nil)
	}))

	var env cluster.Envelope
	w := get(rt, "/.api/health")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "ok", env.Status)

	w = get(rt, "/.api/health.js")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "ok", env.Status)

	w = get(rt, "/.api/nope")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "notFound", env.Status)
}

func TestAPIMaintenance(t *testing.T) {
	rt, _, _ := newTestRouter(Options{Maintenance: true})
	rt.HandleAPI("health", http.NotFoundHandler())

	var env cluster.Envelope
	w := get(rt, "/.api/health")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "maintenance", env.Status)

	r := httptest.NewRequest(http.MethodGet, "/.api/health", nil)
	r = r.WithContext(cluster.WithDecision(r.Context(), cluster.Decision{FromSlave: true}))
	w = httptest.NewRecorder()
	rt.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code, "slaves bypass maintenance")
}

func TestFormDispatch(t *testing.T) {
	rt, arts, _ := newTestRouter(Options{})
	called := false
	rt.HandleForm("newThread", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	get(rt, "/newThread.js")
	assert.True(t, called)

	get(rt, "/missing.js")
	assert.True(t, arts.notFound)

	get(rt, "/.js")
	assert.Equal(t, "/.js", arts.served, "too short to be a form")
}

func TestFormMaintenance(t *testing.T) {
	rt, _, _ := newTestRouter(Options{Maintenance: true})

	w := get(rt, "/captcha.js")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/.static/maintenance.png", w.Header().Get("Location"))

	w = get(rt, "/newThread.js")
	assert.Equal(t, "/maintenance.html", w.Header().Get("Location"))
}
