package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/boardcache/internal/negotiate"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBolt(t *testing.T) (*BoltStore, *fakeClock) {
	t.Helper()
	b, err := OpenBolt(filepath.Join(t.TempDir(), "artifacts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	b.SetClock(clock.Now)
	return b, clock
}

func gunzip(t *testing.T, data []byte) []byte {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	return out
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "/a/", BoardPagePath("a", 1))
	assert.Equal(t, "/a/", BoardPagePath("a", 0))
	assert.Equal(t, "/a/3.html", BoardPagePath("a", 3))
	assert.Equal(t, "/a/res/551.html", ThreadPath("a", 551))
	assert.Equal(t, "/a/catalog.html", CatalogPath("a"))
}

func TestBoltStoreWriteGet(t *testing.T) {
	b, clock := newTestBolt(t)

	_, err := b.Get("/a/")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, b.Write("/a/", "", []byte("<html>a</html>")))
	a, err := b.Get("/a/")
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", a.MIME)
	assert.Equal(t, []byte("<html>a</html>"), a.Content)
	assert.Equal(t, clock.Now(), a.ModTime)
	assert.Equal(t, "Fri, 01 Mar 2024 12:00:00 GMT", a.LastModified())
	assert.Equal(t, []byte("<html>a</html>"), gunzip(t, a.Gzip))

	require.NoError(t, b.Write(GenericThumbPath, "image/png", []byte{0x89, 'P', 'N', 'G'}))
	thumb, err := b.Get(GenericThumbPath)
	require.NoError(t, err)
	assert.Equal(t, "image/png", thumb.MIME)
	assert.Empty(t, thumb.Gzip, "binary artifacts are stored uncompressed")

	assert.Error(t, b.Write("relative", "", nil))

	paths, err := b.Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{"/a/", GenericThumbPath}, paths)
	assert.Equal(t, StoreStats{Artifacts: 2, Bytes: 18}, b.Stats())
}

func TestBoltStoreModTimeAdvances(t *testing.T) {
	b, clock := newTestBolt(t)

	require.NoError(t, b.Write("/", "", []byte("v1")))
	first, err := b.Get("/")
	require.NoError(t, err)

	// same second
	clock.Advance(200 * time.Millisecond)
	require.NoError(t, b.Write("/", "", []byte("v2")))
	second, err := b.Get("/")
	require.NoError(t, err)
	assert.NotEqual(t, first.LastModified(), second.LastModified())
	assert.True(t, second.ModTime.After(first.ModTime))

	clock.Advance(time.Minute)
	require.NoError(t, b.Write("/", "", []byte("v3")))
	third, err := b.Get("/")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Truncate(time.Second), third.ModTime)
}

func TestBoltStoreWriteHooks(t *testing.T) {
	b, _ := newTestBolt(t)
	var written []string
	b.OnWrite(func(p string) { written = append(written, p) })

	require.NoError(t, b.Write("/a/", "", []byte("x")))
	require.NoError(t, b.Write("/a/res/1.html", "", []byte("y")))
	assert.Equal(t, []string{"/a/", "/a/res/1.html"}, written)
}

func TestCache(t *testing.T) {
	c := NewCache()

	_, ok := c.Get("/")
	assert.False(t, ok)

	c.Put(Artifact{Path: "/", Content: []byte("front")})
	c.Put(Artifact{Path: "/a/", Content: []byte("board")})
	a, ok := c.Get("/")
	require.True(t, ok)
	assert.Equal(t, []byte("front"), a.Content)

	c.Delete("/")
	c.Delete("/missing")
	_, ok = c.Get("/")
	assert.False(t, ok)

	assert.Equal(t, CacheStats{Entries: 1, Bytes: 5, Hits: 1, Misses: 2, Busts: 1}, c.Stats())

	c.Flush()
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestCachePutIfAfterBust(t *testing.T) {
	c := NewCache()

	v := c.Version("/a/")
	assert.True(t, c.PutIf(Artifact{Path: "/a/", Content: []byte("one")}, v))

	v = c.Version("/a/")
	c.Delete("/a/")
	assert.False(t, c.PutIf(Artifact{Path: "/a/", Content: []byte("stale")}, v))
	_, ok := c.Get("/a/")
	assert.False(t, ok)

	v = c.Version("/b/")
	c.Delete("/other/")
	assert.True(t, c.PutIf(Artifact{Path: "/b/", Content: []byte("b")}, v), "busting another path doesn't block")

	v = c.Version("/c/")
	c.Flush()
	assert.False(t, c.PutIf(Artifact{Path: "/c/", Content: []byte("stale")}, v))
	assert.True(t, c.PutIf(Artifact{Path: "/c/", Content: []byte("c")}, c.Version("/c/")))
}

// pausingBackend blocks the first Get after it has read from the wrapped
// backend until release is closed.
type pausingBackend struct {
	Backend
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (p *pausingBackend) Get(path string) (Artifact, error) {
	a, err := p.Backend.Get(path)
	p.once.Do(func() {
		close(p.read)
		<-p.release
	})
	return a, err
}

func TestServerDropsFillRacingRegeneration(t *testing.T) {
	b, clock := newTestBolt(t)
	require.NoError(t, b.Write("/a/", "", []byte("old")))

	backend := &pausingBackend{Backend: b, read: make(chan struct{}), release: make(chan struct{})}
	s := NewServer(backend, nil, Options{})
	b.OnWrite(s.Invalidate)

	done := make(chan string)
	go func() {
		done <- get(s, "/a/", nil).Body.String()
	}()

	<-backend.read
	clock.Advance(time.Minute)
	require.NoError(t, b.Write("/a/", "", []byte("new")))
	close(backend.release)
	assert.Equal(t, "old", <-done)

	assert.Equal(t, "new", get(s, "/a/", nil).Body.String())
	assert.Equal(t, "new", get(s, "/a/", nil).Body.String())
}

func TestDirBackend(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "style.css"), []byte("body{}"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "img"), 0o755))

	d := DirBackend{Root: root}
	a, err := d.Get("/style.css")
	require.NoError(t, err)
	assert.Equal(t, []byte("body{}"), a.Content)
	assert.Contains(t, a.MIME, "text/css")

	for _, p := range []string{"/missing.js", "/img", "/img/", "/../etc/passwd"} {
		_, err := d.Get(p)
		assert.True(t, errors.Is(err, ErrNotFound), p)
	}
}

func get(s *Server, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	req = req.WithContext(negotiate.WithCompressed(req.Context(), header["Accept-Encoding"] == "gzip"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestServerConditionalGet(t *testing.T) {
	b, clock := newTestBolt(t)
	s := NewServer(b, nil, Options{CSP: "default-src 'self'"})
	b.OnWrite(s.Invalidate)

	require.NoError(t, b.Write("/a/", "", []byte("page one")))

	first := get(s, "/a/", nil)
	require.Equal(t, http.StatusOK, first.Code)
	lastModified := first.Header().Get("Last-Modified")
	assert.Equal(t, "Fri, 01 Mar 2024 12:00:00 GMT", lastModified)
	assert.Equal(t, "page one", first.Body.String())
	assert.Equal(t, "default-src 'self'", first.Header().Get("Content-Security-Policy"))
	assert.NotEmpty(t, first.Header().Get("Expires"))
	assert.Equal(t, "text/html; charset=utf-8", first.Header().Get("Content-Type"))

	second := get(s, "/a/", map[string]string{"If-Modified-Since": lastModified})
	assert.Equal(t, http.StatusNotModified, second.Code)
	assert.Empty(t, second.Body.Bytes())

	clock.Advance(time.Minute)
	require.NoError(t, b.Write("/a/", "", []byte("page one, regenerated")))

	third := get(s, "/a/", map[string]string{"If-Modified-Since": lastModified})
	assert.Equal(t, http.StatusOK, third.Code)
	assert.Equal(t, "page one, regenerated", third.Body.String())
	assert.NotEqual(t, lastModified, third.Header().Get("Last-Modified"))
}

func TestServerServesStaleCacheWithoutHook(t *testing.T) {
	b, clock := newTestBolt(t)
	s := NewServer(b, nil, Options{})

	require.NoError(t, b.Write("/", "", []byte("old")))
	assert.Equal(t, "old", get(s, "/", nil).Body.String())

	clock.Advance(time.Minute)
	require.NoError(t, b.Write("/", "", []byte("new")))
	assert.Equal(t, "old", get(s, "/", nil).Body.String())

	s.Flush()
	assert.Equal(t, "new", get(s, "/", nil).Body.String())
}

func TestServerOptions(t *testing.T) {
	b, clock := newTestBolt(t)
	require.NoError(t, b.Write("/", "", []byte("front")))
	lastModified := clock.Now().Format(http.TimeFormat)

	t.Run("disable 304", func(t *testing.T) {
		s := NewServer(b, nil, Options{Disable304: true})
		rec := get(s, "/", map[string]string{"If-Modified-Since": lastModified})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Content-Security-Policy"))
	})

	t.Run("no cache reads through", func(t *testing.T) {
		s := NewServer(b, nil, Options{NoCache: true})
		assert.Equal(t, http.StatusOK, get(s, "/", nil).Code)
		assert.Equal(t, 0, s.Cache().Stats().Entries)
	})

	t.Run("gzip", func(t *testing.T) {
		s := NewServer(b, nil, Options{})
		rec := get(s, "/", map[string]string{"Accept-Encoding": "gzip"})
		assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
		assert.Equal(t, []byte("front"), gunzip(t, rec.Body.Bytes()))

		plain := get(s, "/", nil)
		assert.Empty(t, plain.Header().Get("Content-Encoding"))
		assert.Equal(t, "front", plain.Body.String())
	})
}

func TestServerNotFound(t *testing.T) {
	b, _ := newTestBolt(t)
	s := NewServer(b, nil, Options{})

	rec := get(s, "/nope/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "404\n", rec.Body.String())

	require.NoError(t, b.Write(NotFoundPath, "", []byte("<h1>not found</h1>")))
	rec = get(s, "/nope/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "<h1>not found</h1>", rec.Body.String())

	// a 404 never turns into a 304
	rec = get(s, "/nope/", map[string]string{"If-Modified-Since": rec.Header().Get("Last-Modified")})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerStatic(t *testing.T) {
	b, _ := newTestBolt(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.js"), []byte("void 0"), 0o644))

	s := NewServer(b, DirBackend{Root: root}, Options{})
	rec := get(s, "/.static/app.js", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "void 0", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")

	rec = get(s, "/.static/missing.js", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	noStatic := NewServer(b, nil, Options{})
	assert.Equal(t, http.StatusNotFound, get(noStatic, "/.static/app.js", nil).Code)
}

func TestServerConcurrentReads(t *testing.T) {
	b, _ := newTestBolt(t)
	require.NoError(t, b.Write("/", "", []byte("front")))
	s := NewServer(b, nil, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background())
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, s.Cache().Stats().Entries)
}
