package negotiate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/boardcache/internal/storage"
)

type fakeSource struct {
	records []storage.Language
	err     error
	calls   int
	lastTag []string
}

func (f *fakeSource) LanguagesMatching(_ context.Context, tags []string) ([]storage.Language, error) {
	f.calls++
	f.lastTag = tags
	if f.err != nil {
		return nil, f.err
	}
	var out []storage.Language
	for _, rec := range f.records {
		for _, v := range rec.HeaderValues {
			if contains(tags, v) {
				out = append(out, rec)
				break
			}
		}
	}
	return out, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

var records = []storage.Language{
	{Code: "en", HeaderValues: []string{"en", "en-US"}},
	{Code: "fr", HeaderValues: []string{"fr"}},
}

func TestParseAcceptLanguage(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   []string
	}{
		{name: "no quality", header: "en", want: []string{"en"}},
		{name: "sorted by quality", header: "en;q=0.5,fr;q=0.9", want: []string{"fr", "en"}},
		{name: "stable on ties", header: "de,en;q=1,fr", want: []string{"de", "en", "fr"}},
		{name: "implicit one beats fraction", header: "en;q=0.8, pt-BR", want: []string{"pt-BR", "en"}},
		{name: "malformed quality dropped", header: "xx;q=notanumber", want: []string{}},
		{name: "zero quality dropped", header: "en;q=0,fr", want: []string{"fr"}},
		{name: "bad float dropped", header: "en;q=1.2.3,fr;q=0.1", want: []string{"fr"}},
		{name: "empty entries skipped", header: "en,,", want: []string{"en"}},
		{name: "truncated", header: "en;q=0.1," + strings.Repeat("a", 60) + ",fr", want: []string{strings.Repeat("a", 55), "en"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAcceptLanguage(tt.header))
		})
	}
}

func TestPickUsesClientPriority(t *testing.T) {
	lang, ok := Pick([]string{"fr", "en"}, records)
	require.True(t, ok)
	assert.Equal(t, "fr", lang.Code)

	_, ok = Pick([]string{"de"}, records)
	assert.False(t, ok)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("client priority decides", func(t *testing.T) {
		n := New(&fakeSource{records: records}, true, false, nil)
		lang, ok, err := n.Resolve(ctx, "en;q=0.5,fr;q=0.9")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "fr", lang.Code)
	})

	t.Run("malformed only entry yields no language", func(t *testing.T) {
		src := &fakeSource{records: append(records, storage.Language{Code: "xx", HeaderValues: []string{"xx"}})}
		n := New(src, true, false, nil)
		_, ok, err := n.Resolve(ctx, "xx;q=notanumber")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, src.calls, "nothing to look up")
	})

	t.Run("disabled", func(t *testing.T) {
		src := &fakeSource{records: records}
		n := New(src, false, false, nil)
		_, ok, err := n.Resolve(ctx, "fr")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, src.calls)
	})

	t.Run("no record matches", func(t *testing.T) {
		n := New(&fakeSource{records: records}, true, false, nil)
		_, ok, err := n.Resolve(ctx, "de")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("store error", func(t *testing.T) {
		n := New(&fakeSource{err: errors.New("down")}, true, false, nil)
		_, _, err := n.Resolve(ctx, "fr")
		assert.Error(t, err)
	})
}

func TestMiddleware(t *testing.T) {
	var (
		gotLang      storage.Language
		gotOK, gotGz bool
	)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLang, gotOK = Language(r.Context())
		gotGz = Compressed(r.Context())
	})

	tests := []struct {
		name     string
		src      *fakeSource
		language string
		encoding string
		wantLang string
		wantGz   bool
	}{
		{name: "language and gzip", src: &fakeSource{records: records}, language: "en-US", encoding: "gzip, deflate", wantLang: "en", wantGz: true},
		{name: "no headers", src: &fakeSource{records: records}},
		{name: "store failure proceeds", src: &fakeSource{err: errors.New("down")}, language: "fr", encoding: "br"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.language != "" {
				req.Header.Set("Accept-Language", tt.language)
			}
			if tt.encoding != "" {
				req.Header.Set("Accept-Encoding", tt.encoding)
			}
			New(tt.src, true, false, nil).Middleware(next).ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.wantLang != "", gotOK)
			assert.Equal(t, tt.wantLang, gotLang.Code)
			assert.Equal(t, tt.wantGz, gotGz)
		})
	}
}
