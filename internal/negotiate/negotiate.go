// Package negotiate resolves the language and encoding a response should use
// and carries the result in the request context.
package negotiate

import (
	"cmp"
	"context"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/dreamware/boardcache/internal/storage"
)

// MaxHeaderLength bounds how much of Accept-Language is considered.
const MaxHeaderLength = 64

var qualityEntry = regexp.MustCompile(`([a-zA-Z-]+);q=([0-9.]+)`)

type entry struct {
	tag      string
	priority float64
}

// ParseAcceptLanguage returns the tags of header in descending priority,
// client order preserved among equal priorities. Entries without a quality
// have priority 1; entries with a malformed quality have priority 0 and are
// dropped along with explicit q=0 entries.
func ParseAcceptLanguage(header string) []string {
	if len(header) > MaxHeaderLength {
		header = header[:MaxHeaderLength]
	}

	var entries []entry
	for _, raw := range strings.Split(header, ",") {
		raw = strings.TrimSpace(raw)
		if !strings.Contains(raw, ";q=") {
			entries = append(entries, entry{tag: raw, priority: 1})
			continue
		}
		m := qualityEntry.FindStringSubmatch(raw)
		if m == nil {
			entries = append(entries, entry{})
			continue
		}
		q, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			q = 0
		}
		entries = append(entries, entry{tag: m[1], priority: q})
	}

	slices.SortStableFunc(entries, func(a, b entry) int {
		return cmp.Compare(b.priority, a.priority)
	})

	tags := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.priority > 0 && e.tag != "" {
			tags = append(tags, e.tag)
		}
	}
	return tags
}

// Pick returns the record matching the first tag, in client order, that any
// record accepts. Record order only matters between records accepting the
// same tag.
func Pick(tags []string, records []storage.Language) (storage.Language, bool) {
	for _, tag := range tags {
		for _, rec := range records {
			if slices.Contains(rec.HeaderValues, tag) {
				return rec, true
			}
		}
	}
	return storage.Language{}, false
}

// AcceptsGzip reports whether an Accept-Encoding value carries a gzip token.
func AcceptsGzip(header string) bool {
	return strings.Contains(header, "gzip")
}

// LanguageSource finds language records by accepted header value.
type LanguageSource interface {
	LanguagesMatching(ctx context.Context, tags []string) ([]storage.Language, error)
}

// Negotiator attaches the negotiated language and encoding to requests.
type Negotiator struct {
	source  LanguageSource
	enabled bool
	verbose bool
	log     *log.Logger
}

// New creates a Negotiator. Language resolution only runs when enabled;
// encoding is always negotiated.
func New(source LanguageSource, enabled, verbose bool, logger *log.Logger) *Negotiator {
	if logger == nil {
		logger = log.Default()
	}
	return &Negotiator{source: source, enabled: enabled, verbose: verbose, log: logger}
}

// Resolve returns the language to use for an Accept-Language header.
func (n *Negotiator) Resolve(ctx context.Context, header string) (storage.Language, bool, error) {
	if !n.enabled || header == "" || n.source == nil {
		return storage.Language{}, false, nil
	}
	tags := ParseAcceptLanguage(header)
	if len(tags) == 0 {
		return storage.Language{}, false, nil
	}
	records, err := n.source.LanguagesMatching(ctx, tags)
	if err != nil {
		return storage.Language{}, false, err
	}
	lang, ok := Pick(tags, records)
	return lang, ok, nil
}

// Middleware negotiates every request before handing it to next. Lookup
// failures are logged and the request proceeds without a language.
func (n *Negotiator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithCompressed(r.Context(), AcceptsGzip(r.Header.Get("Accept-Encoding")))

		lang, ok, err := n.Resolve(ctx, r.Header.Get("Accept-Language"))
		if err != nil {
			n.log.Printf("language lookup failed: %v", err)
		} else if ok {
			if n.verbose {
				n.log.Printf("negotiated language=%s path=%s", lang.Code, r.URL.Path)
			}
			ctx = WithLanguage(ctx, lang)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type ctxKey int

const (
	languageKey ctxKey = iota
	compressedKey
)

// WithLanguage returns a context carrying lang.
func WithLanguage(ctx context.Context, lang storage.Language) context.Context {
	return context.WithValue(ctx, languageKey, lang)
}

// Language returns the negotiated language, if any.
func Language(ctx context.Context) (storage.Language, bool) {
	lang, ok := ctx.Value(languageKey).(storage.Language)
	return lang, ok
}

// WithCompressed returns a context recording whether the client accepts gzip.
func WithCompressed(ctx context.Context, compressed bool) context.Context {
	return context.WithValue(ctx, compressedKey, compressed)
}

// Compressed reports whether the client accepts gzip bodies.
func Compressed(ctx context.Context) bool {
	c, _ := ctx.Value(compressedKey).(bool)
	return c
}
