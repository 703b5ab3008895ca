package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.etcd.io/bbolt"
)

var (
	contentBucket = []byte("artifacts")
	gzipBucket    = []byte("artifacts.gz")
	metaBucket    = []byte("artifacts.meta")
)

type meta struct {
	MIME    string    `json:"mime"`
	ModTime time.Time `json:"modTime"`
}

// StoreStats contains statistics about the artifact store.
type StoreStats struct {
	Artifacts int // Number of stored artifacts
	Bytes     int // Total uncompressed size
}

// BoltStore persists artifacts in a bbolt database. It is safe for
// concurrent use; bbolt serializes writers and lets readers proceed.
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time

	mu    sync.RWMutex
	hooks []func(path string)
}

// OpenBolt opens or creates the artifact database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open artifact db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{contentBucket, gzipBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db, now: time.Now}, nil
}

// SetClock replaces the time source used to stamp writes.
func (b *BoltStore) SetClock(now func() time.Time) {
	b.now = now
}

// OnWrite registers fn to be called with the path of every successful write.
func (b *BoltStore) OnWrite(fn func(path string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = append(b.hooks, fn)
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

// Write stores content at p, replacing any previous version. Text artifacts
// are also stored gzip-compressed. An empty mimeType is derived from the
// path extension.
func (b *BoltStore) Write(p, mimeType string, content []byte) error {
	if p == "" || p[0] != '/' {
		return fmt.Errorf("artifact path %q must be absolute", p)
	}
	if mimeType == "" {
		mimeType = mimeFor(p)
	}

	var compressed []byte
	if compressible(mimeType) {
		var err error
		if compressed, err = gzipBytes(content); err != nil {
			return fmt.Errorf("compress %s: %w", p, err)
		}
	}

	key := []byte(p)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		mb := tx.Bucket(metaBucket)

		modTime := b.now().UTC().Truncate(time.Second)
		if raw := mb.Get(key); raw != nil {
			var prev meta
			if err := json.Unmarshal(raw, &prev); err == nil && !modTime.After(prev.ModTime) {
				modTime = prev.ModTime.Add(time.Second)
			}
		}
		encoded, err := json.Marshal(meta{MIME: mimeType, ModTime: modTime})
		if err != nil {
			return err
		}

		if err := tx.Bucket(contentBucket).Put(key, content); err != nil {
			return err
		}
		gb := tx.Bucket(gzipBucket)
		if compressed != nil {
			err = gb.Put(key, compressed)
		} else {
			err = gb.Delete(key)
		}
		if err != nil {
			return err
		}
		return mb.Put(key, encoded)
	})
	if err != nil {
		return fmt.Errorf("write artifact %s: %w", p, err)
	}

	b.mu.RLock()
	hooks := b.hooks
	b.mu.RUnlock()
	for _, fn := range hooks {
		fn(p)
	}
	return nil
}

// Get returns the artifact stored at p. The returned slices are copies.
func (b *BoltStore) Get(p string) (Artifact, error) {
	a := Artifact{Path: p}
	key := []byte(p)
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(metaBucket).Get(key)
		if raw == nil {
			return ErrNotFound
		}
		var m meta
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
		a.MIME = m.MIME
		a.ModTime = m.ModTime
		// bbolt values are only valid inside the transaction
		a.Content = bytes.Clone(tx.Bucket(contentBucket).Get(key))
		if gz := tx.Bucket(gzipBucket).Get(key); gz != nil {
			a.Gzip = bytes.Clone(gz)
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return Artifact{}, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("read artifact %s: %w", p, err)
	}
	if a.Content == nil {
		a.Content = []byte{}
	}
	return a, nil
}

// Paths returns every stored artifact path in key order.
func (b *BoltStore) Paths() ([]string, error) {
	var paths []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucket).ForEach(func(k, _ []byte) error {
			paths = append(paths, string(k))
			return nil
		})
	})
	return paths, err
}

// Stats returns storage statistics.
func (b *BoltStore) Stats() StoreStats {
	var stats StoreStats
	_ = b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(contentBucket).ForEach(func(_, v []byte) error {
			stats.Artifacts++
			stats.Bytes += len(v)
			return nil
		})
	})
	return stats
}

func gzipBytes(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(content); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func mimeFor(p string) string {
	ext := path.Ext(p)
	if ext == "" {
		return "text/html; charset=utf-8"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func compressible(mimeType string) bool {
	base, _, _ := mime.ParseMediaType(mimeType)
	switch base {
	case "application/json", "application/javascript", "image/svg+xml":
		return true
	}
	return strings.HasPrefix(base, "text/")
}
