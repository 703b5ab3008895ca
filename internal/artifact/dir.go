package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// DirBackend serves files below Root as artifacts. The file's mtime is the
// artifact's modification time.
type DirBackend struct {
	Root string
}

func (d DirBackend) Get(p string) (Artifact, error) {
	clean := path.Clean("/" + p)
	if strings.HasSuffix(clean, "/") || d.Root == "" {
		return Artifact{}, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	name := filepath.Join(d.Root, filepath.FromSlash(clean))

	info, err := os.Stat(name)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return Artifact{}, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("stat %s: %w", p, err)
	}
	content, err := os.ReadFile(name)
	if err != nil {
		return Artifact{}, fmt.Errorf("read %s: %w", p, err)
	}
	return Artifact{
		Path:    p,
		MIME:    mimeFor(clean),
		ModTime: info.ModTime().UTC().Truncate(time.Second),
		Content: content,
	}, nil
}
