package artifact

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotFound is returned by a Backend when no artifact exists at a path.
var ErrNotFound = errors.New("artifact not found")

// Well-known artifact paths.
const (
	FrontPagePath    = "/"
	BoardsIndexPath  = "/boards.html"
	NotFoundPath     = "/404.html"
	LoginPath        = "/login.html"
	MaintenancePath  = "/maintenance.html"
	GenericThumbPath = "/genericThumb.png"
)

// Artifact is one stored rendition. Gzip holds the pre-compressed content and
// is empty for artifacts that are not stored compressed.
type Artifact struct {
	Path    string
	MIME    string
	ModTime time.Time
	Content []byte
	Gzip    []byte
}

// LastModified returns ModTime in the form used for Last-Modified and
// compared against If-Modified-Since.
func (a Artifact) LastModified() string {
	return a.ModTime.UTC().Format(http.TimeFormat)
}

// Size returns the uncompressed content length.
func (a Artifact) Size() int {
	return len(a.Content)
}

// Backend is the read side of an artifact store.
type Backend interface {
	// Get returns ErrNotFound when nothing is stored at path.
	Get(path string) (Artifact, error)
}

// BoardPagePath returns the path of a board page. Page 1 is the board's
// front page.
func BoardPagePath(board string, page int) string {
	if page <= 1 {
		return "/" + board + "/"
	}
	return fmt.Sprintf("/%s/%d.html", board, page)
}

// ThreadPath returns the path of a thread page.
func ThreadPath(board string, threadID int64) string {
	return fmt.Sprintf("/%s/res/%d.html", board, threadID)
}

// CatalogPath returns the path of a board's catalog.
func CatalogPath(board string) string {
	return "/" + board + "/catalog.html"
}
