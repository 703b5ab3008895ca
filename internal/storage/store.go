package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a board or thread doesn't exist.
var ErrNotFound = errors.New("not found")

// Board is the projection of a board used by generation.
type Board struct {
	URI         string `json:"boardUri"`
	Name        string `json:"boardName"`
	Description string `json:"boardDescription"`
	ThreadCount int    `json:"threadCount"`
	LastPostID  int64  `json:"lastPostId"`
}

// Thread is the projection of a thread used by generation. LatestPosts holds
// the ids of the newest replies, oldest first, capped at the preview count.
type Thread struct {
	BoardURI    string    `json:"boardUri"`
	ThreadID    int64     `json:"threadId"`
	Page        int       `json:"page"`
	Pinned      bool      `json:"pinned"`
	Locked      bool      `json:"locked"`
	Cyclic      bool      `json:"cyclic"`
	AutoSage    bool      `json:"autoSage"`
	LastBump    time.Time `json:"lastBump"`
	Creation    time.Time `json:"creation"`
	PostCount   int       `json:"postCount"`
	LatestPosts []int64   `json:"latestPosts"`
	Subject     string    `json:"subject,omitempty"`
	Name        string    `json:"name,omitempty"`
	Email       string    `json:"email,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// Post is a reply inside a thread. Content fields are opaque to the core.
type Post struct {
	BoardURI string    `json:"boardUri"`
	ThreadID int64     `json:"threadId"`
	PostID   int64     `json:"postId"`
	Creation time.Time `json:"creation"`
	Subject  string    `json:"subject,omitempty"`
	Name     string    `json:"name,omitempty"`
	Email    string    `json:"email,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Language maps a language code to the Accept-Language values it answers.
type Language struct {
	Code         string   `json:"code"`
	HeaderValues []string `json:"headerValues"`
}

// Cursor yields items one at a time. ok is false once the sequence is
// exhausted.
type Cursor[T any] interface {
	Next(ctx context.Context) (item T, ok bool, err error)
}

// Store is the read contract of the generation core plus the page assignment
// write. Implementations must be safe for concurrent use.
type Store interface {
	// ListBoards returns every board ordered by URI.
	ListBoards(ctx context.Context) ([]Board, error)

	// Boards iterates every board ordered by URI.
	Boards(ctx context.Context) Cursor[Board]

	// FindBoard returns ErrNotFound when the board doesn't exist.
	FindBoard(ctx context.Context, uri string) (Board, error)

	// ExistingBoards returns the subset of uris naming existing boards, in
	// no particular order.
	ExistingBoards(ctx context.Context, uris []string) ([]string, error)

	// ThreadsByBump returns up to limit threads of a board ordered by last
	// bump descending, skipping the first skip.
	ThreadsByBump(ctx context.Context, uri string, skip, limit int) ([]Thread, error)

	// SetThreadsPage stamps page on every listed thread of the board.
	SetThreadsPage(ctx context.Context, uri string, threadIDs []int64, page int) error

	// FindThread returns ErrNotFound when the thread doesn't exist.
	FindThread(ctx context.Context, uri string, threadID int64) (Thread, error)

	// Threads iterates every thread of a board ordered by id.
	Threads(ctx context.Context, uri string) Cursor[Thread]

	// ThreadPosts returns every post of a thread ordered by creation.
	ThreadPosts(ctx context.Context, uri string, threadID int64) ([]Post, error)

	// PostsByIDs returns the posts of a board with the given ids ordered by
	// creation.
	PostsByIDs(ctx context.Context, uri string, postIDs []int64) ([]Post, error)

	// CatalogThreads returns every thread of a board, pinned first.
	CatalogThreads(ctx context.Context, uri string) ([]Thread, error)

	// LatestThreads returns up to limit threads across boards ordered by
	// last bump descending.
	LatestThreads(ctx context.Context, uris []string, limit int) ([]Thread, error)

	// LanguagesMatching returns every language whose header values
	// intersect tags.
	LanguagesMatching(ctx context.Context, tags []string) ([]Language, error)
}

// keysetCursor reads batches through fetch, passing the last item returned so
// the next batch resumes after it.
type keysetCursor[T any] struct {
	fetch func(ctx context.Context, after *T, limit int) ([]T, error)
	batch int
	buf   []T
	last  *T
	done  bool
}

func newKeysetCursor[T any](batch int, fetch func(ctx context.Context, after *T, limit int) ([]T, error)) *keysetCursor[T] {
	if batch < 1 {
		batch = 1
	}
	return &keysetCursor[T]{fetch: fetch, batch: batch}
}

func (c *keysetCursor[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if len(c.buf) == 0 {
		if c.done {
			return zero, false, nil
		}
		items, err := c.fetch(ctx, c.last, c.batch)
		if err != nil {
			return zero, false, err
		}
		if len(items) < c.batch {
			c.done = true
		}
		if len(items) == 0 {
			return zero, false, nil
		}
		c.buf = items
	}
	item := c.buf[0]
	c.buf = c.buf[1:]
	c.last = &item
	return item, true, nil
}
