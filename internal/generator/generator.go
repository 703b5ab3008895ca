package generator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/dreamware/boardcache/internal/artifact"
	"github.com/dreamware/boardcache/internal/render"
	"github.com/dreamware/boardcache/internal/storage"
)

const htmlMIME = "text/html; charset=utf-8"

// Writer persists rendered artifacts.
type Writer interface {
	Write(path, mimeType string, content []byte) error
}

// RenderError reports a failed template render.
type RenderError struct {
	Template string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Template, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Options configures a Generator.
type Options struct {
	PageSize              int
	MultiboardThreadCount int
	Concurrency           int    // cursor workers, at least 1
	GenericThumb          string // image file used as the generic thumbnail
	Language              string // lang of persisted artifacts, "en" when empty
	Verbose               bool
	Logger                *log.Logger
}

// Generator regenerates artifacts.
type Generator struct {
	store    storage.Store
	renderer render.Renderer
	out      Writer
	opts     Options
	log      *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Generator.
func New(store storage.Store, renderer render.Renderer, out Writer, opts Options) *Generator {
	if opts.PageSize < 1 {
		opts.PageSize = 10
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Generator{
		store:    store,
		renderer: renderer,
		out:      out,
		opts:     opts,
		log:      logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// PageCount returns ceil(threadCount/pageSize), never less than 1.
func PageCount(threadCount, pageSize int) int {
	if pageSize < 1 {
		pageSize = 1
	}
	n := threadCount / pageSize
	if threadCount%pageSize != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	return n
}

// lockBoard serializes board-level generation for uri.
func (g *Generator) lockBoard(uri string) func() {
	g.mu.Lock()
	l, ok := g.locks[uri]
	if !ok {
		l = &sync.Mutex{}
		g.locks[uri] = l
	}
	g.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (g *Generator) verbosef(format string, args ...any) {
	if g.opts.Verbose {
		g.log.Printf(format, args...)
	}
}

func (g *Generator) renderTo(path, name string, data any) error {
	content, err := g.renderer.Render(name, data)
	if err != nil {
		return &RenderError{Template: name, Err: err}
	}
	return g.write(path, htmlMIME, content)
}

func (g *Generator) write(path, mimeType string, content []byte) error {
	if err := g.out.Write(path, mimeType, content); err != nil {
		return err
	}
	g.verbosef("wrote %s (%s)", path, humanize.Bytes(uint64(len(content))))
	return nil
}

// FrontPage regenerates the front page listing every board.
func (g *Generator) FrontPage(ctx context.Context) error {
	g.verbosef("generating front page")
	boards, err := g.store.ListBoards(ctx)
	if err != nil {
		return fmt.Errorf("front page: %w", err)
	}
	return g.renderTo(artifact.FrontPagePath, render.FrontPage, render.FrontPageData{Language: g.opts.Language, Boards: boards})
}

// BoardsIndex regenerates the board list page.
func (g *Generator) BoardsIndex(ctx context.Context) error {
	g.verbosef("generating boards index")
	boards, err := g.store.ListBoards(ctx)
	if err != nil {
		return fmt.Errorf("boards index: %w", err)
	}
	return g.renderTo(artifact.BoardsIndexPath, render.BoardsIndex, render.FrontPageData{Language: g.opts.Language, Boards: boards})
}

// BoardPage regenerates one page of a board and assigns its threads to it.
// Pages past the board's page count are rendered empty so a page left over
// from before threads were pruned no longer lists them.
func (g *Generator) BoardPage(ctx context.Context, uri string, page int) error {
	unlock := g.lockBoard(uri)
	defer unlock()

	board, err := g.store.FindBoard(ctx, uri)
	if err != nil {
		return fmt.Errorf("board page %s/%d: %w", uri, page, err)
	}
	return g.boardPage(ctx, board, page)
}

func (g *Generator) boardPage(ctx context.Context, board storage.Board, page int) error {
	pageCount := PageCount(board.ThreadCount, g.opts.PageSize)
	if page < 1 {
		return fmt.Errorf("board page %s/%d: invalid page", board.URI, page)
	}
	g.verbosef("generating page %d/%d of board %s", page, pageCount, board.URI)

	threads, err := g.store.ThreadsByBump(ctx, board.URI, (page-1)*g.opts.PageSize, g.opts.PageSize)
	if err != nil {
		return fmt.Errorf("board page %s/%d: %w", board.URI, page, err)
	}

	ids := make([]int64, len(threads))
	var previewIDs []int64
	for i, t := range threads {
		ids[i] = t.ThreadID
		previewIDs = append(previewIDs, t.LatestPosts...)
	}
	if err := g.store.SetThreadsPage(ctx, board.URI, ids, page); err != nil {
		return fmt.Errorf("board page %s/%d: %w", board.URI, page, err)
	}

	previews, err := g.store.PostsByIDs(ctx, board.URI, previewIDs)
	if err != nil {
		return fmt.Errorf("board page %s/%d: %w", board.URI, page, err)
	}
	byThread := make(map[int64][]storage.Post, len(threads))
	for _, p := range previews {
		byThread[p.ThreadID] = append(byThread[p.ThreadID], p)
	}

	summaries := make([]render.ThreadSummary, len(threads))
	for i, t := range threads {
		t.Page = page
		summaries[i] = render.ThreadSummary{Thread: t, Previews: byThread[t.ThreadID]}
	}

	return g.renderTo(artifact.BoardPagePath(board.URI, page), render.BoardPage, render.BoardPageData{
		Language:  g.opts.Language,
		Board:     board,
		Page:      page,
		PageCount: pageCount,
		Threads:   summaries,
	})
}

// Thread regenerates a thread page.
func (g *Generator) Thread(ctx context.Context, uri string, threadID int64) error {
	board, err := g.store.FindBoard(ctx, uri)
	if err != nil {
		return fmt.Errorf("thread %s/%d: %w", uri, threadID, err)
	}
	return g.thread(ctx, board, threadID)
}

func (g *Generator) thread(ctx context.Context, board storage.Board, threadID int64) error {
	t, err := g.store.FindThread(ctx, board.URI, threadID)
	if err != nil {
		return fmt.Errorf("thread %s/%d: %w", board.URI, threadID, err)
	}
	g.verbosef("generating thread %d of board %s", threadID, board.URI)

	posts, err := g.store.ThreadPosts(ctx, board.URI, threadID)
	if err != nil {
		return fmt.Errorf("thread %s/%d: %w", board.URI, threadID, err)
	}
	return g.renderTo(artifact.ThreadPath(board.URI, threadID), render.Thread, render.ThreadData{
		Language: g.opts.Language,
		Board:    board,
		Thread:   t,
		Posts:    posts,
	})
}

// AllThreads regenerates every thread page of a board.
func (g *Generator) AllThreads(ctx context.Context, uri string) error {
	board, err := g.store.FindBoard(ctx, uri)
	if err != nil {
		return fmt.Errorf("threads of %s: %w", uri, err)
	}
	return g.allThreads(ctx, board)
}

func (g *Generator) allThreads(ctx context.Context, board storage.Board) error {
	return ForEach(ctx, g.store.Threads(ctx, board.URI), g.opts.Concurrency, func(ctx context.Context, t storage.Thread) error {
		return g.thread(ctx, board, t.ThreadID)
	})
}

// Catalog regenerates a board's catalog.
func (g *Generator) Catalog(ctx context.Context, uri string) error {
	board, err := g.store.FindBoard(ctx, uri)
	if err != nil {
		return fmt.Errorf("catalog %s: %w", uri, err)
	}
	return g.catalog(ctx, board)
}

func (g *Generator) catalog(ctx context.Context, board storage.Board) error {
	g.verbosef("generating catalog of board %s", board.URI)
	threads, err := g.store.CatalogThreads(ctx, board.URI)
	if err != nil {
		return fmt.Errorf("catalog %s: %w", board.URI, err)
	}
	return g.renderTo(artifact.CatalogPath(board.URI), render.Catalog, render.CatalogData{
		Language: g.opts.Language,
		Board:    board,
		Threads:  threads,
	})
}

// Board regenerates every page of a board, last page first, then its
// catalog and, if rebuildThreads, every thread page.
func (g *Generator) Board(ctx context.Context, uri string, rebuildThreads bool) error {
	board, err := g.boardPages(ctx, uri)
	if err != nil {
		return err
	}
	if err := g.catalog(ctx, board); err != nil {
		return err
	}
	if rebuildThreads {
		return g.allThreads(ctx, board)
	}
	return nil
}

func (g *Generator) boardPages(ctx context.Context, uri string) (storage.Board, error) {
	unlock := g.lockBoard(uri)
	defer unlock()

	board, err := g.store.FindBoard(ctx, uri)
	if err != nil {
		return storage.Board{}, fmt.Errorf("board %s: %w", uri, err)
	}
	g.verbosef("generating board %s", uri)

	for page := PageCount(board.ThreadCount, g.opts.PageSize); page >= 1; page-- {
		if err := g.boardPage(ctx, board, page); err != nil {
			return storage.Board{}, err
		}
	}
	return board, nil
}

// AllBoards regenerates every board, pages and threads, one board at a time
// unless Options.Concurrency allows more.
func (g *Generator) AllBoards(ctx context.Context) error {
	return ForEach(ctx, g.store.Boards(ctx), g.opts.Concurrency, func(ctx context.Context, b storage.Board) error {
		return g.Board(ctx, b.URI, true)
	})
}

// NotFound regenerates the 404 page.
func (g *Generator) NotFound(context.Context) error {
	g.verbosef("generating 404 page")
	return g.renderTo(artifact.NotFoundPath, render.NotFound, render.PageData{Language: g.opts.Language, Title: "404 Not Found"})
}

// Login regenerates the login page.
func (g *Generator) Login(context.Context) error {
	g.verbosef("generating login page")
	return g.renderTo(artifact.LoginPath, render.Login, render.PageData{Language: g.opts.Language, Title: "Login"})
}

// Maintenance regenerates the maintenance page.
func (g *Generator) Maintenance(context.Context) error {
	g.verbosef("generating maintenance page")
	return g.renderTo(artifact.MaintenancePath, render.Maintenance, render.PageData{Language: g.opts.Language, Title: "Maintenance"})
}

// MultiboardThreads returns the newest threads across boards.
func (g *Generator) MultiboardThreads(ctx context.Context, boards []string) ([]storage.Thread, error) {
	if g.opts.MultiboardThreadCount < 1 {
		return nil, errors.New("multiboard disabled")
	}
	threads, err := g.store.LatestThreads(ctx, boards, g.opts.MultiboardThreadCount)
	if err != nil {
		return nil, fmt.Errorf("multiboard: %w", err)
	}
	return threads, nil
}

// Multiboard renders the aggregate page of boards. It is rendered per
// request and never persisted.
func (g *Generator) Multiboard(ctx context.Context, boards []string, language string) ([]byte, error) {
	threads, err := g.MultiboardThreads(ctx, boards)
	if err != nil {
		return nil, err
	}
	content, err := g.renderer.Render(render.Multiboard, render.MultiboardData{
		Language: language,
		Boards:   boards,
		Threads:  threads,
	})
	if err != nil {
		return nil, &RenderError{Template: render.Multiboard, Err: err}
	}
	return content, nil
}
