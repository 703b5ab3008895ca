package invalidate

import (
	"context"
	"log"
)

// Generator is the subset of the page generator driven by signals.
type Generator interface {
	Thread(ctx context.Context, uri string, threadID int64) error
	BoardPage(ctx context.Context, uri string, page int) error
	Catalog(ctx context.Context, uri string) error
	Board(ctx context.Context, uri string, rebuildThreads bool) error
	FrontPage(ctx context.Context) error
	BoardsIndex(ctx context.Context) error
}

// Rebuilder starts full rebuilds.
type Rebuilder interface {
	FullRebuild(ctx context.Context, done func(error)) (id string, started bool)
}

// Supervisor owns regeneration triggered by signals. Signals are handled one
// at a time in arrival order.
type Supervisor struct {
	bus     *Bus
	gen     Generator
	rebuild Rebuilder
	log     *log.Logger
	verbose bool
}

// NewSupervisor creates a Supervisor consuming bus.
func NewSupervisor(bus *Bus, gen Generator, rebuild Rebuilder, verbose bool, logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.Default()
	}
	return &Supervisor{bus: bus, gen: gen, rebuild: rebuild, log: logger, verbose: verbose}
}

// Run handles signals until ctx is done. Handler errors are logged and never
// stop the loop.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-s.bus.Signals():
			if err := s.Handle(ctx, sig); err != nil {
				s.log.Printf("signal %s failed: %v", sig, err)
			}
		}
	}
}

// Handle regenerates what sig names:
//   - all: a full rebuild (ignored if one is running)
//   - thread: that thread page
//   - page: that board page
//   - catalog: the board's catalog
//   - board alone: every page of the board, the front page and the boards index
func (s *Supervisor) Handle(ctx context.Context, sig Signal) error {
	if s.verbose {
		s.log.Printf("handling signal %s", sig)
	}

	switch {
	case sig.All:
		s.rebuild.FullRebuild(ctx, func(err error) {
			if err != nil {
				s.log.Printf("signal-triggered rebuild failed: %v", err)
			}
		})
		return nil
	case sig.Thread != nil:
		return s.gen.Thread(ctx, sig.Board, *sig.Thread)
	case sig.Page != nil:
		return s.gen.BoardPage(ctx, sig.Board, *sig.Page)
	case sig.Catalog:
		return s.gen.Catalog(ctx, sig.Board)
	}

	if err := s.gen.Board(ctx, sig.Board, false); err != nil {
		return err
	}
	if err := s.gen.FrontPage(ctx); err != nil {
		return err
	}
	return s.gen.BoardsIndex(ctx)
}
