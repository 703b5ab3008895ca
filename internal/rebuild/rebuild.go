// Package rebuild coordinates full-site regeneration.
//
// A full rebuild runs five independent streams concurrently: the front page
// (with the boards index), the 404 page (with the maintenance page), every
// board, the generic thumbnail and the login page. Each stream is sequential
// internally. A rebuild requested while another is in flight is ignored, not
// queued.
//
// The first stream error completes the rebuild with that error and releases
// the guard immediately; streams still running finish on their own and their
// results are discarded. Artifacts they already wrote stay written.
package rebuild

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StreamCount is the number of top-level streams of a full rebuild.
const StreamCount = 5

// ErrAlreadyRunning is returned by Run when a rebuild is in flight.
var ErrAlreadyRunning = errors.New("rebuild already running")

// Generator is the subset of the page generator a rebuild drives.
type Generator interface {
	FrontPage(ctx context.Context) error
	BoardsIndex(ctx context.Context) error
	NotFound(ctx context.Context) error
	Maintenance(ctx context.Context) error
	AllBoards(ctx context.Context) error
	GenericThumbnail(ctx context.Context) error
	Login(ctx context.Context) error
}

// run is the state of one invocation. Completions always target the run that
// launched them, so a late stream of a failed run can't touch a newer run.
type run struct {
	id        string
	started   time.Time
	remaining int
	finished  bool
	done      func(error)
}

// Orchestrator owns the reentrancy guard and the completion countdown.
type Orchestrator struct {
	gen     Generator
	log     *log.Logger
	verbose bool

	mu      sync.Mutex
	current *run
}

// New creates an Orchestrator.
func New(gen Generator, verbose bool, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{gen: gen, log: logger, verbose: verbose}
}

// Running reports whether a rebuild is in flight and its id.
func (o *Orchestrator) Running() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return "", false
	}
	return o.current.id, true
}

// FullRebuild starts a rebuild and returns its id. If one is already in
// flight nothing happens and started is false; done is then never called.
// Otherwise done is called exactly once: with the first stream error, or nil
// once every stream succeeded. Streams are detached from ctx cancellation.
func (o *Orchestrator) FullRebuild(ctx context.Context, done func(error)) (id string, started bool) {
	o.mu.Lock()
	if o.current != nil {
		id := o.current.id
		o.mu.Unlock()
		if o.verbose {
			o.log.Printf("rebuild already running id=%s, ignoring request", id)
		}
		return id, false
	}
	if done == nil {
		done = func(error) {}
	}
	r := &run{
		id:        uuid.NewString(),
		started:   time.Now(),
		remaining: StreamCount,
		done:      done,
	}
	o.current = r
	o.mu.Unlock()

	o.log.Printf("full rebuild started id=%s", r.id)

	ctx = context.WithoutCancel(ctx)
	streams := [StreamCount]func(context.Context) error{
		sequence(o.gen.FrontPage, o.gen.BoardsIndex),
		sequence(o.gen.NotFound, o.gen.Maintenance),
		o.gen.AllBoards,
		o.gen.GenericThumbnail,
		o.gen.Login,
	}
	for _, stream := range streams {
		stream := stream
		go func() {
			o.complete(r, stream(ctx))
		}()
	}
	return r.id, true
}

// Run starts a rebuild and waits for it. It returns ErrAlreadyRunning when
// one is in flight. Cancelling ctx stops the wait, not the rebuild.
func (o *Orchestrator) Run(ctx context.Context) (string, error) {
	result := make(chan error, 1)
	id, started := o.FullRebuild(ctx, func(err error) { result <- err })
	if !started {
		return id, ErrAlreadyRunning
	}
	select {
	case err := <-result:
		return id, err
	case <-ctx.Done():
		return id, ctx.Err()
	}
}

func sequence(steps ...func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		for _, step := range steps {
			if err := step(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func (o *Orchestrator) complete(r *run, err error) {
	o.mu.Lock()
	if r.finished {
		o.mu.Unlock()
		if err != nil && o.verbose {
			o.log.Printf("rebuild id=%s: late stream error discarded: %v", r.id, err)
		}
		return
	}
	if err == nil {
		r.remaining--
		if r.remaining > 0 {
			o.mu.Unlock()
			return
		}
	}
	r.finished = true
	if o.current == r {
		o.current = nil
	}
	o.mu.Unlock()

	if err != nil {
		o.log.Printf("full rebuild failed id=%s after %s: %v", r.id, time.Since(r.started).Round(time.Millisecond), err)
	} else {
		o.log.Printf("full rebuild finished id=%s in %s", r.id, time.Since(r.started).Round(time.Millisecond))
	}
	r.done(err)
}
