// Package server composes a boardd node: stores, generation, invalidation,
// the topology guard and the HTTP request pipeline.
//
// Every inbound request passes through, in order:
//
//  1. the topology guard (reject, forward to a slave, or serve locally)
//  2. content negotiation (language and gzip)
//  3. the path router (API, static, form, multiboard, artifacts)
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/boardcache/internal/artifact"
	"github.com/dreamware/boardcache/internal/cluster"
	"github.com/dreamware/boardcache/internal/config"
	"github.com/dreamware/boardcache/internal/generator"
	"github.com/dreamware/boardcache/internal/invalidate"
	"github.com/dreamware/boardcache/internal/negotiate"
	"github.com/dreamware/boardcache/internal/rebuild"
	"github.com/dreamware/boardcache/internal/render"
	"github.com/dreamware/boardcache/internal/router"
	"github.com/dreamware/boardcache/internal/storage"
)

const (
	storeFile    = "board.db"
	artifactFile = "artifacts.db"
	busSize      = 256
)

// Server is one boardd node.
type Server struct {
	cfg config.Config
	log *log.Logger

	store      *storage.SQLiteStore
	artifacts  *artifact.BoltStore
	files      *artifact.Server
	gen        *generator.Generator
	rebuild    *rebuild.Orchestrator
	bus        *invalidate.Bus
	supervisor *invalidate.Supervisor
	negotiator *negotiate.Negotiator
	router     *router.Router

	guard    *cluster.Guard
	balancer *cluster.Balancer
	health   *cluster.HealthMonitor
}

// Open builds a node from cfg, opening (and creating) the stores under
// cfg.DataDir.
func Open(ctx context.Context, cfg config.Config, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store, err := storage.OpenSQLite(filepath.Join(cfg.DataDir, storeFile))
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, err
	}

	artifacts, err := artifact.OpenBolt(filepath.Join(cfg.DataDir, artifactFile))
	if err != nil {
		store.Close()
		return nil, err
	}

	s, err := newServer(cfg, store, artifacts, logger)
	if err != nil {
		artifacts.Close()
		store.Close()
		return nil, err
	}
	return s, nil
}

func newServer(cfg config.Config, store *storage.SQLiteStore, artifacts *artifact.BoltStore, logger *log.Logger) (*Server, error) {
	renderer, err := render.New(cfg.TemplateDir)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		log:       logger,
		store:     store,
		artifacts: artifacts,
		guard:     cluster.NewGuard(cfg.Master, cfg.Slaves, cfg.Maintenance),
	}

	var static artifact.Backend
	if cfg.StaticDir != "" {
		static = artifact.DirBackend{Root: cfg.StaticDir}
	}
	s.files = artifact.NewServer(artifacts, static, artifact.Options{
		CSP:        cfg.CSP,
		Disable304: cfg.Disable304,
		NoCache:    cfg.Debug,
		Verbose:    cfg.Verbose,
		Logger:     logger,
	})
	artifacts.OnWrite(s.files.Invalidate)

	s.gen = generator.New(store, renderer, artifacts, generator.Options{
		PageSize:              cfg.PageSize,
		MultiboardThreadCount: cfg.MultiboardThreadCount,
		Concurrency:           cfg.RebuildConcurrency,
		GenericThumb:          cfg.GenericThumb,
		Language:              cfg.DefaultLanguage,
		Verbose:               cfg.Verbose,
		Logger:                logger,
	})
	s.rebuild = rebuild.New(s.gen, cfg.Verbose, logger)
	s.bus = invalidate.NewBus(busSize)
	s.supervisor = invalidate.NewSupervisor(s.bus, s.gen, s.rebuild, cfg.Verbose, logger)
	s.negotiator = negotiate.New(store, cfg.UseAlternativeLanguages, cfg.Verbose, logger)

	var multi router.Multiboard
	if cfg.MultiboardThreadCount > 0 {
		multi = s.gen
	}
	s.router = router.New(store, multi, s.files, router.Options{
		Maintenance: cfg.MaintenanceActive(),
		Multiboard:  cfg.MultiboardThreadCount > 0,
		Verbose:     cfg.Verbose,
		Logger:      logger,
	})
	s.registerAPIs()

	if s.guard.Role() == cluster.RoleMaster {
		s.balancer, err = cluster.NewBalancer(cfg.Slaves, cfg.Port, cfg.Verbose, logger)
		if err != nil {
			return nil, err
		}
		if cfg.HealthInterval > 0 {
			s.health = cluster.NewHealthMonitor(s.balancer.Targets(), cfg.HealthInterval, logger)
		}
	}
	return s, nil
}

// Close releases the stores.
func (s *Server) Close() error {
	return errors.Join(s.artifacts.Close(), s.store.Close())
}

// Store returns the document store.
func (s *Server) Store() *storage.SQLiteStore { return s.store }

// Generator returns the page generator.
func (s *Server) Generator() *generator.Generator { return s.gen }

// Rebuilder returns the rebuild orchestrator.
func (s *Server) Rebuilder() *rebuild.Orchestrator { return s.rebuild }

// Bus returns the invalidation bus consumed by the supervisor.
func (s *Server) Bus() *invalidate.Bus { return s.bus }

// Supervisor returns the invalidation supervisor.
func (s *Server) Supervisor() *invalidate.Supervisor { return s.supervisor }

// Router returns the path router, for registering API and form handlers.
func (s *Server) Router() *router.Router { return s.router }

// Handler returns the request pipeline.
func (s *Server) Handler() http.Handler {
	local := s.negotiator.Middleware(s.router)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := s.guard.Classify(cluster.PeerHost(r), r.URL.Path)
		switch d.Action {
		case cluster.ActionReject:
			s.log.Printf("rejecting request from %s", cluster.PeerHost(r))
			dropConnection(w)
		case cluster.ActionForward:
			s.balancer.ServeHTTP(w, r)
		default:
			local.ServeHTTP(w, r.WithContext(cluster.WithDecision(r.Context(), d)))
		}
	})
}

// dropConnection closes the underlying connection without writing a
// response.
func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic(http.ErrAbortHandler)
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(http.ErrAbortHandler)
	}
	conn.Close()
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves HTTP on ln and runs the background tasks (invalidation
// supervisor, signal feed, slave health monitor) until ctx is done, then
// shuts everything down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	servers := []*http.Server{httpSrv}

	g.Go(func() error {
		s.log.Printf("boardd listening on %s role=%s", ln.Addr(), s.guard.Role())
		return ignoreClosed(httpSrv.Serve(cluster.NewGuardListener(ln, s.guard, s.log)))
	})

	if s.cfg.SignalAddress != "" {
		feedLn, err := net.Listen("tcp", s.cfg.SignalAddress)
		if err != nil {
			ln.Close()
			return fmt.Errorf("listen signal feed: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle(invalidate.FeedPath, invalidate.NewFeedHandler(s.bus, s.guard.Known, s.cfg.Verbose, s.log))
		feedSrv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		servers = append(servers, feedSrv)

		g.Go(func() error {
			s.log.Printf("signal feed listening on %s", feedLn.Addr())
			return ignoreClosed(feedSrv.Serve(feedLn))
		})
	}

	g.Go(func() error {
		if err := s.supervisor.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if s.health != nil {
		g.Go(func() error {
			s.health.Run(ctx)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(shutdownCtx)
		}
		s.log.Println("boardd stopped")
		return nil
	})

	if s.artifacts.Stats().Artifacts == 0 {
		s.log.Println("artifact store is empty, starting full rebuild")
		s.rebuild.FullRebuild(ctx, s.logRebuild)
	}

	return g.Wait()
}

func (s *Server) logRebuild(err error) {
	if err != nil {
		s.log.Printf("rebuild failed: %v", err)
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
