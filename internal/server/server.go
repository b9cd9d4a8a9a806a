// Package server assembles the repository, caches, service and HTTP
// surface from a Config.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"verso/internal/api"
	"verso/internal/changeset"
	"verso/internal/config"
	"verso/internal/diffstore"
	"verso/internal/logging"
	"verso/internal/middleware"
	"verso/internal/service"
	"verso/internal/snapshot"
	"verso/internal/store"
	"verso/internal/store/gitstore"
	"verso/internal/watch"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	repo    store.Repository
	snaps   *snapshot.Cache
	svc     *service.Service
	diffs   *diffstore.Store
	watcher *watch.Watcher
	handler http.Handler
}

// Open opens the repository at cfg.RepoHome and its mounts and wires
// everything a query needs. Close releases what Open acquired.
func Open(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	gopts := gitstore.Options{
		CacheSize:        cfg.Cache.BlobCacheSize,
		CacheObjectLimit: cfg.Cache.BlobSizeLimit,
		Logger:           logger.Logger,
	}
	repo, err := gitstore.Open(cfg.RepoHome, gopts)
	if err != nil {
		return nil, err
	}
	mirrors := repo.OpenMounts(ctx, cfg.Mounts, gopts)

	s := &Server{cfg: cfg, logger: logger}
	if err := s.wire(repo, mirrors); err != nil {
		return nil, err
	}

	if cfg.Watch {
		if gitDir, ok := repo.GitDir(); ok {
			w, err := watch.New(gitDir, repo, s.snaps, watch.Options{Logger: logger.Logger})
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("watching %s: %w", gitDir, err)
			}
			s.watcher = w
		} else {
			logger.Warn("Repository has no git directory on disk, not watching")
		}
	}
	return s, nil
}

// New wires a server over an already opened repository. Mounts must
// already be attached to repo.
func New(repo store.Repository, cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Server{cfg: cfg, logger: logger}
	if err := s.wire(repo, cfg.Mounts); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) wire(repo store.Repository, mirrors map[string]string) error {
	cfg := s.cfg
	super := store.NewSuper(repo)
	s.repo = super

	s.snaps = snapshot.NewForRepo(super, snapshot.Options{
		BuildTimeout: time.Duration(cfg.Cache.BuildTimeout),
		Logger:       s.logger.Logger,
	})

	scope, err := changeset.ParseScope(cfg.Changeset.NeighborScope)
	if err != nil {
		return err
	}
	copts := changeset.Options{Scope: scope, Logger: s.logger.Logger}
	if cfg.Cache.Path != "" {
		diffs, err := diffstore.Open(cfg.Cache.Path)
		if err != nil {
			return fmt.Errorf("opening change cache: %w", err)
		}
		s.diffs = diffs
		copts.Tier = diffs
	}
	changes := changeset.New(super, copts)

	s.svc = service.New(super, s.snaps, changes, service.Options{
		Routes: service.Routes{
			Object:   cfg.Routes.Object,
			Versions: cfg.Routes.Versions,
			Meta:     cfg.Routes.Meta,
		},
		Mirrors: mirrors,
		Logger:  s.logger.Logger,
	})

	mux := http.NewServeMux()
	api.NewHandler(s.svc, api.Options{
		BaseURL: cfg.BaseURL,
		SrvHome: cfg.SrvHome,
		Logger:  s.logger,
	}).Register(mux)

	s.handler = middleware.Chain(
		mux,
		middleware.Recover(s.logger),
		middleware.Logger(s.logger),
		middleware.Metrics,
		middleware.Gzip,
		middleware.RequestID,
	)
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Service() *service.Service {
	return s.svc
}

// Warm builds the snapshot for the current head.
func (s *Server) Warm(ctx context.Context) error {
	snap, err := s.snaps.Current(ctx, s.repo)
	if err != nil {
		return err
	}
	s.logger.Info("Snapshot ready",
		zap.String("head", snap.Head),
		zap.Int("paths", len(snap.Paths)),
		zap.Int("objects", len(snap.Contents)),
	)
	return nil
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.Warm(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("Initial snapshot build failed", zap.Error(err))
		}
	}()

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("address", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) Close() error {
	var errs []error
	if s.watcher != nil {
		errs = append(errs, s.watcher.Close())
	}
	if s.diffs != nil {
		errs = append(errs, s.diffs.Close())
	}
	return stderrors.Join(errs...)
}
