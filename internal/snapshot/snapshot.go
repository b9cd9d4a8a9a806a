// Package snapshot caches the derived indices of a repository, one
// Snapshot per head id.
package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"verso/internal/errors"
	"verso/internal/history"
	"verso/internal/index"
	"verso/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	buildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verso_snapshot_builds_total",
		Help: "Snapshot builds by result.",
	}, []string{"result"})

	hitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verso_snapshot_hits_total",
		Help: "Snapshot lookups served from the cache.",
	})

	buildSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "verso_snapshot_build_seconds",
		Help:    "Time spent walking history and building indices.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})
)

// Snapshot is the read-only set of indices derived for one head.
type Snapshot struct {
	Head     string
	Versions *history.VersionIndex
	Paths    index.PathIndex
	Contents index.ContentIndex
	BuiltAt  time.Time
}

// BuildFunc derives a Snapshot for head.
type BuildFunc func(ctx context.Context, head string) (*Snapshot, error)

// Builder returns a BuildFunc that walks repo and indexes the result.
func Builder(repo store.Repository, logger *zap.Logger) BuildFunc {
	walker := history.NewWalker(repo, logger)
	return func(ctx context.Context, head string) (*Snapshot, error) {
		vi, err := walker.Walk(ctx, head)
		if err != nil {
			return nil, err
		}
		paths, contents := index.Build(vi)
		return &Snapshot{
			Head:     head,
			Versions: vi,
			Paths:    paths,
			Contents: contents,
			BuiltAt:  time.Now(),
		}, nil
	}
}

type Options struct {
	// BuildTimeout bounds a single build. Zero means no limit.
	BuildTimeout time.Duration
	Logger       *zap.Logger
}

// Cache holds snapshots for the life of the process. Concurrent requests
// for a cold head share one build; a failed build is not cached.
type Cache struct {
	mu      sync.RWMutex
	snaps   map[string]*Snapshot
	group   singleflight.Group
	build   BuildFunc
	timeout time.Duration
	logger  *zap.Logger
}

func New(build BuildFunc, opts Options) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		snaps:   make(map[string]*Snapshot),
		build:   build,
		timeout: opts.BuildTimeout,
		logger:  logger,
	}
}

// NewForRepo is New with the default builder for repo.
func NewForRepo(repo store.Repository, opts Options) *Cache {
	return New(Builder(repo, opts.Logger), opts)
}

func (c *Cache) lookup(head string) *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snaps[head]
}

// Get returns the snapshot for head, building it if needed. A caller whose
// ctx ends stops waiting, but the shared build keeps running for the others.
func (c *Cache) Get(ctx context.Context, head string) (*Snapshot, error) {
	if snap := c.lookup(head); snap != nil {
		hitsTotal.Inc()
		return snap, nil
	}

	ch := c.group.DoChan(head, func() (any, error) {
		if snap := c.lookup(head); snap != nil {
			return snap, nil
		}
		return c.fill(context.WithoutCancel(ctx), head)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

func (c *Cache) fill(ctx context.Context, head string) (*Snapshot, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	snap, err := c.build(ctx, head)
	if err != nil {
		buildsTotal.WithLabelValues("error").Inc()
		c.logger.Error("Snapshot build failed",
			zap.String("head", head),
			zap.Error(err),
		)
		return nil, errors.Fatal(fmt.Sprintf("snapshot build for %s failed", head), err)
	}
	elapsed := time.Since(start)
	buildSeconds.Observe(elapsed.Seconds())
	buildsTotal.WithLabelValues("ok").Inc()

	c.mu.Lock()
	c.snaps[head] = snap
	c.mu.Unlock()

	c.logger.Info("Snapshot built",
		zap.String("head", head),
		zap.Int("commits", len(snap.Versions.Commits)),
		zap.Int("entries", snap.Versions.Len()),
		zap.Duration("duration", elapsed),
	)
	return snap, nil
}

// Current resolves repo's head and returns its snapshot.
func (c *Cache) Current(ctx context.Context, repo store.Repository) (*Snapshot, error) {
	head, err := repo.Head(ctx)
	if err != nil {
		return nil, errors.Fatal("resolve head", err)
	}
	return c.Get(ctx, head)
}

// Len reports how many snapshots are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snaps)
}
