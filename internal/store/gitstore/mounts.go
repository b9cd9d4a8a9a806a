package gitstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"verso/internal/store"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/storage/memory"
	"go.uber.org/zap"
)

// OpenMounts binds any configured mounts (path prefix → local path or
// remote URL) plus the repository's submodules and returns the mirror map.
// Configured entries are always reported and take a submodule's path;
// a configured mount that cannot be opened is skipped with a warning, and
// a submodule at the same path stays bound in its place.
func (r *Repo) OpenMounts(ctx context.Context, configured map[string]string, opts Options) map[string]string {
	mirrors := make(map[string]string, len(configured))
	paths := make([]string, 0, len(configured))
	for p, location := range configured {
		mirrors[p] = location
		paths = append(paths, p)
	}
	sort.Strings(paths)

	bound := make(map[string]bool, len(paths))
	for _, p := range paths {
		location := configured[p]
		sub, err := openLocation(ctx, location, opts)
		if err != nil {
			r.logger.Warn("skipping unreachable mount",
				zap.String("path", p),
				zap.String("location", location),
				zap.Error(err),
			)
			continue
		}
		sub.OpenMounts(ctx, nil, opts)
		r.AddMount(store.Mount{Path: p, Remote: location, Repo: sub})
		bound[p] = true
	}

	for _, m := range r.submodules(opts) {
		if bound[m.Path] {
			r.logger.Warn("submodule path bound by configured mount", zap.String("path", m.Path))
			continue
		}
		r.AddMount(m)
		if _, ok := mirrors[m.Path]; !ok {
			mirrors[m.Path] = m.Remote
		}
	}

	return mirrors
}

func (r *Repo) submodules(opts Options) []store.Mount {
	wt, err := r.repo.Worktree()
	if err != nil {
		if !errors.Is(err, gogit.ErrIsBareRepository) {
			r.logger.Warn("reading worktree", zap.Error(err))
		}
		return nil
	}

	subs, err := wt.Submodules()
	if err != nil {
		r.logger.Warn("listing submodules", zap.Error(err))
		return nil
	}

	var mounts []store.Mount
	for _, sub := range subs {
		cfg := sub.Config()
		subRepo, err := sub.Repository()
		if err != nil {
			r.logger.Warn("skipping submodule",
				zap.String("path", cfg.Path),
				zap.Error(err),
			)
			continue
		}
		nested, err := New(subRepo, opts)
		if err != nil {
			r.logger.Warn("skipping submodule", zap.String("path", cfg.Path), zap.Error(err))
			continue
		}
		for _, m := range nested.submodules(opts) {
			nested.AddMount(m)
		}
		mounts = append(mounts, store.Mount{Path: cfg.Path, Remote: cfg.URL, Repo: nested})
	}
	return mounts
}

// openLocation opens a local repository, or clones a remote one into memory.
func openLocation(ctx context.Context, location string, opts Options) (*Repo, error) {
	if info, err := os.Stat(location); err == nil && info.IsDir() {
		return Open(location, opts)
	}

	repo, err := gogit.CloneContext(ctx, memory.NewStorage(), nil, &gogit.CloneOptions{URL: location})
	if err != nil {
		return nil, fmt.Errorf("cloning %s: %w", location, err)
	}
	return New(repo, opts)
}
