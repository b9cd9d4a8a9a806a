package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"verso/internal/store"

	"go.uber.org/zap"
)

// Walker builds a VersionIndex from a repository and its mounts.
type Walker struct {
	repo   store.Repository
	logger *zap.Logger
}

// NewWalker returns a walker over repo.
func NewWalker(repo store.Repository, logger *zap.Logger) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{repo: repo, logger: logger}
}

type seenKey struct {
	content string
	path    string
}

type blobMeta struct {
	length   int64
	encoding store.Encoding
}

// run carries the state of one walk. Nothing in it outlives the walk.
type run struct {
	index   *VersionIndex
	seen    map[seenKey]struct{}
	meta    map[string]blobMeta
	visited int
}

// frame is one level of the explicit tree-descent stack.
type frame struct {
	entries []store.TreeEntry
	next    int
	prefix  string
}

// Walk indexes the history reachable from head. Mounted repositories are
// walked in full, under their path prefix, before the host's own commits.
// Any failure, including an unreachable mount, aborts the walk.
func (w *Walker) Walk(ctx context.Context, head string) (*VersionIndex, error) {
	start := time.Now()
	r := &run{
		index: NewVersionIndex(),
		seen:  make(map[seenKey]struct{}),
		meta:  make(map[string]blobMeta),
	}

	if err := r.walkRepo(ctx, w.repo, "", head); err != nil {
		return nil, err
	}

	w.logger.Debug("history walked",
		zap.String("head", head),
		zap.Int("commits", len(r.index.Commits)),
		zap.Int("entries", r.index.Len()),
		zap.Int("visited", r.visited),
		zap.Duration("duration", time.Since(start)),
	)
	return r.index, nil
}

func (r *run) walkRepo(ctx context.Context, repo store.Repository, prefix, head string) error {
	for _, m := range repo.Mounts() {
		mountPrefix := join(prefix, m.Path)
		if m.Repo == nil {
			return fmt.Errorf("mount %s: repository unavailable", mountPrefix)
		}
		mountHead, err := m.Repo.Head(ctx)
		if errors.Is(err, store.ErrNoHead) {
			continue
		}
		if err != nil {
			return fmt.Errorf("mount %s: %w", mountPrefix, err)
		}
		if err := r.walkRepo(ctx, m.Repo, mountPrefix, mountHead); err != nil {
			return err
		}
	}

	commits, err := repo.Walk(ctx, head)
	if err != nil {
		return fmt.Errorf("walking %s: %w", head, err)
	}

	for _, c := range commits {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := r.walkCommit(ctx, repo, c, prefix)
		if err != nil {
			return fmt.Errorf("commit %s: %w", c.ID, err)
		}
		r.index.Add(c.ID, entries)
	}
	return nil
}

// walkCommit enumerates a commit's tree depth-first and returns the
// entries whose (content, path) pair has not been seen before.
func (r *run) walkCommit(ctx context.Context, repo store.Repository, c store.Commit, prefix string) ([]VersionEntry, error) {
	root, err := repo.Tree(ctx, c.Tree)
	if err != nil {
		return nil, fmt.Errorf("reading tree %s: %w", c.Tree, err)
	}

	var entries []VersionEntry
	stack := []frame{{entries: root, prefix: prefix}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next == len(top.entries) {
			stack = stack[:len(stack)-1]
			continue
		}
		e := top.entries[top.next]
		top.next++
		r.visited++

		p := join(top.prefix, e.Name)
		switch e.Kind {
		case store.KindTree:
			children, err := repo.Tree(ctx, e.ID)
			if err != nil {
				return nil, fmt.Errorf("reading tree %s: %w", p, err)
			}
			stack = append(stack, frame{entries: children, prefix: p})

		case store.KindBlob:
			key := seenKey{content: e.ID, path: p}
			if _, ok := r.seen[key]; ok {
				continue
			}
			meta, err := r.blobMeta(ctx, repo, e.ID)
			if err != nil {
				return nil, fmt.Errorf("reading blob %s: %w", p, err)
			}
			r.seen[key] = struct{}{}
			entries = append(entries, VersionEntry{
				ContentID: e.ID,
				CommitID:  c.ID,
				Path:      p,
				Time:      c.Time,
				Length:    meta.length,
				Message:   c.Message,
				Encoding:  meta.encoding,
			})
		}
	}

	return entries, nil
}

func (r *run) blobMeta(ctx context.Context, repo store.Repository, id string) (blobMeta, error) {
	if m, ok := r.meta[id]; ok {
		return m, nil
	}
	obj, err := repo.Get(ctx, id)
	if err != nil {
		return blobMeta{}, err
	}
	m := blobMeta{
		length:   store.Length(obj.Data, obj.Binary),
		encoding: obj.Encoding(),
	}
	r.meta[id] = m
	return m, nil
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
