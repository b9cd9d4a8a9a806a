// Package gitstore implements store.Repository on top of go-git. It reads
// commits, trees and blobs straight from the repository's object database
// and keeps a bounded cache of small blobs, since history walks read the
// same content many times.
package gitstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"verso/internal/store"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Options configures a Repo.
type Options struct {
	// CacheSize is the number of blobs kept in memory.
	CacheSize int
	// CacheObjectLimit is the largest blob, in bytes, that is cached.
	CacheObjectLimit int64
	Logger           *zap.Logger
}

// DefaultOptions mirrors the cache tuning used in production.
func DefaultOptions() Options {
	return Options{
		CacheSize:        4096,
		CacheObjectLimit: 512 * 1024,
	}
}

// Repo is a go-git backed store.Repository.
type Repo struct {
	repo   *gogit.Repository
	cache  *lru.Cache[string, *store.Object]
	limit  int64
	mounts []store.Mount
	logger *zap.Logger
}

// Open opens the repository containing path.
func Open(path string, opts Options) (*Repo, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", path, err)
	}
	return New(repo, opts)
}

// New wraps an already opened go-git repository.
func New(repo *gogit.Repository, opts Options) (*Repo, error) {
	defaults := DefaultOptions()
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaults.CacheSize
	}
	if opts.CacheObjectLimit <= 0 {
		opts.CacheObjectLimit = defaults.CacheObjectLimit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	cache, err := lru.New[string, *store.Object](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating blob cache: %w", err)
	}

	return &Repo{
		repo:   repo,
		cache:  cache,
		limit:  opts.CacheObjectLimit,
		logger: opts.Logger,
	}, nil
}

// Repository returns the underlying go-git repository.
func (r *Repo) Repository() *gogit.Repository {
	return r.repo
}

// GitDir returns the on-disk git directory, if the repository has one.
func (r *Repo) GitDir() (string, bool) {
	fs, ok := r.repo.Storer.(*filesystem.Storage)
	if !ok {
		return "", false
	}
	return fs.Filesystem().Root(), true
}

func (r *Repo) Head(ctx context.Context) (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", store.ErrNoHead
		}
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

func (r *Repo) Walk(ctx context.Context, head string) ([]store.Commit, error) {
	if !plumbing.IsHash(head) {
		return nil, fmt.Errorf("walking %q: %w", head, store.ErrNotFound)
	}
	start, err := r.repo.CommitObject(plumbing.NewHash(head))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("walking %s: %w", head, store.ErrNotFound)
		}
		return nil, fmt.Errorf("walking %s: %w", head, err)
	}

	var commits []*object.Commit
	iter := object.NewCommitPreorderIter(start, nil, nil)
	defer iter.Close()

	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		commits = append(commits, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", head, err)
	}

	ordered := topoSort(commits)
	out := make([]store.Commit, len(ordered))
	for i, c := range ordered {
		out[i] = convertCommit(c)
	}
	return out, nil
}

func convertCommit(c *object.Commit) store.Commit {
	return store.Commit{
		ID:      c.Hash.String(),
		Time:    c.Committer.When.Unix(),
		Message: c.Message,
		Tree:    c.TreeHash.String(),
	}
}

func (r *Repo) Tree(ctx context.Context, id string) ([]store.TreeEntry, error) {
	if !plumbing.IsHash(id) {
		return nil, store.ErrNotFound
	}
	tree, err := r.repo.TreeObject(plumbing.NewHash(id))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("reading tree %s: %w", id, err)
	}

	entries := make([]store.TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		entries = append(entries, store.TreeEntry{
			Name: e.Name,
			Kind: entryKind(e.Mode),
			ID:   e.Hash.String(),
		})
	}
	return entries, nil
}

func entryKind(mode filemode.FileMode) store.Kind {
	switch mode {
	case filemode.Dir:
		return store.KindTree
	case filemode.Submodule:
		return store.KindMount
	default:
		return store.KindBlob
	}
}

// Get reads the object named by a full or abbreviated hex id. The
// returned object always carries the canonical lowercase id.
func (r *Repo) Get(ctx context.Context, id string) (*store.Object, error) {
	h, err := r.resolveID(id)
	if err != nil {
		return nil, err
	}
	id = h.String()
	if obj, ok := r.cache.Get(id); ok {
		return obj, nil
	}

	enc, err := r.repo.Storer.EncodedObject(plumbing.AnyObject, h)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("reading object %s: %w", id, err)
	}

	obj := &store.Object{ID: id, Size: enc.Size()}
	switch enc.Type() {
	case plumbing.BlobObject:
		obj.Kind = store.KindBlob
	case plumbing.TreeObject:
		obj.Kind = store.KindTree
		return obj, nil
	case plumbing.CommitObject:
		obj.Kind = store.KindCommit
		return obj, nil
	default:
		obj.Kind = store.KindTag
		return obj, nil
	}

	rd, err := enc.Reader()
	if err != nil {
		return nil, fmt.Errorf("opening blob %s: %w", id, err)
	}
	defer rd.Close()

	obj.Data, err = io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", id, err)
	}
	obj.Binary = store.IsBinary(obj.Data)

	if obj.Size <= r.limit {
		r.cache.Add(id, obj)
	}
	return obj, nil
}

func (r *Repo) Diff(ctx context.Context, older, newer string) ([]store.Hunk, error) {
	a, err := r.Get(ctx, older)
	if err != nil {
		return nil, fmt.Errorf("diff source %s: %w", older, err)
	}
	b, err := r.Get(ctx, newer)
	if err != nil {
		return nil, fmt.Errorf("diff target %s: %w", newer, err)
	}
	return store.LineDiff(string(a.Data), string(b.Data)), nil
}

func (r *Repo) Mounts() []store.Mount {
	return r.mounts
}

// AddMount binds a nested repository at m.Path.
func (r *Repo) AddMount(m store.Mount) {
	r.mounts = append(r.mounts, m)
}

func (r *Repo) Info(ctx context.Context) (store.Info, error) {
	info := store.Info{
		Origin:    r.origin(),
		ContentID: r.contentIDScheme(),
	}

	head, err := r.Head(ctx)
	if err != nil {
		return info, err
	}
	info.Head = head

	c, err := r.repo.CommitObject(plumbing.NewHash(head))
	if err != nil {
		return info, fmt.Errorf("reading head commit: %w", err)
	}
	info.HeadTime = c.Committer.When.Unix()

	return info, nil
}

func (r *Repo) origin() string {
	remote, err := r.repo.Remote("origin")
	if err != nil {
		return "None"
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "None"
	}
	return urls[0]
}

func (r *Repo) contentIDScheme() string {
	cfg, err := r.repo.Config()
	if err != nil || cfg.Raw == nil {
		return "sha1"
	}
	version, err := strconv.Atoi(cfg.Raw.Section("core").Option("repositoryformatversion"))
	if err != nil || version <= 0 {
		return "sha1"
	}
	if format := cfg.Raw.Section("extensions").Option("objectformat"); format != "" {
		return format
	}
	return "sha1"
}
