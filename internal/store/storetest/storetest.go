// Package storetest provides an in-memory store.Repository for tests.
package storetest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"verso/internal/store"
)

// Repo is an in-memory repository built commit by commit.
type Repo struct {
	mu      sync.RWMutex
	objects map[string]*store.Object
	trees   map[string][]store.TreeEntry
	commits []store.Commit
	mounts  []store.Mount
	origin  string
	walkErr error
	walks   atomic.Int64
}

// New returns an empty repository.
func New() *Repo {
	return &Repo{
		objects: make(map[string]*store.Object),
		trees:   make(map[string][]store.TreeEntry),
		origin:  "https://example.com/repo.git",
	}
}

func hash(kind string, data []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d\x00", kind, len(data))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Blob stores content and returns its id.
func (r *Repo) Blob(content string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blob([]byte(content))
}

func (r *Repo) blob(data []byte) string {
	id := hash("blob", data)
	if _, ok := r.objects[id]; !ok {
		r.objects[id] = &store.Object{
			ID:     id,
			Kind:   store.KindBlob,
			Size:   int64(len(data)),
			Binary: store.IsBinary(data),
			Data:   data,
		}
	}
	return id
}

// Commit records a commit whose tree holds exactly files (slash-separated
// path → content) and returns the commit id.
func (r *Repo) Commit(time int64, message string, files map[string]string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	root := r.tree(files)
	parent := ""
	if len(r.commits) > 0 {
		parent = r.commits[len(r.commits)-1].ID
	}
	id := hash("commit", []byte(fmt.Sprintf("tree %s\nparent %s\ntime %d\n\n%s", root, parent, time, message)))
	r.commits = append(r.commits, store.Commit{ID: id, Time: time, Message: message, Tree: root})
	r.objects[id] = &store.Object{ID: id, Kind: store.KindCommit}
	return id
}

func (r *Repo) tree(files map[string]string) string {
	children := make(map[string]map[string]string)
	var entries []store.TreeEntry

	for p, content := range files {
		name, rest, nested := strings.Cut(p, "/")
		if !nested {
			entries = append(entries, store.TreeEntry{Name: name, Kind: store.KindBlob, ID: r.blob([]byte(content))})
			continue
		}
		if children[name] == nil {
			children[name] = make(map[string]string)
		}
		children[name][rest] = content
	}
	for name, sub := range children {
		entries = append(entries, store.TreeEntry{Name: name, Kind: store.KindTree, ID: r.tree(sub)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %s %s\n", e.Kind, e.Name, e.ID)
	}
	id := hash("tree", []byte(b.String()))
	r.trees[id] = entries
	r.objects[id] = &store.Object{ID: id, Kind: store.KindTree}
	return id
}

// Mount binds sub at path.
func (r *Repo) Mount(path, remote string, sub store.Repository) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mounts = append(r.mounts, store.Mount{Path: path, Remote: remote, Repo: sub})
}

// FailWalk makes every subsequent Walk return err.
func (r *Repo) FailWalk(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.walkErr = err
}

// Walks reports how many times Walk has been called.
func (r *Repo) Walks() int {
	return int(r.walks.Load())
}

func (r *Repo) Head(ctx context.Context) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.commits) == 0 {
		return "", store.ErrNoHead
	}
	return r.commits[len(r.commits)-1].ID, nil
}

func (r *Repo) Walk(ctx context.Context, head string) ([]store.Commit, error) {
	r.walks.Add(1)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.walkErr != nil {
		return nil, r.walkErr
	}
	for i, c := range r.commits {
		if c.ID == head {
			return append([]store.Commit(nil), r.commits[:i+1]...), nil
		}
	}
	return nil, fmt.Errorf("walking %s: %w", head, store.ErrNotFound)
}

func (r *Repo) Tree(ctx context.Context, id string) ([]store.TreeEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries, ok := r.trees[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return entries, nil
}

func (r *Repo) Get(ctx context.Context, id string) (*store.Object, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return obj, nil
}

func (r *Repo) Diff(ctx context.Context, older, newer string) ([]store.Hunk, error) {
	a, err := r.Get(ctx, older)
	if err != nil {
		return nil, err
	}
	b, err := r.Get(ctx, newer)
	if err != nil {
		return nil, err
	}
	return store.LineDiff(string(a.Data), string(b.Data)), nil
}

func (r *Repo) Mounts() []store.Mount {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]store.Mount(nil), r.mounts...)
}

func (r *Repo) Info(ctx context.Context) (store.Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info := store.Info{Origin: r.origin, ContentID: "sha1"}
	if n := len(r.commits); n > 0 {
		info.Head = r.commits[n-1].ID
		info.HeadTime = r.commits[n-1].Time
	}
	return info, nil
}
