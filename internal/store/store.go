// Package store defines the object store adapter the history engine reads
// from. Implementations expose commit walking, tree enumeration, content
// retrieval and line diffing; nothing here ever writes to a repository.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when an object id is unknown to a repository.
	ErrNotFound = errors.New("object not found")

	// ErrNoHead is returned when a repository has no commits.
	ErrNoHead = errors.New("repository has no HEAD reference")
)

// Kind classifies a stored object.
type Kind int

const (
	KindBlob Kind = iota
	KindTree
	KindCommit
	KindTag
	// KindMount marks a tree entry that points into a nested repository.
	KindMount
)

func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindTree:
		return "tree"
	case KindCommit:
		return "commit"
	case KindTag:
		return "tag"
	case KindMount:
		return "mount"
	}
	return "unknown"
}

// Encoding is the unit content lengths and offsets are measured in.
type Encoding string

const (
	Bytes Encoding = "bytes"
	Chars Encoding = "chars"
)

// Object is an immutable content-addressed object.
type Object struct {
	ID     string
	Kind   Kind
	Size   int64
	Binary bool
	Data   []byte
}

// Encoding reports how indices into the object are counted.
func (o *Object) Encoding() Encoding {
	if o.Binary {
		return Bytes
	}
	return Chars
}

// Commit is a point in history with its root tree.
type Commit struct {
	ID      string
	Time    int64
	Message string
	Tree    string
}

// TreeEntry is one named child of a tree.
type TreeEntry struct {
	Name string
	Kind Kind
	ID   string
}

// Mount binds a nested repository at a path prefix of its host.
type Mount struct {
	Path   string
	Remote string
	Repo   Repository
}

// Info summarises a repository for the metadata endpoint.
type Info struct {
	Origin    string
	Head      string
	HeadTime  int64
	ContentID string
}

// Repository is the read-only object store collaborator.
type Repository interface {
	// Head returns the current tip commit id.
	Head(ctx context.Context) (string, error)

	// Walk returns every commit reachable from head, oldest first:
	// topological order with ties broken by commit time.
	Walk(ctx context.Context, head string) ([]Commit, error)

	// Tree lists the entries of a tree in stored order.
	Tree(ctx context.Context, id string) ([]TreeEntry, error)

	// Get returns the object with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*Object, error)

	// Diff returns a minimal, context-free line diff between two blobs.
	Diff(ctx context.Context, older, newer string) ([]Hunk, error)

	// Mounts lists nested repositories in mount order.
	Mounts() []Mount

	// Info describes the repository.
	Info(ctx context.Context) (Info, error)
}
