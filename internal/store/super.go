package store

import (
	"context"
	"errors"
	"fmt"
)

// Super wraps a primary repository so content ids resolve uniformly no
// matter which mounted repository physically holds them.
type Super struct {
	Repository
}

// NewSuper returns a Repository that searches mounts on lookup misses.
func NewSuper(repo Repository) *Super {
	return &Super{Repository: repo}
}

// Get searches the primary repository, then each mount depth-first.
func (s *Super) Get(ctx context.Context, id string) (*Object, error) {
	return Resolve(ctx, s.Repository, id)
}

// Diff resolves both blobs across mounts before diffing their content.
func (s *Super) Diff(ctx context.Context, older, newer string) ([]Hunk, error) {
	a, err := s.blob(ctx, older)
	if err != nil {
		return nil, err
	}
	b, err := s.blob(ctx, newer)
	if err != nil {
		return nil, err
	}
	return LineDiff(string(a.Data), string(b.Data)), nil
}

func (s *Super) blob(ctx context.Context, id string) (*Object, error) {
	obj, err := s.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", id, err)
	}
	if obj.Kind != KindBlob {
		return nil, fmt.Errorf("resolving %s: %s is not a blob: %w", id, obj.Kind, ErrNotFound)
	}
	return obj, nil
}

// Resolve returns the first object matching id in repo or, recursively, in
// its mounts. Errors other than ErrNotFound stop the search.
func Resolve(ctx context.Context, repo Repository, id string) (*Object, error) {
	obj, err := repo.Get(ctx, id)
	if err == nil {
		return obj, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	for _, m := range repo.Mounts() {
		if m.Repo == nil {
			continue
		}
		obj, err := Resolve(ctx, m.Repo, id)
		if err == nil {
			return obj, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("mount %s: %w", m.Path, err)
		}
	}

	return nil, ErrNotFound
}
