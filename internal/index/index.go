// Package index folds a VersionIndex into path-keyed and content-keyed
// chains, both ordered newest first.
package index

import "verso/internal/history"

// Name is one place a content id appears in history.
type Name struct {
	Path     string `json:"name"`
	CommitID string `json:"commit_id"`
	Time     int64  `json:"time"`
	Message  string `json:"message"`
}

// PathIndex maps a path to its versions, newest first.
type PathIndex map[string][]history.VersionEntry

// ContentIndex maps a content id to every path and commit it appears
// under, newest first.
type ContentIndex map[string][]Name

// Build iterates commits newest to oldest, so every chain comes out
// newest first without sorting.
func Build(vi *history.VersionIndex) (PathIndex, ContentIndex) {
	paths := make(PathIndex)
	contents := make(ContentIndex)

	for i := len(vi.Commits) - 1; i >= 0; i-- {
		for _, e := range vi.Commits[i].Entries {
			paths[e.Path] = append(paths[e.Path], e)
			contents[e.ContentID] = append(contents[e.ContentID], Name{
				Path:     e.Path,
				CommitID: e.CommitID,
				Time:     e.Time,
				Message:  e.Message,
			})
		}
	}

	return paths, contents
}

// Count returns the number of entries across all chains.
func (p PathIndex) Count() int {
	n := 0
	for _, chain := range p {
		n += len(chain)
	}
	return n
}

// Count returns the number of entries across all chains.
func (c ContentIndex) Count() int {
	n := 0
	for _, chain := range c {
		n += len(chain)
	}
	return n
}
