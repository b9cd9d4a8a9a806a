// Package history walks a repository's commits oldest to newest and records
// the first appearance of every (content, path) pair.
package history

import "verso/internal/store"

// VersionEntry is the first appearance of a content id at a path.
type VersionEntry struct {
	ContentID string         `json:"id"`
	CommitID  string         `json:"commit_id"`
	Path      string         `json:"name"`
	Time      int64          `json:"time"`
	Length    int64          `json:"length"`
	Message   string         `json:"message"`
	Encoding  store.Encoding `json:"indices"`
}

// CommitVersions holds the entries a single commit introduced.
type CommitVersions struct {
	CommitID string
	Entries  []VersionEntry
}

// VersionIndex maps commits to the entries they introduced, in the order
// the commits were walked.
type VersionIndex struct {
	Commits []CommitVersions
	byID    map[string]int
}

// NewVersionIndex returns an empty index.
func NewVersionIndex() *VersionIndex {
	return &VersionIndex{byID: make(map[string]int)}
}

// Add records entries for a commit. A commit seen twice (a mount sharing
// history with its host) keeps its first position and accumulates entries.
func (vi *VersionIndex) Add(commitID string, entries []VersionEntry) {
	if i, ok := vi.byID[commitID]; ok {
		vi.Commits[i].Entries = append(vi.Commits[i].Entries, entries...)
		return
	}
	vi.byID[commitID] = len(vi.Commits)
	vi.Commits = append(vi.Commits, CommitVersions{CommitID: commitID, Entries: entries})
}

// Lookup returns the entries introduced by a commit.
func (vi *VersionIndex) Lookup(commitID string) ([]VersionEntry, bool) {
	i, ok := vi.byID[commitID]
	if !ok {
		return nil, false
	}
	return vi.Commits[i].Entries, true
}

// Len returns the total number of entries.
func (vi *VersionIndex) Len() int {
	n := 0
	for _, c := range vi.Commits {
		n += len(c.Entries)
	}
	return n
}

// NewestFirst returns every entry, newest commit first and, within a
// commit, in traversal order.
func (vi *VersionIndex) NewestFirst() []VersionEntry {
	out := make([]VersionEntry, 0, vi.Len())
	for i := len(vi.Commits) - 1; i >= 0; i-- {
		out = append(out, vi.Commits[i].Entries...)
	}
	return out
}
