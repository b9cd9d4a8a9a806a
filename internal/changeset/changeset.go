// Package changeset finds the neighbouring versions of a piece of content
// and describes how it changed, as character or byte ranges.
package changeset

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"unicode/utf8"

	"verso/internal/history"
	"verso/internal/index"
	"verso/internal/snapshot"
	"verso/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var changesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "verso_changes_lookups_total",
	Help: "Change lookups by where the result came from.",
}, []string{"source"})

// Scope selects which path chains are searched for neighbours.
type Scope string

const (
	// ScopeAll concatenates the chains of every path the content appears
	// under.
	ScopeAll Scope = "all"
	// ScopePath uses only the newest path the content appears under.
	ScopePath Scope = "path"
)

// ParseScope accepts "", "all" and "path".
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeAll:
		return ScopeAll, nil
	case ScopePath:
		return ScopePath, nil
	}
	return "", fmt.Errorf("unknown neighbor scope %q", s)
}

// Tier is a persistent layer behind the in-memory change cache.
type Tier interface {
	Get(older, newer string, v any) (bool, error)
	Put(older, newer string, v any) error
}

// Change maps one changed region of the older content onto the newer one.
// Both sides are "<start>/-/<end>", zero-based with end exclusive.
type Change struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Version is a neighbouring version and, where computed, its changes.
type Version struct {
	ID      string   `json:"id,omitempty"`
	Changes []Change `json:"changes,omitempty"`
}

type Changeset struct {
	Names    []index.Name
	Previous *Version
	Next     *Version
}

type Options struct {
	Scope  Scope
	Tier   Tier
	Logger *zap.Logger
}

type pairKey struct {
	older, newer string
}

// Engine computes changesets against a repository. Computed changes are
// kept for the life of the engine.
type Engine struct {
	repo   store.Repository
	scope  Scope
	tier   Tier
	logger *zap.Logger

	mu    sync.RWMutex
	memo  map[pairKey][]Change
	group singleflight.Group
}

// New returns an engine over repo, which should resolve ids across mounts.
func New(repo store.Repository, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	scope := opts.Scope
	if scope == "" {
		scope = ScopeAll
	}
	return &Engine{
		repo:   repo,
		scope:  scope,
		tier:   opts.Tier,
		logger: logger,
		memo:   make(map[pairKey][]Change),
	}
}

// Neighbors returns the names of id and the ids of its older and newer
// neighbours, either of which may be empty.
func (e *Engine) Neighbors(snap *snapshot.Snapshot, id string) (names []index.Name, previous, next string) {
	names = snap.Contents[id]
	if len(names) == 0 {
		return nil, "", ""
	}

	var chain []history.VersionEntry
	if e.scope == ScopePath {
		chain = snap.Paths[names[0].Path]
	} else {
		for _, n := range names {
			chain = append(chain, snap.Paths[n.Path]...)
		}
	}

	i := -1
	for j, v := range chain {
		if v.ContentID == id {
			i = j
			break
		}
	}
	if i < 0 {
		return names, "", ""
	}
	if i > 0 {
		next = chain[i-1].ContentID
	}
	if i+1 < len(chain) {
		previous = chain[i+1].ContentID
	}
	return names, previous, next
}

// Changeset describes id's neighbours and the changes from the previous
// version to id and from id to the next version.
func (e *Engine) Changeset(ctx context.Context, snap *snapshot.Snapshot, id string) (*Changeset, error) {
	names, previous, next := e.Neighbors(snap, id)
	cs := &Changeset{Names: names}

	if previous != "" {
		changes, err := e.Changes(ctx, previous, id)
		if err != nil {
			return nil, err
		}
		cs.Previous = &Version{ID: previous, Changes: changes}
	}
	if next != "" {
		changes, err := e.Changes(ctx, id, next)
		if err != nil {
			return nil, err
		}
		cs.Next = &Version{ID: next, Changes: changes}
	}
	return cs, nil
}

func (e *Engine) lookup(k pairKey) ([]Change, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.memo[k]
	return c, ok
}

// Changes returns the changes turning older into newer. Concurrent
// requests for the same pair share one computation.
func (e *Engine) Changes(ctx context.Context, older, newer string) ([]Change, error) {
	k := pairKey{older, newer}
	if c, ok := e.lookup(k); ok {
		changesTotal.WithLabelValues("memory").Inc()
		return c, nil
	}

	v, err, _ := e.group.Do(older+".."+newer, func() (any, error) {
		if c, ok := e.lookup(k); ok {
			return c, nil
		}
		c, err := e.load(ctx, older, newer)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.memo[k] = c
		e.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Change), nil
}

func (e *Engine) load(ctx context.Context, older, newer string) ([]Change, error) {
	if e.tier != nil {
		var stored []Change
		ok, err := e.tier.Get(older, newer, &stored)
		if err != nil {
			e.logger.Warn("Reading stored changes failed", zap.Error(err))
		} else if ok {
			changesTotal.WithLabelValues("store").Inc()
			return stored, nil
		}
	}

	changes, err := e.compute(ctx, older, newer)
	if err != nil {
		return nil, err
	}
	changesTotal.WithLabelValues("computed").Inc()

	if e.tier != nil {
		if err := e.tier.Put(older, newer, changes); err != nil {
			e.logger.Warn("Storing changes failed", zap.Error(err))
		}
	}
	return changes, nil
}

func (e *Engine) compute(ctx context.Context, older, newer string) ([]Change, error) {
	a, err := store.Resolve(ctx, e.repo, older)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", older, err)
	}
	b, err := store.Resolve(ctx, e.repo, newer)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", newer, err)
	}

	hunks, err := e.repo.Diff(ctx, older, newer)
	if err != nil {
		return nil, fmt.Errorf("diffing %s..%s: %w", older, newer, err)
	}

	changes := Translate(hunks, a, b)
	e.logger.Debug("Computed changes",
		zap.String("older", older),
		zap.String("newer", newer),
		zap.Int("hunks", len(hunks)),
	)
	return changes, nil
}

// Translate turns line hunks into ranges within the two objects, counted
// in each object's own unit.
func Translate(hunks []store.Hunk, older, newer *store.Object) []Change {
	from := offsets(older)
	to := offsets(newer)

	changes := make([]Change, 0, len(hunks))
	for _, h := range hunks {
		changes = append(changes, Change{
			From: Range(at(from, h.OldStart), at(from, h.OldStart+h.OldLines)),
			To:   Range(at(to, h.NewStart), at(to, h.NewStart+h.NewLines)),
		})
	}
	return changes
}

// offsets returns the prefix sums of the object's line lengths: entry i is
// where line i starts.
func offsets(obj *store.Object) []int64 {
	lines := store.SplitLines(string(obj.Data))
	sums := make([]int64, len(lines)+1)
	for i, l := range lines {
		n := int64(len(l))
		if !obj.Binary {
			n = int64(utf8.RuneCountInString(l))
		}
		sums[i+1] = sums[i] + n
	}
	return sums
}

func at(sums []int64, line int) int64 {
	if line < 0 {
		return 0
	}
	if line >= len(sums) {
		return sums[len(sums)-1]
	}
	return sums[line]
}

// Range formats a window as "<start>/-/<end>".
func Range(start, end int64) string {
	return strconv.FormatInt(start, 10) + "/-/" + strconv.FormatInt(end, 10)
}
