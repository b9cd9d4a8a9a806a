package index

import (
	"context"
	"testing"

	"verso/internal/history"
	"verso/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, repo *storetest.Repo) (*history.VersionIndex, PathIndex, ContentIndex) {
	t.Helper()
	head, err := repo.Head(context.Background())
	require.NoError(t, err)
	vi, err := history.NewWalker(repo, nil).Walk(context.Background(), head)
	require.NoError(t, err)
	paths, contents := Build(vi)
	return vi, paths, contents
}

func TestBuild_Scenario(t *testing.T) {
	repo := storetest.New()
	c1 := repo.Commit(100, "C1", map[string]string{"f": "v1"})
	c2 := repo.Commit(200, "C2", map[string]string{"f": "v2"})
	repo.Commit(300, "C3", map[string]string{"f": "v2", "g": "x"})

	_, paths, contents := build(t, repo)

	assert.Len(t, contents, 3)

	f := paths["f"]
	require.Len(t, f, 2)
	assert.Equal(t, repo.Blob("v2"), f[0].ContentID)
	assert.Equal(t, c2, f[0].CommitID)
	assert.Equal(t, repo.Blob("v1"), f[1].ContentID)
	assert.Equal(t, c1, f[1].CommitID)

	names := contents[repo.Blob("v1")]
	require.Len(t, names, 1)
	assert.Equal(t, Name{Path: "f", CommitID: c1, Time: 100, Message: "C1"}, names[0])
}

func TestBuild_CountsMatch(t *testing.T) {
	repo := storetest.New()
	repo.Commit(100, "a", map[string]string{"x": "1", "y": "1", "d/z": "2"})
	repo.Commit(200, "b", map[string]string{"x": "3", "y": "1", "d/z": "1"})
	repo.Commit(300, "c", map[string]string{"x": "1", "y": "4", "d/z": "1"})

	vi, paths, contents := build(t, repo)

	assert.Equal(t, vi.Len(), paths.Count())
	assert.Equal(t, vi.Len(), contents.Count())
}

func TestBuild_NewestFirstAndNoAdjacentDuplicates(t *testing.T) {
	repo := storetest.New()
	repo.Commit(100, "a", map[string]string{"x": "1"})
	repo.Commit(200, "b", map[string]string{"x": "2"})
	repo.Commit(300, "c", map[string]string{"x": "1"})
	repo.Commit(400, "d", map[string]string{"x": "3", "y": "2"})

	_, paths, contents := build(t, repo)

	for path, chain := range paths {
		for i := 1; i < len(chain); i++ {
			assert.GreaterOrEqual(t, chain[i-1].Time, chain[i].Time, path)
			assert.NotEqual(t, chain[i-1].ContentID, chain[i].ContentID, path)
		}
	}
	for id, chain := range contents {
		for i := 1; i < len(chain); i++ {
			assert.GreaterOrEqual(t, chain[i-1].Time, chain[i].Time, id)
		}
	}
}

func TestBuild_Idempotent(t *testing.T) {
	repo := storetest.New()
	repo.Commit(100, "a", map[string]string{"x": "1", "d/y": "2"})
	repo.Commit(200, "b", map[string]string{"x": "2", "d/y": "3"})

	_, p1, c1 := build(t, repo)
	_, p2, c2 := build(t, repo)

	assert.Equal(t, p1, p2)
	assert.Equal(t, c1, c2)
}

func TestBuild_CompleteForHeadTree(t *testing.T) {
	sub := storetest.New()
	sub.Commit(10, "sub", map[string]string{"s": "mounted"})

	repo := storetest.New()
	repo.Mount("m", "", sub)
	repo.Commit(100, "a", map[string]string{"x": "1"})
	repo.Commit(200, "b", map[string]string{"x": "1", "d/y": "2"})

	_, _, contents := build(t, repo)

	for _, content := range []string{"1", "2", "mounted"} {
		assert.Contains(t, contents, repo.Blob(content))
	}
}
