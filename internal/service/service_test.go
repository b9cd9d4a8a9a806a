package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"verso/internal/changeset"
	"verso/internal/errors"
	"verso/internal/query"
	"verso/internal/snapshot"
	"verso/internal/store"
	"verso/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo       *storetest.Repo
	svc        *Service
	c1, c2, c3 string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := storetest.New()
	f := &fixture{repo: repo}
	f.c1 = repo.Commit(100, "C1", map[string]string{"f": "v1"})
	f.c2 = repo.Commit(200, "C2", map[string]string{"f": "v2"})
	f.c3 = repo.Commit(300, "C3", map[string]string{"f": "v2", "g": "x"})

	super := store.NewSuper(repo)
	f.svc = New(super,
		snapshot.NewForRepo(super, snapshot.Options{}),
		changeset.New(super, changeset.Options{}),
		Options{Mirrors: map[string]string{"vendor/lib": "https://example.com/lib.git"}},
	)
	return f
}

func TestDirectory_Plain(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.Directory(context.Background(), FormatPlain)
	require.NoError(t, err)
	assert.Equal(t, ContentTypePlain, out.ContentType)

	want := DirectoryHeader +
		f.repo.Blob("x") + ",300,g,1,chars\n" +
		f.repo.Blob("v2") + ",200,f,2,chars\n" +
		f.repo.Blob("v1") + ",100,f,2,chars\n"
	assert.Equal(t, want, string(out.Body))
}

func TestDirectory_JSON(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.Directory(context.Background(), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeJSON, out.ContentType)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(out.Body, &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, "g", rows[0]["name"])
	assert.Equal(t, "chars", rows[0]["indices"])
	assert.Equal(t, f.c3, rows[0]["commit_id"])
}

func TestVersions(t *testing.T) {
	f := newFixture(t)
	v1, v2 := f.repo.Blob("v1"), f.repo.Blob("v2")

	tests := []struct {
		name string
		path string
		want string
	}{
		{"all", "f", v2 + "\n" + v1},
		{"from", "f/150/-", v2},
		{"until", "f/-/150", v1},
		{"between", "f/100/-/200", v2 + "\n" + v1},
		{"none", "f/201/-/299", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.svc.Versions(context.Background(), tt.path, FormatPlain)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out.Body))
		})
	}
}

func TestVersions_JSON(t *testing.T) {
	f := newFixture(t)

	list, err := f.svc.VersionList(context.Background(), "f/-/150")
	require.NoError(t, err)
	assert.Equal(t, "f", list.Name)
	require.Len(t, list.Versions, 1)
	assert.Equal(t, VersionRecord{ID: f.repo.Blob("v1"), CommitID: f.c1, Time: 100, Message: "C1"}, list.Versions[0])

	out, err := f.svc.Versions(context.Background(), "f", FormatJSON)
	require.NoError(t, err)
	assert.Contains(t, string(out.Body), `"name":"f"`)
}

func TestVersions_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Versions(context.Background(), "missing", FormatPlain)
	assert.True(t, errors.IsNotFound(err))

	_, err = f.svc.Versions(context.Background(), "f/1/-/x", FormatPlain)
	assert.True(t, errors.IsBadRequest(err))

	// Path lookup happens before bounds are parsed.
	_, err = f.svc.Versions(context.Background(), "missing/1/-/x", FormatPlain)
	assert.True(t, errors.IsNotFound(err))
}

func TestObject_Plain(t *testing.T) {
	f := newFixture(t)
	start, end := int64(1), int64(2)

	out, err := f.svc.Object(context.Background(), f.repo.Blob("v2"), query.Window{Start: &start, End: &end}, false, FormatPlain)
	require.NoError(t, err)
	assert.Equal(t, "2", string(out.Body))
	assert.Equal(t, ImmutableCacheControl, out.CacheControl)

	_, err = f.svc.Object(context.Background(), "nope", query.Window{}, false, FormatPlain)
	assert.True(t, errors.IsNotFound(err))
}

func TestEnvelope(t *testing.T) {
	f := newFixture(t)
	v1, v2 := f.repo.Blob("v1"), f.repo.Blob("v2")

	env, err := f.svc.Envelope(context.Background(), v2, query.Window{}, false)
	require.NoError(t, err)
	assert.Equal(t, v2, env.ID)
	assert.Equal(t, int64(2), env.Length)
	assert.Equal(t, store.Chars, env.Indices)
	assert.Equal(t, "v2", env.Body)
	assert.Equal(t, v1, env.PreviousVersion.ID)
	assert.Equal(t, []changeset.Change{{From: "0/-/2", To: "0/-/2"}}, env.PreviousVersion.Changes)
	assert.Empty(t, env.NextVersion.ID)
	require.Len(t, env.Names, 1)
	assert.Equal(t, f.c2, env.Names[0].CommitID)

	out, err := f.svc.Object(context.Background(), v1, query.Window{}, true, FormatJSON)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(out.Body, &raw))
	assert.NotContains(t, raw, "body")
	assert.Equal(t, map[string]any{}, raw["previous_version"])
	next := raw["next_version"].(map[string]any)
	assert.Equal(t, v2, next["id"])
	assert.Equal(t, map[string]any{"start": float64(0), "end": float64(2)}, raw["window"])
}

func TestMetadata(t *testing.T) {
	f := newFixture(t)

	meta, err := f.svc.Metadata(context.Background(), "http://localhost:8000/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/", meta.Site)
	assert.Equal(t, "https://example.com/repo.git", meta.Origin)
	assert.Equal(t, f.c3, meta.Head)
	assert.Equal(t, time.Unix(300, 0).Format("2006-01-02 15:04:05"), meta.LastUpdated)
	assert.Equal(t, "sha1", meta.ContentID)
	assert.Equal(t, "/meta", meta.Meta)
	assert.Equal(t, "/object", meta.Object)
	assert.Equal(t, "/versions", meta.Versions)
	assert.Equal(t, "https://example.com/lib.git", meta.Mirrors["vendor/lib"])
}

func TestDirectory_EmptyRepositoryFails(t *testing.T) {
	repo := storetest.New()
	svc := New(repo, snapshot.NewForRepo(repo, snapshot.Options{}), changeset.New(repo, changeset.Options{}), Options{})

	_, err := svc.Directory(context.Background(), FormatPlain)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
