package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"verso/internal/changeset"
	"verso/internal/service"
	"verso/internal/snapshot"
	"verso/internal/store"
	"verso/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	repo *storetest.Repo
	mux  *http.ServeMux
}

func newTestServer(t *testing.T, routes service.Routes, srvHome string) *testServer {
	t.Helper()
	repo := storetest.New()
	repo.Commit(100, "C1", map[string]string{"f": "v1"})
	repo.Commit(200, "C2", map[string]string{"f": "v2", "docs/readme": "hello world"})

	super := store.NewSuper(repo)
	svc := service.New(super,
		snapshot.NewForRepo(super, snapshot.Options{}),
		changeset.New(super, changeset.Options{}),
		service.Options{Routes: routes},
	)

	mux := http.NewServeMux()
	NewHandler(svc, Options{BaseURL: "/", SrvHome: srvHome}).Register(mux)
	return &testServer{repo: repo, mux: mux}
}

func (s *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandler_Directory(t *testing.T) {
	s := newTestServer(t, service.Routes{}, "")

	for _, path := range []string{"/object", "/object/", "/versions", "/versions/"} {
		t.Run(path, func(t *testing.T) {
			rec := s.get(t, path)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.True(t, strings.HasPrefix(rec.Body.String(), service.DirectoryHeader))
			assert.Equal(t, 4, strings.Count(rec.Body.String(), "\n"))
		})
	}
}

func TestHandler_Object(t *testing.T) {
	s := newTestServer(t, service.Routes{}, "")
	readme := s.repo.Blob("hello world")

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"whole", "/object/" + readme, http.StatusOK, "hello world"},
		{"window", "/object/" + readme + "/6/-/11", http.StatusOK, "world"},
		{"from", "/object/" + readme + "/6/-", http.StatusOK, "world"},
		{"until", "/object/" + readme + "/-/5", http.StatusOK, "hello"},
		{"clamped", "/object/" + readme + "/0/-/10000000", http.StatusOK, "hello world"},
		{"nobody", "/object/" + readme + "?nobody", http.StatusOK, ""},
		{"unknown id", "/object/0000", http.StatusNotFound, "Not Found\n"},
		{"bad window", "/object/" + readme + "/a/-/b", http.StatusNotFound, "404 page not found\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.get(t, tt.path)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, service.ImmutableCacheControl, rec.Header().Get("Cache-Control"))
			}
		})
	}
}

func TestHandler_Versions(t *testing.T) {
	s := newTestServer(t, service.Routes{}, "")
	v1, v2 := s.repo.Blob("v1"), s.repo.Blob("v2")

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"all", "/versions/f", http.StatusOK, v2 + "\n" + v1},
		{"range", "/versions/f/150/-/250", http.StatusOK, v2},
		{"nested", "/versions/docs/readme", http.StatusOK, s.repo.Blob("hello world")},
		{"unknown", "/versions/nope", http.StatusNotFound, "Not Found\n"},
		{"bad bound", "/versions/f/1/-/x", http.StatusBadRequest, "Non-Integer Time Index\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.get(t, tt.path)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestHandler_Meta(t *testing.T) {
	s := newTestServer(t, service.Routes{}, "")

	rec := s.get(t, "/meta")
	require.Equal(t, http.StatusOK, rec.Code)
	var meta service.Metadata
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&meta))
	assert.Equal(t, "http://example.com/", meta.Site)
	assert.Equal(t, "/object", meta.Object)
	assert.Equal(t, "sha1", meta.ContentID)
}

func TestHandler_MetaStructuredForms(t *testing.T) {
	s := newTestServer(t, service.Routes{}, "")
	v1, v2 := s.repo.Blob("v1"), s.repo.Blob("v2")

	rec := s.get(t, "/meta/versions/f")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.ContentTypeJSON, rec.Header().Get("Content-Type"))
	var list service.VersionList
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Equal(t, "f", list.Name)
	require.Len(t, list.Versions, 2)

	rec = s.get(t, "/meta/object/"+v2)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Cache-Control"))
	var env service.Envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Equal(t, v1, env.PreviousVersion.ID)
	assert.Equal(t, "v2", env.Body)

	rec = s.get(t, "/meta/object")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rows))
	assert.Len(t, rows, 3)

	rec = s.get(t, "/meta/unknown/x")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_CustomRoutes(t *testing.T) {
	s := newTestServer(t, service.Routes{Object: "o", Versions: "v", Meta: "m"}, "")

	assert.Equal(t, http.StatusOK, s.get(t, "/o").Code)
	assert.Equal(t, http.StatusOK, s.get(t, "/v/f").Code)
	assert.Equal(t, http.StatusOK, s.get(t, "/m/v/f").Code)
	assert.Equal(t, http.StatusNotFound, s.get(t, "/object").Code)
}

func TestHandler_StaticAndHealth(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>site</h1>"), 0644))
	s := newTestServer(t, service.Routes{}, dir)

	rec := s.get(t, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "site")

	rec = s.get(t, "/health")
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = s.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
