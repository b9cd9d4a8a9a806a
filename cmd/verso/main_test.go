package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"verso/client"
	"verso/internal/config"
	"verso/internal/server"
	"verso/internal/service"
	"verso/internal/store/storetest"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func init() {
	color.NoColor = true
}

func newLocal(t *testing.T) (*storetest.Repo, *localBackend) {
	t.Helper()
	repo := storetest.New()
	repo.Commit(100, "C1", map[string]string{"f": "one\ntwo\n"})
	repo.Commit(200, "C2", map[string]string{"f": "one\n2\n"})

	cfg := config.Default()
	cfg.SrvHome = ""
	srv, err := server.New(repo, cfg, nil)
	require.NoError(t, err)
	b := newLocalBackend(srv)
	t.Cleanup(func() { b.Close() })
	return repo, b
}

func TestLocalBackend(t *testing.T) {
	repo, b := newLocal(t)
	ctx := context.Background()
	older, newer := repo.Blob("one\ntwo\n"), repo.Blob("one\n2\n")

	entries, err := b.Directory(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, newer, entries[0].ContentID)

	list, err := b.Versions(ctx, "f", client.Range{End: client.Int64(150)})
	require.NoError(t, err)
	require.Len(t, list.Versions, 1)
	assert.Equal(t, older, list.Versions[0].ID)

	body, err := b.Object(ctx, newer, client.Range{Start: client.Int64(4)})
	require.NoError(t, err)
	assert.Equal(t, "2\n", string(body))

	env, err := b.Envelope(ctx, newer, true)
	require.NoError(t, err)
	assert.Equal(t, older, env.PreviousVersion.ID)
	assert.Equal(t, "one\n2\n", env.Body)

	meta, err := b.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/object", meta.Object)
}

func TestUnifiedDiff(t *testing.T) {
	diff, err := unifiedDiff("a", "b", "one\ntwo\n", "one\n2\n")
	require.NoError(t, err)
	assert.Contains(t, diff, "--- a")
	assert.Contains(t, diff, "+++ b")
	assert.Contains(t, diff, "-two\n")
	assert.Contains(t, diff, "+2\n")

	diff, err = unifiedDiff("", "b", "", "new\n")
	require.NoError(t, err)
	assert.Contains(t, diff, "--- /dev/null")

	diff, err = unifiedDiff("a", "b", "same\n", "same\n")
	require.NoError(t, err)
	assert.Empty(t, diff)
}

func TestWriteMetadata(t *testing.T) {
	meta := &service.Metadata{Head: "abc", LastUpdated: "2024-01-02 03:04:05", Object: "/object"}

	var buf bytes.Buffer
	require.NoError(t, writeMetadata(&buf, meta, "yaml"))
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, "abc", fromYAML["head"])
	assert.Equal(t, "2024-01-02 03:04:05", fromYAML["last_updated"])

	buf.Reset()
	require.NoError(t, writeMetadata(&buf, meta, "json"))
	var fromJSON service.Metadata
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.Equal(t, *meta, fromJSON)

	assert.Error(t, writeMetadata(&buf, meta, "xml"))
}

func TestPrintEnvelope(t *testing.T) {
	repo, b := newLocal(t)
	env, err := b.Envelope(context.Background(), repo.Blob("one\ntwo\n"), false)
	require.NoError(t, err)

	var buf bytes.Buffer
	printEnvelope(&buf, env)
	assert.Contains(t, buf.String(), "object "+env.ID)
	assert.Contains(t, buf.String(), "next "+repo.Blob("one\n2\n"))
	assert.NotContains(t, buf.String(), "previous")
}
