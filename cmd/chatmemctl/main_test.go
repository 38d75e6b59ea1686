package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/smallnest/chatmemory/store"
	"github.com/smallnest/chatmemory/store/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	historyDir := filepath.Join(dir, "history")
	path := filepath.Join(dir, "config.yaml")
	content := "store:\n  backend: file\n  file:\n    dir: " + historyDir + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path, historyDir
}

func seed(t *testing.T, dir string) {
	t.Helper()
	s, err := file.NewFileHistoryStore(dir)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.AppendHistory(ctx, store.NewKey("u1", "s1"), []store.Entry{
		{Role: store.RoleUser, Message: "hi"},
		{Role: store.RoleBot, Message: "hello"},
	}))
	require.NoError(t, s.AppendHistory(ctx, store.NewKey("u1", "s2"), []store.Entry{
		{Role: store.RoleUser, Message: "again"},
	}))
}

func TestRun_Show(t *testing.T) {
	cfg, dir := writeConfig(t)
	seed(t, dir)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, []string{"show", "u1", "s1"}, &out))
	assert.Contains(t, out.String(), "session s1")
	assert.Contains(t, out.String(), "hello")

	out.Reset()
	require.NoError(t, run(context.Background(), cfg, []string{"show", "u1"}, &out))
	assert.Contains(t, out.String(), "session s1")
	assert.Contains(t, out.String(), "session s2")

	out.Reset()
	require.NoError(t, run(context.Background(), cfg, []string{"show", "nobody"}, &out))
	assert.Contains(t, out.String(), "no sessions for nobody")
}

func TestRun_Delete(t *testing.T) {
	cfg, dir := writeConfig(t)
	seed(t, dir)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, []string{"delete", "u1", "s1"}, &out))
	assert.Contains(t, out.String(), "u1/s1")

	assert.Error(t, run(context.Background(), cfg, []string{"delete", "u1", "s1"}, &out))
}

func TestRun_Ping(t *testing.T) {
	cfg, _ := writeConfig(t)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, []string{"ping"}, &out))
	assert.Contains(t, out.String(), "file store answered")
}

func TestRun_InvalidArguments(t *testing.T) {
	cfg, _ := writeConfig(t)
	assert.Error(t, run(context.Background(), cfg, []string{"show"}, &bytes.Buffer{}))
	assert.Error(t, run(context.Background(), cfg, []string{"frobnicate"}, &bytes.Buffer{}))
}
