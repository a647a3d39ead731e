package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderVersion(t *testing.T) {
	assert.Equal(t, "2.0.1", headerVersion("-- greeting fragment\n-- version: 2.0.1\nreturn {}"))
	assert.Equal(t, DefaultVersion, headerVersion("return {}\n-- version: 9"))
	assert.Equal(t, DefaultVersion, headerVersion(""))
}

func TestLoaderLoadAllAndWatch(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "greet.lua"), []byte("-- version: 1.2.0\nreturn {type = \"TEXT\", content = \"hi\"}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	loader := NewLoader(dir, store)
	require.NoError(t, loader.LoadAll(ctx))

	p, err := store.GetPluginByName(ctx, "greet")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", p.Version)
	id, ok := loader.Loaded(filepath.Join(dir, "greet.lua"))
	assert.True(t, ok)
	assert.Equal(t, p.ID, id)

	_, err = store.GetPluginByName(ctx, "notes")
	assert.Error(t, err)

	require.NoError(t, loader.Watch(ctx))
	defer loader.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bye.lua"), []byte("return {type = \"NO_REPLY\"}"), 0o644))
	require.Eventually(t, func() bool {
		_, err := store.GetPluginByName(ctx, "bye")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestLoaderMissingDir(t *testing.T) {
	store := newSeededStore(t)
	loader := NewLoader(filepath.Join(t.TempDir(), "absent"), store)
	assert.NoError(t, loader.LoadAll(context.Background()))
}
