// Package local_test tests the local filesystem state store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
	"github.com/JakeFAU/graphbuilder/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "record")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: path})
		assert.Error(t, err)
	})
}

func TestStateStoreRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.VisitedURLs)
	assert.Empty(t, empty.ProcessedURLs)

	snap := ingest.FrontierSnapshot{
		VisitedURLs:   []string{"https://a.example", "https://b.example"},
		ProcessedURLs: []string{"https://a.example"},
	}
	require.NoError(t, store.Save(ctx, snap))

	raw, err := os.ReadFile(filepath.Join(dir, local.ProcessedFile))
	require.NoError(t, err)
	assert.JSONEq(t, `["https://a.example"]`, string(raw))

	reopened, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	got, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestStateStoreCorruptFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, local.VisitedFile), []byte("{not json"), 0o600))
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	require.ErrorIs(t, err, ingest.ErrStore)
}
