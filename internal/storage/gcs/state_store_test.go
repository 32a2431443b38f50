package gcs

import (
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	_, err = New(&storage.Client{}, Config{})
	require.Error(t, err)

	store, err := New(&storage.Client{}, Config{Bucket: "b"})
	require.NoError(t, err)
	require.Equal(t, "gs://b/frontier/state.json", store.URI())
}

func TestSnapshotCodec(t *testing.T) {
	t.Parallel()

	data, err := encodeSnapshot(ingest.FrontierSnapshot{ProcessedURLs: []string{"https://a"}})
	require.NoError(t, err)
	require.JSONEq(t, `{"visitedURLs":[],"processedURLs":["https://a"]}`, string(data))

	got, err := decodeSnapshot([]byte(`{"processedURLs":["https://a"]}`))
	require.NoError(t, err)
	require.Equal(t, []string{}, got.VisitedURLs)
	require.Equal(t, []string{"https://a"}, got.ProcessedURLs)

	_, err = decodeSnapshot([]byte(`[`))
	require.ErrorIs(t, err, ingest.ErrStore)
}
