package uuid

import (
	"strings"
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDIsUniqueV7(t *testing.T) {
	t.Parallel()

	gen := New()
	seen := make(map[string]struct{}, 32)
	for range 32 {
		id, err := gen.NewID()
		require.NoError(t, err)
		parsed, err := goUUID.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, goUUID.Version(7), parsed.Version())
		assert.NotContains(t, seen, id)
		seen[id] = struct{}{}
	}
}

func TestNewPrefixedID(t *testing.T) {
	t.Parallel()

	gen := New()
	id, err := gen.NewPrefixedID("entity_extraction")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, "entity_extraction-"))
	_, err = goUUID.Parse(strings.TrimPrefix(id, "entity_extraction-"))
	require.NoError(t, err)

	bare, err := gen.NewPrefixedID("")
	require.NoError(t, err)
	_, err = goUUID.Parse(bare)
	assert.NoError(t, err)
}
