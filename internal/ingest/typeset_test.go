package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTypeSet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{name: "empty", input: "", want: []string{}},
		{name: "whitespace only", input: "   ", want: []string{}},
		{name: "dedup and trim", input: "Person, Organization,Person", want: []string{"Organization", "Person"}},
		{name: "underscore", input: "WORKS_AT", want: []string{"WORKS_AT"}},
		{name: "empty element", input: "Person,,Place", wantErr: true},
		{name: "invalid chars", input: "Person-Name", wantErr: true},
		{name: "leading digit", input: "1Person", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			set, err := ParseTypeSet(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, set.Labels())
		})
	}
}

func TestTypeSetContains(t *testing.T) {
	t.Parallel()

	var unrestricted TypeSet
	require.True(t, unrestricted.Empty())
	require.True(t, unrestricted.Contains("Anything"))

	set, err := NewTypeSet("Person", "Place")
	require.NoError(t, err)
	require.False(t, set.Empty())
	require.True(t, set.Contains("Person"))
	require.False(t, set.Contains("Event"))
	require.Equal(t, "Person,Place", set.String())
}

func TestDocumentStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, StatusNew.Terminal())
	require.False(t, StatusProcessing.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.True(t, StatusCancelled.Terminal())
}
