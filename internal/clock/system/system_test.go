package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
)

var _ ingest.Clock = (*Clock)(nil)

func TestNowIsCurrentUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	require.NotNil(t, clk)

	got := clk.Now()
	assert.Equal(t, time.UTC, got.Location())
	assert.WithinDuration(t, time.Now(), got, time.Second)
}

func TestSinceNeverNegative(t *testing.T) {
	t.Parallel()

	clk := New()
	start := clk.Now()
	later := clk.Now()
	assert.False(t, later.Before(start))
	assert.GreaterOrEqual(t, clk.Since(start), time.Duration(0))
}
