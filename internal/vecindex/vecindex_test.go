package vecindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRebuildAndSearch_ReturnsNearestFirst(t *testing.T) {
	ctx := context.Background()
	idx, err := New(3)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	err = idx.Rebuild(ctx, []Item{
		{ID: "a", Vector: []float32{1, 0, 0}},
		{ID: "b", Vector: []float32{0, 1, 0}},
		{ID: "c", Vector: []float32{0.9, 0.1, 0}},
	})
	require.NoError(t, err)

	ids, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, ids)
	require.Equal(t, "a", ids[0])
}

func TestSearch_DimensionMismatchReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	idx, err := New(3)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	ids, err := idx.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Empty(t, ids)
}
