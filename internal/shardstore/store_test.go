package shardstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kittclouds/worldmemory/internal/memorystore"
	"github.com/kittclouds/worldmemory/internal/model"
	"github.com/kittclouds/worldmemory/internal/testutil"
	"github.com/kittclouds/worldmemory/internal/vectormath"
)

func newTestStore(t *testing.T) (*Store, *memorystore.Store, string) {
	t.Helper()
	dir := t.TempDir()
	mem := memorystore.New(testutil.FakeEmbedder{})
	return New(mem, testutil.FakeEmbedder{}, dir), mem, dir
}

func TestPersistThenLoad_RoundTripsShard(t *testing.T) {
	ss, mem, _ := newTestStore(t)
	ctx := context.Background()

	mem.EnsureIngestShard("ing1")
	mem.SetIngestName("ing1", "Chapter One")
	mem.UpsertIngestLocation("ing1", &model.LocationNode{Name: "The Alley", Description: "A dark alley"})
	mem.AddIngestMemory("ing1", &model.Memory{
		ID: "m1", Summary: "Finnigan lurks", Type: model.TypeThreat,
		Entities: []string{"Finnigan"}, Timestamp: 100,
	})
	mem.AddIngestNPCUpdate("ing1", model.NPCUpdate{Name: "Finnigan", RelationshipToPlayer: model.RelHostile}, nil)

	require.NoError(t, ss.Persist("ing1"))
	require.FileExists(t, filepath.Join(ss.baseDir, "ing1.json"))

	mem.DeleteShard("ing1")
	require.Nil(t, mem.Shard("ing1"))

	elapsed, err := ss.Load(ctx, "ing1", 500)
	require.NoError(t, err)
	require.GreaterOrEqual(t, elapsed.Nanoseconds(), int64(0))

	loaded := mem.Shard("ing1")
	require.NotNil(t, loaded)
	require.Equal(t, "Chapter One", loaded.Name)
	require.Len(t, loaded.Memories, 1)
	require.Equal(t, int64(500), loaded.Memories[0].Timestamp)
	require.InDelta(t, 1.0, vectormath.Norm(loaded.Memories[0].Vector), 1e-5)
	require.Contains(t, loaded.NPCIndex, "finnigan")
	require.Contains(t, loaded.Nodes, "The Alley")
}

func TestLoadAll_SkipsMalformedFiles(t *testing.T) {
	ss, mem, dir := newTestStore(t)
	ctx := context.Background()

	mem.EnsureIngestShard("good")
	mem.AddIngestMemory("good", &model.Memory{ID: "m1", Summary: "ok", Type: model.TypeOther})
	require.NoError(t, ss.Persist("good"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644))

	mem.DeleteShard("good")
	require.NoError(t, ss.LoadAll(ctx, 10))

	require.NotNil(t, mem.Shard("good"))
	require.Nil(t, mem.Shard("bad"))
}

func TestList_ReportsNameAndCounts(t *testing.T) {
	ss, mem, _ := newTestStore(t)
	mem.EnsureIngestShard("ing1")
	mem.SetIngestName("ing1", "Zelda")
	mem.AddIngestMemory("ing1", &model.Memory{ID: "m1", Type: model.TypeOther})
	require.NoError(t, ss.Persist("ing1"))

	mem.EnsureIngestShard("ing2")
	mem.SetIngestName("ing2", "Alpha")
	require.NoError(t, ss.Persist("ing2"))

	list, err := ss.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "Alpha", list[0].Name)
	require.Equal(t, "Zelda", list[1].Name)
	require.Equal(t, 1, list[1].Memories)
}

func TestRename_UpdatesDiskAndMemory(t *testing.T) {
	ss, mem, _ := newTestStore(t)
	mem.EnsureIngestShard("ing1")
	require.NoError(t, ss.Persist("ing1"))

	require.NoError(t, ss.Rename("ing1", "  New   Name  "))
	require.Equal(t, "New Name", mem.Shard("ing1").Name)

	ctx := context.Background()
	mem.DeleteShard("ing1")
	_, err := ss.Load(ctx, "ing1", 1)
	require.NoError(t, err)
	require.Equal(t, "New Name", mem.Shard("ing1").Name)
}

func TestDelete_RemovesFileAndMemoryState(t *testing.T) {
	ss, mem, dir := newTestStore(t)
	mem.EnsureIngestShard("ing1")
	require.NoError(t, ss.Persist("ing1"))

	require.NoError(t, ss.Delete("ing1"))
	require.NoFileExists(t, filepath.Join(dir, "ing1.json"))
	require.Nil(t, mem.Shard("ing1"))

	err := ss.Delete("ing1")
	require.Error(t, err)
}

func TestLoad_MissingShardReturnsNotFound(t *testing.T) {
	ss, _, _ := newTestStore(t)
	_, err := ss.Load(context.Background(), "nope", 1)
	require.Error(t, err)
}
