package memorystore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kittclouds/worldmemory/internal/model"
	"github.com/kittclouds/worldmemory/internal/testutil"
	"github.com/kittclouds/worldmemory/internal/vectormath"
)

func newTestStore() *Store {
	return New(testutil.FakeEmbedder{})
}

func TestAddMemory_VectorIsUnitNorm(t *testing.T) {
	s := newTestStore()
	id, err := s.AddMemory(context.Background(), "Finnigan attacks the player in the alley",
		[]string{"Finnigan", "alley"}, model.TypeThreat, nil, false, 0.75, "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	mems := s.SessionMemories()
	require.Len(t, mems, 1)
	require.InDelta(t, 1.0, vectormath.Norm(mems[0].Vector), 1e-5)
}

func TestAddMemory_DedupeReturnsExistingID(t *testing.T) {
	s := newTestStore()
	id1, err := s.AddMemory(context.Background(), "the goblin hides in the cave",
		[]string{"goblin", "cave"}, model.TypeOther, nil, true, 0.5, "")
	require.NoError(t, err)

	id2, err := s.AddMemory(context.Background(), "the goblin hides in the cave",
		[]string{"goblin", "cave"}, model.TypeOther, nil, true, 0.5, "")
	require.NoError(t, err)
	require.Equal(t, id1, id2)
	require.Len(t, s.SessionMemories(), 1)
}

func TestAddMemory_NoDedupeInsertsTwice(t *testing.T) {
	s := newTestStore()
	_, _ = s.AddMemory(context.Background(), "the goblin hides", []string{"goblin"}, model.TypeOther, nil, false, 0.5, "")
	_, _ = s.AddMemory(context.Background(), "the goblin hides", []string{"goblin"}, model.TypeOther, nil, false, 0.5, "")
	require.Len(t, s.SessionMemories(), 2)
}

// Scenario 1 from spec.md §8: insert a hostile-NPC threat memory, then
// confirm retrieval and NPC snapshot scoring both reflect it.
func TestScenario_HostileNPCThreatMemory(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.AddMemory(ctx, "Finnigan attacks the player in the alley",
		[]string{"Finnigan", "alley"}, model.TypeThreat,
		&model.NPCUpdate{
			Name:                 "Finnigan",
			RelationshipToPlayer: model.RelHostile,
			LastSeenLocation:     "Alley",
			Confidence:           0.9,
		}, false, 0.75, "")
	require.NoError(t, err)

	results, err := s.Retrieve(ctx, "who is hostile?", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "Finnigan attacks the player in the alley", results[0].Summary)

	min := 0.0
	npcs, err := s.GetRelevantNPCSnapshotsScored(ctx, "Finnigan", 3, &min)
	require.NoError(t, err)
	require.NotEmpty(t, npcs)
	require.Equal(t, model.RelHostile, npcs[0].Snapshot.RelationshipToPlayer)
}

// Scenario 3 from spec.md §8: relationship escalation then de-escalation
// attempt must not regress the stored rank.
func TestScenario_RelationshipEscalation(t *testing.T) {
	s := newTestStore()
	snap1 := s.UpsertNPC(model.NPCUpdate{Name: "A", RelationshipToPlayer: model.RelFriendly})
	require.Equal(t, model.RelFriendly, snap1.RelationshipToPlayer)

	snap2 := s.UpsertNPC(model.NPCUpdate{Name: "A", RelationshipToPlayer: model.RelNeutral})
	require.Equal(t, model.RelFriendly, snap2.RelationshipToPlayer)
}

func TestReset_ClearsSessionButNotDiskShards(t *testing.T) {
	s := newTestStore()
	_, _ = s.AddMemory(context.Background(), "a fact", nil, model.TypeOther, nil, false, 0.5, "")
	s.EnsureIngestShard("shard1")
	s.Reset()
	require.Empty(t, s.SessionMemories())
	require.Nil(t, s.Shard("shard1"))
}

func TestStateSummary_CountsOnly(t *testing.T) {
	s := newTestStore()
	_, _ = s.AddMemory(context.Background(), "a fact", nil, model.TypeOther, nil, false, 0.5, "")
	s.EnsureIngestShard("shard1")
	s.AddIngestMemory("shard1", &model.Memory{ID: "m1"})

	sum := s.StateSummary()
	require.Equal(t, 1, sum.SessionMemories)
	require.Equal(t, 1, sum.ShardCount)
	require.Equal(t, 1, sum.ShardMemories)
}

// AddIngestNPCUpdate must re-derive npcs_present from the NPC index rather
// than accumulate it, matching upsertNPCLocked's session-graph behavior.
func TestAddIngestNPCUpdate_MovesPresenceBetweenLocations(t *testing.T) {
	s := newTestStore()
	s.EnsureIngestShard("shard1")
	s.UpsertIngestLocation("shard1", &model.LocationNode{Name: "Alley"})
	s.UpsertIngestLocation("shard1", &model.LocationNode{Name: "Town Square"})

	s.AddIngestNPCUpdate("shard1", model.NPCUpdate{Name: "Finnigan", LastSeenLocation: "Alley"}, nil)
	sh := s.Shard("shard1")
	require.Contains(t, sh.Nodes["Alley"].NPCsPresent, "finnigan")
	require.NotContains(t, sh.Nodes["Town Square"].NPCsPresent, "finnigan")

	s.AddIngestNPCUpdate("shard1", model.NPCUpdate{Name: "Finnigan", LastSeenLocation: "Town Square"}, nil)
	sh = s.Shard("shard1")
	require.NotContains(t, sh.Nodes["Alley"].NPCsPresent, "finnigan")
	require.Contains(t, sh.Nodes["Town Square"].NPCsPresent, "finnigan")
}

func TestGetRelevantNPCSnapshotsScored_PrefixShortlistAboveThreshold(t *testing.T) {
	s := newTestStore()
	for i := 0; i < npcPrefilterThreshold+1; i++ {
		s.UpsertNPC(model.NPCUpdate{Name: fmt.Sprintf("Filler%d", i)})
	}
	s.UpsertNPC(model.NPCUpdate{Name: "Finnigan", RelationshipToPlayer: model.RelHostile})

	npcs, err := s.GetRelevantNPCSnapshotsScored(context.Background(), "Finnigan", 3, nil)
	require.NoError(t, err)
	require.NotEmpty(t, npcs)

	found := false
	for _, n := range npcs {
		if n.Snapshot.Name == "Finnigan" {
			found = true
		}
	}
	require.True(t, found, "prefix shortlist must include the NPC matching the query token")
}

func TestWithClock_ControlsTimestamp(t *testing.T) {
	fixed := time.Unix(123456, 0)
	s := newTestStore().WithClock(func() time.Time { return fixed })
	_, _ = s.AddMemory(context.Background(), "a fact", nil, model.TypeOther, nil, false, 0.5, "")
	require.Equal(t, int64(123456), s.SessionMemories()[0].Timestamp)
}
