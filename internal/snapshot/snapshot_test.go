package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kittclouds/worldmemory/internal/chatlog"
	"github.com/kittclouds/worldmemory/internal/memorystore"
	"github.com/kittclouds/worldmemory/internal/model"
	"github.com/kittclouds/worldmemory/internal/testutil"
)

func newTestSnapshot() *Snapshot {
	return New(memorystore.New(testutil.FakeEmbedder{}), chatlog.New("you are the DM", 1000))
}

func TestExportImportReplace_PreservesStore(t *testing.T) {
	ctx := context.Background()
	snap := newTestSnapshot()

	_, err := snap.Store.AddMemory(ctx, "Finnigan lurks in the alley", []string{"Finnigan", "alley"},
		model.TypeThreat, &model.NPCUpdate{Name: "Finnigan", RelationshipToPlayer: model.RelHostile}, false, 0.75, "")
	require.NoError(t, err)
	snap.Chat.Append(chatlog.Message{Role: "user", Content: "hello", Timestamp: 1001})

	exp := snap.Export()
	require.Len(t, exp.WorldState.Memories, 1)
	require.Len(t, exp.WorldState.NPCIndex, 1)
	require.Len(t, exp.ChatMessages, 1)

	fresh := newTestSnapshot()
	summary, err := fresh.Import(ctx, exp, ModeReplace)
	require.NoError(t, err)
	require.Equal(t, 1, summary.WorldMemories)
	require.Equal(t, 1, summary.NPCs)
	require.Equal(t, 1, summary.ChatMessages)

	mems := fresh.Store.SessionMemories()
	require.Len(t, mems, 1)
	require.Equal(t, "Finnigan lurks in the alley", mems[0].Summary)
}

func TestImportMerge_DedupesByIDAndCanonicalText(t *testing.T) {
	ctx := context.Background()
	snap := newTestSnapshot()
	id, err := snap.Store.AddMemory(ctx, "the goblin hides in the cave", []string{"goblin", "cave"},
		model.TypeOther, nil, false, 0.75, "")
	require.NoError(t, err)

	exp := Export{
		WorldState: WorldState{
			Memories: []*model.Memory{
				{ID: id, Summary: "the goblin hides in the cave", Type: model.TypeOther, Entities: []string{"goblin", "cave"}},
				{Summary: "a new fact about the tavern", Type: model.TypeOther},
			},
		},
	}
	summary, err := snap.Import(ctx, exp, ModeMerge)
	require.NoError(t, err)
	require.Equal(t, 1, summary.WorldMemories)
	require.Len(t, snap.Store.SessionMemories(), 2)
}

func TestImportMerge_NPCFieldLevelOverwrite(t *testing.T) {
	ctx := context.Background()
	snap := newTestSnapshot()
	snap.Store.UpsertNPC(model.NPCUpdate{Name: "Finnigan", Intent: "ambush", LastSeenLocation: "Alley"})

	exp := Export{
		WorldState: WorldState{
			NPCIndex: map[string]*model.NPCSnapshot{
				"finnigan": {Name: "Finnigan", Intent: "hunts player"},
			},
		},
	}
	_, err := snap.Import(ctx, exp, ModeMerge)
	require.NoError(t, err)

	got, ok := snap.Store.NPCIndex().Get("finnigan")
	require.True(t, ok)
	require.Equal(t, "hunts player", got.Intent)
	require.Equal(t, "Alley", got.LastSeenLocation)
}

func TestImportMerge_LocationGraphUnion(t *testing.T) {
	ctx := context.Background()
	snap := newTestSnapshot()
	graph := snap.Store.LocationGraph()
	graph.Upsert(&model.LocationNode{Name: "Town Square", Description: "short"})

	exp := Export{
		WorldState: WorldState{
			LocationGraph: LocationGraphExport{
				Locations: map[string]*model.LocationNode{
					"Town Square": {Name: "Town Square", Description: "a much longer description of the square"},
				},
				PlayerLocation: "Town Square",
			},
		},
	}
	_, err := snap.Import(ctx, exp, ModeMerge)
	require.NoError(t, err)

	node := snap.Store.LocationGraph().Get("Town Square")
	require.Equal(t, "a much longer description of the square", node.Description)
	require.Equal(t, "Town Square", snap.Store.LocationGraph().PlayerLocation)
}
