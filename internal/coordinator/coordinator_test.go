package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kittclouds/worldmemory/internal/chatlog"
	"github.com/kittclouds/worldmemory/internal/config"
	"github.com/kittclouds/worldmemory/internal/memorystore"
	"github.com/kittclouds/worldmemory/internal/model"
	"github.com/kittclouds/worldmemory/internal/planner"
	"github.com/kittclouds/worldmemory/internal/retrieval"
	"github.com/kittclouds/worldmemory/internal/testutil"
)

func newTestCoordinator(t *testing.T, plan *testutil.FakePlanner) (*Coordinator, *memorystore.Store) {
	t.Helper()
	store := memorystore.New(testutil.FakeEmbedder{})
	cfg := config.Config{
		NPCKDefault:                 3,
		NPCMinScore:                 0.55,
		SimilarityThreshold:         0.75,
		ConfidenceThresholdMemory:   0.6,
		ConfidenceThresholdLocation: 0.7,
	}
	eng := retrieval.New(store, cfg)
	chat := chatlog.New("you are the DM", 0)
	return New(store, eng, plan, chat, cfg), store
}

func TestHandleMessage_ReturnsReplyAndAppendsChat(t *testing.T) {
	ctx := context.Background()
	plan := &testutil.FakePlanner{}
	coord, _ := newTestCoordinator(t, plan)

	reply, err := coord.HandleMessage(ctx, "look around")
	require.NoError(t, err)
	require.Equal(t, "You go to look around", reply)
	require.Len(t, coord.Chat.Messages(), 2)
}

func TestHandleMessage_MemorySideEffect_InsertsAboveConfidenceGate(t *testing.T) {
	ctx := context.Background()
	plan := &testutil.FakePlanner{
		ExtractTurnMemoryFunc: func(ctx context.Context, message, reply string) (*planner.CandidateMemory, error) {
			return &planner.CandidateMemory{Summary: "the door was locked", Type: "other", Confidence: 0.9}, nil
		},
	}
	coord, store := newTestCoordinator(t, plan)

	_, err := coord.HandleMessage(ctx, "try the door")
	require.NoError(t, err)
	require.Len(t, store.SessionMemories(), 1)
	require.Equal(t, "the door was locked", store.SessionMemories()[0].Summary)
}

func TestHandleMessage_MemorySideEffect_SkipsBelowConfidenceGate(t *testing.T) {
	ctx := context.Background()
	plan := &testutil.FakePlanner{
		ExtractTurnMemoryFunc: func(ctx context.Context, message, reply string) (*planner.CandidateMemory, error) {
			return &planner.CandidateMemory{Summary: "a minor detail", Type: "other", Confidence: 0.3}, nil
		},
	}
	coord, store := newTestCoordinator(t, plan)

	_, err := coord.HandleMessage(ctx, "glance around")
	require.NoError(t, err)
	require.Empty(t, store.SessionMemories())
}

func TestHandleMessage_MovementSideEffect_PlannerConfirmed(t *testing.T) {
	ctx := context.Background()
	plan := &testutil.FakePlanner{
		InferMovementFunc: func(ctx context.Context, currentLocation string, exits []planner.Exit, message, reply string) (planner.MovementInference, error) {
			return planner.MovementInference{Move: true, Target: "Market Square", Confidence: 0.9}, nil
		},
	}
	coord, store := newTestCoordinator(t, plan)
	graph := store.LocationGraph()
	graph.Upsert(&model.LocationNode{Name: "Town Gate"})
	graph.Upsert(&model.LocationNode{Name: "Market Square"})
	graph.SetPlayerLocation("Town Gate")

	_, err := coord.HandleMessage(ctx, "head to the market")
	require.NoError(t, err)
	require.Equal(t, "Market Square", store.LocationGraph().PlayerLocation)
}

func TestHandleMessage_MovementFallback_TravelPhraseHeuristic(t *testing.T) {
	ctx := context.Background()
	plan := &testutil.FakePlanner{
		InferMovementFunc: func(ctx context.Context, currentLocation string, exits []planner.Exit, message, reply string) (planner.MovementInference, error) {
			return planner.MovementInference{}, context.Canceled
		},
		GenerateFunc: func(ctx context.Context, parts planner.PromptParts) (string, error) {
			return "You walk to the market square.", nil
		},
	}
	coord, store := newTestCoordinator(t, plan)
	graph := store.LocationGraph()
	graph.Upsert(&model.LocationNode{Name: "Town Gate"})
	graph.Upsert(&model.LocationNode{Name: "Market Square"})
	graph.Get("Town Gate").AddEdge(model.Edge{ToLocation: "Market Square", TravelVerb: "walk"}, graph)
	graph.SetPlayerLocation("Town Gate")

	_, err := coord.HandleMessage(ctx, "go to the market square")
	require.NoError(t, err)
	require.Equal(t, "Market Square", store.LocationGraph().PlayerLocation)
}

func TestHandleMessage_GraphChangeSideEffect_AddsLocationAndEdge(t *testing.T) {
	ctx := context.Background()
	plan := &testutil.FakePlanner{
		ExtractGraphChangesFunc: func(ctx context.Context, message, reply, currentLocation string) (planner.GraphChanges, error) {
			return planner.GraphChanges{
				NewLocations:   []planner.NewLocation{{Name: "Hidden Grove", Description: "a quiet clearing"}},
				NewConnections: []planner.NewConnection{{From: "Town Gate", To: "Hidden Grove", TravelVerb: "go"}},
				Confidence:     0.8,
			}, nil
		},
	}
	coord, store := newTestCoordinator(t, plan)
	graph := store.LocationGraph()
	graph.Upsert(&model.LocationNode{Name: "Town Gate"})
	graph.SetPlayerLocation("Town Gate")

	_, err := coord.HandleMessage(ctx, "push through the brush")
	require.NoError(t, err)
	require.NotNil(t, store.LocationGraph().Get("Hidden Grove"))
	require.Len(t, store.LocationGraph().Get("Town Gate").Connections, 1)
}

func TestHandleMessage_GenerateError_PropagatesAndSkipsSideEffects(t *testing.T) {
	ctx := context.Background()
	plan := &testutil.FakePlanner{
		GenerateFunc: func(ctx context.Context, parts planner.PromptParts) (string, error) {
			return "", context.Canceled
		},
	}
	coord, store := newTestCoordinator(t, plan)

	_, err := coord.HandleMessage(ctx, "anything")
	require.Error(t, err)
	require.Empty(t, store.SessionMemories())
	require.Empty(t, coord.Chat.Messages())
}
