package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kittclouds/worldmemory/internal/config"
	"github.com/kittclouds/worldmemory/internal/memorystore"
	"github.com/kittclouds/worldmemory/internal/planner"
	"github.com/kittclouds/worldmemory/internal/shardstore"
	"github.com/kittclouds/worldmemory/internal/testutil"
)

func newTestPipeline(t *testing.T, plan *testutil.FakePlanner) (*Pipeline, *memorystore.Store) {
	t.Helper()
	store := memorystore.New(testutil.FakeEmbedder{})
	shards := shardstore.New(store, testutil.FakeEmbedder{}, t.TempDir())
	uploads := NewUploadMap()
	cfg := config.Config{MaxChunkSize: 12000}
	return New(store, shards, uploads, plan, cfg), store
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestRun_SavesCandidatesAboveThreshold(t *testing.T) {
	calls := 0
	plan := &testutil.FakePlanner{
		ExtractMemoriesFunc: func(ctx context.Context, header, window string) ([]planner.CandidateMemory, error) {
			calls++
			if calls > 1 {
				return nil, nil
			}
			return []planner.CandidateMemory{
				{Summary: "Finnigan lurks in the alley.", Type: "threat", Entities: []string{"Finnigan"}, Confidence: 0.9},
				{Summary: "low confidence noise", Type: "other", Confidence: 0.3},
			}, nil
		},
	}
	p, store := newTestPipeline(t, plan)

	id := p.Uploads.Put("Finnigan lurks in the alley behind the tavern. He watches the player closely.")
	ch, err := p.Run(context.Background(), "ing1", id, nil)
	require.NoError(t, err)

	events := drain(ch)
	var saved, done int
	for _, ev := range events {
		switch ev.Kind {
		case EventSaved:
			saved++
		case EventDone:
			done++
			require.NoError(t, ev.Err)
		}
	}
	require.Equal(t, 1, saved)
	require.Equal(t, 1, done)

	sh := store.Shard("ing1")
	require.NotNil(t, sh)
	require.Len(t, sh.Memories, 1)
	require.Equal(t, "Finnigan lurks in the alley.", sh.Memories[0].Summary)
}

func TestRun_TakeTwiceFailsSecondTime(t *testing.T) {
	plan := &testutil.FakePlanner{}
	p, _ := newTestPipeline(t, plan)
	id := p.Uploads.Put("hello world")

	_, err := p.Run(context.Background(), "ing1", id, nil)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), "ing2", id, nil)
	require.Error(t, err)
}

func TestConsolidate_KeepsMaxConfidencePerGroup(t *testing.T) {
	calls := 0
	plan := &testutil.FakePlanner{
		ExtractMemoriesFunc: func(ctx context.Context, header, window string) ([]planner.CandidateMemory, error) {
			calls++
			confidence := 0.71
			if calls == 3 {
				confidence = 0.9
			}
			return []planner.CandidateMemory{
				{Summary: "the goblin hides", Type: "other", Entities: []string{"Goblin"}, Confidence: confidence},
			}, nil
		},
	}
	p, store := newTestPipeline(t, plan)

	longText := strings.Repeat("word ", 700)
	id := p.Uploads.Put(longText)
	stride := 50
	ch, err := p.Run(context.Background(), "ing1", id, &stride)
	require.NoError(t, err)
	drain(ch)

	sh := store.Shard("ing1")
	require.NotNil(t, sh)
	require.LessOrEqual(t, len(sh.Memories), 1)
	require.Len(t, sh.Memories, 1)
	require.Equal(t, 0.9, sh.Memories[0].Confidence)
}

func TestCanonicalLocationName_PrefersEntity(t *testing.T) {
	require.Equal(t, "The Alley", canonicalLocationName([]string{"The Alley"}, "x is y"))
	require.Equal(t, "The tavern", canonicalLocationName(nil, "The tavern is a dim, smoky room."))
	require.Equal(t, "", canonicalLocationName(nil, "no subject marker here"))
}

func TestBuildExplanation_FormatsPlayerDMShape(t *testing.T) {
	source := "Player said: I attack Finnigan\n\nDM responded: Finnigan staggers back"
	got := BuildExplanation(source)
	require.Equal(t, "Player: I attack Finnigan; DM: Finnigan staggers back", got)
}

func TestBuildExplanation_CapsAtLength(t *testing.T) {
	source := strings.Repeat("a", 200)
	got := BuildExplanation(source)
	require.LessOrEqual(t, len(got), 160)
	require.True(t, strings.HasSuffix(got, "…"))
}

func TestMentionTracker_ObserveFindsKnownNamesInLaterWindows(t *testing.T) {
	mt := newMentionTracker()
	require.Empty(t, mt.observe("Finnigan lurks in the alley."))

	mt.add("Finnigan")
	got := mt.observe("Later, Finnigan returns to the tavern.")
	require.Equal(t, []string{"finnigan"}, got)
}

func TestMentionTracker_ObserveIgnoresUnknownNames(t *testing.T) {
	mt := newMentionTracker()
	mt.add("Finnigan")
	require.Empty(t, mt.observe("The goat wanders off."))
}

// Guards the pipeline-level wiring of mentionTracker into RollingContext:
// a known NPC merely re-mentioned in later window text must reappear in
// the rolling header even without a fresh saved candidate for it.
func TestRollingContext_UpdatedFromMentionTrackerObservations(t *testing.T) {
	mt := newMentionTracker()
	rc := &RollingContext{}
	mt.add("Finnigan")

	for _, name := range mt.observe("Finnigan returns, unseen since the alley.") {
		rc.NPCsMentioned = prependUnique(rc.NPCsMentioned, name, maxRecentNPCs)
	}

	require.Contains(t, rc.Header(), "NPCs Mentioned: finnigan")
}
