package memorystore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kittclouds/worldmemory/internal/model"
	"github.com/kittclouds/worldmemory/internal/scoring"
)

// ScoredNPC pairs an NPC snapshot with its query score.
type ScoredNPC struct {
	Snapshot model.NPCSnapshot
	Score    float64
}

// npcSearchText builds "name | aliases | intent | last_seen_location |
// canonical(last_seen_location)", the text embedded for NPC query scoring.
func npcSearchText(s model.NPCSnapshot) string {
	parts := []string{
		s.Name,
		strings.Join(s.Aliases, ", "),
		s.Intent,
		s.LastSeenLocation,
		model.CanonicalName(s.LastSeenLocation),
	}
	return strings.Join(parts, " | ")
}

const npcRecencyScale = 0.05

// npcPrefilterThreshold is the combined-NPC-count above which
// GetRelevantNPCSnapshotsScored shortlists candidates via PrefixShortlist
// before embedding their search text, instead of embedding every known
// NPC. Below this size, embedding everyone is cheap enough that the
// shortlist pass would only add overhead for no benefit.
const npcPrefilterThreshold = 32

// GetRelevantNPCSnapshotsScored scores every known NPC (session index
// merged with all shard NPC indices, session winning ties) against query,
// returning the top-k above minScore. If minScore filters out every
// candidate, the single highest-scoring NPC is kept instead (spec.md
// §4.2).
func (s *Store) GetRelevantNPCSnapshotsScored(ctx context.Context, query string, k int, minScore *float64) ([]ScoredNPC, error) {
	s.mu.Lock()
	combined := make(map[string]*model.NPCSnapshot)
	for _, sh := range s.shards {
		for name, snap := range sh.NPCIndex {
			combined[name] = snap
		}
	}
	for name, snap := range s.npcIndex.All() {
		combined[name] = snap
	}
	now := s.nowUnix()
	s.mu.Unlock()

	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memorystore: embed npc query: %w", err)
	}

	pool := combined
	if len(combined) > npcPrefilterThreshold {
		if shortlist := PrefixShortlist(combined, strings.Fields(query)); len(shortlist) > 0 {
			pool = make(map[string]*model.NPCSnapshot, len(shortlist))
			for _, snap := range shortlist {
				pool[model.CanonicalName(snap.Name)] = snap
			}
		}
	}

	scored := make([]ScoredNPC, 0, len(pool))
	for _, snap := range pool {
		text := npcSearchText(*snap)
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			continue
		}
		sim := scoring.Similarity(qv, vec)
		age := float64(now - snap.LastSeenTime)
		rec := scoring.ShortHalfLifeRecency(age, npcRecencyScale)
		scored = append(scored, ScoredNPC{Snapshot: *snap, Score: sim + rec})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	filtered := scored
	if minScore != nil {
		filtered = make([]ScoredNPC, 0, len(scored))
		for _, sc := range scored {
			if sc.Score >= *minScore {
				filtered = append(filtered, sc)
			}
		}
		if len(filtered) == 0 && len(scored) > 0 {
			filtered = scored[:1]
		}
	}

	if k < len(filtered) {
		filtered = filtered[:k]
	}
	return filtered, nil
}
