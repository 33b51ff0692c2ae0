// Package snapshot implements SessionSnapshot (spec.md §4.6): exporting the
// live session (memories, NPC index, location graph, chat log) to the
// on-disk shape in spec.md §6, and importing it back in either replace or
// merge mode. Shards are session-external and never appear in a snapshot.
package snapshot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/kittclouds/worldmemory/internal/chatlog"
	"github.com/kittclouds/worldmemory/internal/embedder"
	"github.com/kittclouds/worldmemory/internal/memorystore"
	"github.com/kittclouds/worldmemory/internal/model"
)

// LocationGraphExport is the §6 wire shape for the location graph.
type LocationGraphExport struct {
	Locations      map[string]*model.LocationNode `json:"locations"`
	PlayerLocation string                          `json:"player_location,omitempty"`
}

// WorldState is the §6 wire shape for session world state.
type WorldState struct {
	Memories      []*model.Memory                  `json:"memories"`
	NPCIndex      map[string]*model.NPCSnapshot     `json:"npc_index"`
	LocationGraph LocationGraphExport               `json:"location_graph"`
}

// Export is the full §4.6/§6 session export object. RuntimeState is
// reserved (always an empty object), matching the teacher's convention of
// forward-compatible empty placeholders (seen in batch.Config's unused
// provider fields).
type Export struct {
	WorldState   WorldState        `json:"world_state"`
	ChatMessages []chatlog.Message `json:"chat_messages"`
	RuntimeState map[string]any    `json:"runtime_state"`
}

// Snapshot wires a MemoryStore and ChatLog together for export/import.
type Snapshot struct {
	Store *memorystore.Store
	Chat  *chatlog.Log
}

// New constructs a Snapshot.
func New(store *memorystore.Store, chat *chatlog.Log) *Snapshot {
	return &Snapshot{Store: store, Chat: chat}
}

// Export serializes the live session. The system chat message is excluded
// per spec.md §4.6.
func (s *Snapshot) Export() Export {
	memories := s.Store.SessionMemories()
	graph := s.Store.LocationGraph()
	npcIndex := s.Store.NPCIndex()

	npcCopy := make(map[string]*model.NPCSnapshot, npcIndex.Len())
	for k, v := range npcIndex.All() {
		npcCopy[k] = v
	}
	locCopy := make(map[string]*model.LocationNode, len(graph.Nodes))
	for k, v := range graph.Nodes {
		locCopy[k] = v
	}

	return Export{
		WorldState: WorldState{
			Memories:      memories,
			NPCIndex:      npcCopy,
			LocationGraph: LocationGraphExport{Locations: locCopy, PlayerLocation: graph.PlayerLocation},
		},
		ChatMessages: s.Chat.Messages(),
		RuntimeState: map[string]any{},
	}
}

// ImportMode selects replace (wipe session first) or merge (union with
// dedupe) semantics, per spec.md §4.6.
type ImportMode string

const (
	ModeReplace ImportMode = "replace"
	ModeMerge   ImportMode = "merge"
)

// ImportSummary is the {worldMemories, npcs, locations, chatMessages}
// return value spec.md §4.6 names.
type ImportSummary struct {
	WorldMemories int
	NPCs          int
	Locations     int
	ChatMessages  int
}

// Import applies exp to the live session in the given mode.
func (s *Snapshot) Import(ctx context.Context, exp Export, mode ImportMode) (ImportSummary, error) {
	switch mode {
	case ModeReplace:
		return s.importReplace(ctx, exp)
	case ModeMerge:
		return s.importMerge(ctx, exp)
	default:
		return s.importMerge(ctx, exp)
	}
}

func (s *Snapshot) importReplace(ctx context.Context, exp Export) (ImportSummary, error) {
	emb := s.Store.Embedder()
	now := s.Store.Now()

	memories := make([]*model.Memory, 0, len(exp.WorldState.Memories))
	for _, m := range exp.WorldState.Memories {
		mc := *m
		if mc.ID == "" {
			mc.ID = generateID()
		}
		if mc.Timestamp == 0 {
			mc.Timestamp = now
		}
		recomputeVectors(ctx, emb, &mc)
		memories = append(memories, &mc)
	}

	npcIndex := memorystore.NewNPCIndex()
	for canonical, snap := range exp.WorldState.NPCIndex {
		sc := *snap
		npcIndex.Put(canonical, &sc)
	}

	graph := model.NewLocationGraph()
	for name, node := range exp.WorldState.LocationGraph.Locations {
		nc := *node
		nc.Connections = append([]model.Edge(nil), node.Connections...)
		graph.Nodes[name] = &nc
	}
	if exp.WorldState.LocationGraph.PlayerLocation != "" {
		graph.SetPlayerLocation(exp.WorldState.LocationGraph.PlayerLocation)
	}

	s.Store.ReplaceSession(memories, npcIndex, graph)
	s.Chat.ResetToSystemPrompt()
	s.Chat.Append(exp.ChatMessages...)

	return ImportSummary{
		WorldMemories: len(memories),
		NPCs:          npcIndex.Len(),
		Locations:     len(graph.Nodes),
		ChatMessages:  len(exp.ChatMessages),
	}, nil
}

func (s *Snapshot) importMerge(ctx context.Context, exp Export) (ImportSummary, error) {
	emb := s.Store.Embedder()
	now := s.Store.Now()

	existing := s.Store.SessionMemories()
	seenIDs := make(map[string]bool, len(existing))
	seenHashes := make(map[string]bool, len(existing))
	for _, m := range existing {
		if m.ID != "" {
			seenIDs[m.ID] = true
		}
		seenHashes[canonicalTextHash(m)] = true
	}

	addedMemories := 0
	for _, m := range exp.WorldState.Memories {
		if m.ID != "" && seenIDs[m.ID] {
			continue
		}
		hash := canonicalTextHash(m)
		if m.ID == "" && seenHashes[hash] {
			continue
		}
		mc := *m
		if mc.ID == "" {
			mc.ID = generateID()
		}
		if mc.Timestamp == 0 {
			mc.Timestamp = now
		}
		recomputeVectors(ctx, emb, &mc)
		s.Store.AppendSessionMemory(&mc)
		if mc.ID != "" {
			seenIDs[mc.ID] = true
		}
		seenHashes[hash] = true
		addedMemories++
	}

	npcIndex := s.Store.NPCIndex()
	for canonical, incoming := range exp.WorldState.NPCIndex {
		merged := mergeNPCFieldLevel(npcIndex, canonical, incoming)
		npcIndex.Put(canonical, merged)
	}

	graph := s.Store.LocationGraph()
	for name, incoming := range exp.WorldState.LocationGraph.Locations {
		mergeLocationNode(graph, name, incoming)
	}
	if graph.PlayerLocation == "" && exp.WorldState.LocationGraph.PlayerLocation != "" {
		graph.SetPlayerLocation(exp.WorldState.LocationGraph.PlayerLocation)
	}

	s.Chat.Append(exp.ChatMessages...)

	return ImportSummary{
		WorldMemories: addedMemories,
		NPCs:          npcIndex.Len(),
		Locations:     len(graph.Nodes),
		ChatMessages:  len(exp.ChatMessages),
	}, nil
}

// mergeNPCFieldLevel applies spec.md §4.6's merge-import NPC rule: union by
// key, and on collision, incoming wins for every field it sets (non-zero),
// distinct from the escalation/union rules model.NPCSnapshot.Merge applies
// on live add_memory upserts.
func mergeNPCFieldLevel(idx *memorystore.NPCIndex, canonical string, incoming *model.NPCSnapshot) *model.NPCSnapshot {
	existing, ok := idx.Get(canonical)
	if !ok {
		copy := *incoming
		return &copy
	}
	merged := *existing
	if incoming.Name != "" {
		merged.Name = incoming.Name
	}
	if len(incoming.Aliases) > 0 {
		merged.Aliases = model.DedupeEntities(append(append([]string{}, merged.Aliases...), incoming.Aliases...))
	}
	if incoming.LastSeenLocation != "" {
		merged.LastSeenLocation = incoming.LastSeenLocation
	}
	if incoming.LastSeenTime != 0 {
		merged.LastSeenTime = incoming.LastSeenTime
	}
	if incoming.Intent != "" {
		merged.Intent = incoming.Intent
	}
	if incoming.RelationshipToPlayer != "" {
		merged.RelationshipToPlayer = incoming.RelationshipToPlayer
	}
	if incoming.Confidence != 0 {
		merged.Confidence = incoming.Confidence
	}
	if len(incoming.History) > 0 {
		merged.History = incoming.History
	}
	return &merged
}

// mergeLocationNode applies spec.md §4.6's merge-import location rule:
// union of nodes; on collision keep the longer non-empty description,
// union aliases, union connections (deduped by to/description/verb), and
// union npcs_present.
func mergeLocationNode(graph *model.LocationGraph, name string, incoming *model.LocationNode) {
	existing, ok := graph.Nodes[name]
	if !ok {
		nc := *incoming
		nc.Connections = append([]model.Edge(nil), incoming.Connections...)
		graph.Nodes[name] = &nc
		return
	}
	if len(incoming.Description) > len(existing.Description) {
		existing.Description = incoming.Description
	}
	existing.Aliases = model.DedupeEntities(append(append([]string{}, existing.Aliases...), incoming.Aliases...))
	for _, e := range incoming.Connections {
		if !hasEdge(existing.Connections, e) {
			existing.Connections = append(existing.Connections, e)
		}
	}
	existing.NPCsPresent = model.DedupeEntities(append(append([]string{}, existing.NPCsPresent...), incoming.NPCsPresent...))
}

func hasEdge(edges []model.Edge, e model.Edge) bool {
	for _, existing := range edges {
		if existing.ToLocation == e.ToLocation && existing.Description == e.Description && existing.TravelVerb == e.TravelVerb {
			return true
		}
	}
	return false
}

func recomputeVectors(ctx context.Context, emb embedder.Embedder, m *model.Memory) {
	text := m.Explanation
	if text == "" {
		text = canonicalMemoryText(m)
	}
	if vec, err := emb.Embed(ctx, text); err == nil {
		m.Vector = vec
	}
	if m.WindowText != "" {
		if wv, err := emb.Embed(ctx, m.WindowText); err == nil {
			m.WindowVector = wv
		}
	}
}

func canonicalMemoryText(m *model.Memory) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(m.Type))
	b.WriteString("] ")
	b.WriteString(m.Summary)
	for _, e := range m.Entities {
		b.WriteString(" ")
		b.WriteString(e)
	}
	if m.SourceContext != "" {
		b.WriteString(" ")
		b.WriteString(m.SourceContext)
	}
	return b.String()
}

// canonicalTextHash is lower(strip(canonical_text)), the dedupe key used for
// merge-mode memories that arrive without an explicit id.
func canonicalTextHash(m *model.Memory) string {
	return strings.ToLower(strings.TrimSpace(canonicalMemoryText(m)))
}

func generateID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
