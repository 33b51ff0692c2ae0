// Package memorystore implements the MemoryStore of spec.md §4.2: session
// memories, NPC index, location graph, and the in-memory side of ingest
// shards. A single mutex guards every mutating operation and every reader,
// matching the teacher's preference (seen throughout pkg/docstore and
// pkg/pool) for one coarse lock over a handful of small maps rather than
// fine-grained per-field locking — acceptable at the O(10^5)-memory scale
// spec.md §5 describes.
package memorystore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kittclouds/worldmemory/internal/embedder"
	"github.com/kittclouds/worldmemory/internal/model"
	"github.com/kittclouds/worldmemory/internal/scoring"
)

// Clock abstracts wall-clock reads so tests can control timestamps.
type Clock func() time.Time

// Store is the thread-safe memory store.
type Store struct {
	mu       sync.Mutex
	embedder embedder.Embedder
	now      Clock

	sessionMemories []*model.Memory
	npcIndex        *NPCIndex
	locationGraph   *model.LocationGraph
	shards          map[string]*model.Shard
}

// New constructs an empty Store backed by emb for vector computation.
func New(emb embedder.Embedder) *Store {
	return &Store{
		embedder:      emb,
		now:           time.Now,
		npcIndex:      NewNPCIndex(),
		locationGraph: model.NewLocationGraph(),
		shards:        make(map[string]*model.Shard),
	}
}

// WithClock overrides the wall-clock source, for tests.
func (s *Store) WithClock(clock Clock) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = clock
	return s
}

func (s *Store) nowUnix() int64 {
	return s.now().Unix()
}

func generateID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// canonicalText builds the fallback embedding text "[type] summary +
// entities + source_context" used when no explanation is available.
func canonicalText(m *model.Memory) string {
	text := fmt.Sprintf("[%s] %s", m.Type, m.Summary)
	for _, e := range m.Entities {
		text += " " + e
	}
	if m.SourceContext != "" {
		text += " " + m.SourceContext
	}
	return text
}

func embedText(m *model.Memory) string {
	if m.Explanation != "" {
		return m.Explanation
	}
	return canonicalText(m)
}

// AddMemory inserts (or, with dedupe enabled, returns the id of an existing
// near-duplicate of) a session memory. See spec.md §4.2.
func (s *Store) AddMemory(
	ctx context.Context,
	summary string,
	entities []string,
	memType model.MemoryType,
	npc *model.NPCUpdate,
	dedupeCheck bool,
	similarityThreshold float64,
	sourceContext string,
) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entities = model.DedupeEntities(entities)
	candidate := &model.Memory{
		Summary:       summary,
		Type:          memType,
		Entities:      entities,
		SourceContext: sourceContext,
		Timestamp:     s.nowUnix(),
	}

	vec, err := s.embedder.Embed(ctx, embedText(candidate))
	if err != nil {
		return "", fmt.Errorf("memorystore: embed candidate: %w", err)
	}
	candidate.Vector = vec

	if dedupeCheck {
		if id, ok := s.findDuplicateLocked(candidate.Vector, similarityThreshold); ok {
			return id, nil
		}
	}

	candidate.ID = generateID()
	s.sessionMemories = append(s.sessionMemories, candidate)

	if npc != nil {
		s.upsertNPCLocked(*npc)
	}

	return candidate.ID, nil
}

// findDuplicateLocked scans the last 10 session memories for one whose
// vector has similarity >= threshold to vec.
func (s *Store) findDuplicateLocked(vec []float32, threshold float64) (string, bool) {
	n := len(s.sessionMemories)
	start := 0
	if n > 10 {
		start = n - 10
	}
	for i := n - 1; i >= start; i-- {
		m := s.sessionMemories[i]
		if scoring.Similarity(vec, m.Vector) >= threshold {
			return m.ID, true
		}
	}
	return "", false
}

func (s *Store) upsertNPCLocked(update model.NPCUpdate) {
	snap := s.npcIndex.Upsert(update, s.nowUnix())
	if update.LastSeenLocation != "" {
		s.locationGraph.RemoveNPCPresence(model.CanonicalName(snap.Name))
		s.locationGraph.AddNPCPresence(update.LastSeenLocation, model.CanonicalName(snap.Name))
	}
}

// Retrieve computes the raw semantic channel: similarity(query, m.vector)
// over session memories only, returning the top-k. Higher-level ranking
// lives in package retrieval.
func (s *Store) Retrieve(ctx context.Context, query string, k int) ([]*model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memorystore: embed query: %w", err)
	}

	type scored struct {
		mem   *model.Memory
		score float64
	}
	scoredMems := make([]scored, 0, len(s.sessionMemories))
	for _, m := range s.sessionMemories {
		scoredMems = append(scoredMems, scored{m, scoring.Similarity(qv, m.Vector)})
	}
	sort.SliceStable(scoredMems, func(i, j int) bool {
		return scoredMems[i].score > scoredMems[j].score
	})
	if k > len(scoredMems) {
		k = len(scoredMems)
	}
	out := make([]*model.Memory, k)
	for i := 0; i < k; i++ {
		out[i] = scoredMems[i].mem
	}
	return out, nil
}

// Reset replaces all session state with empty state; shards on disk are
// untouched, and in-memory shard maps are cleared too (spec.md §4.2).
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionMemories = nil
	s.npcIndex = NewNPCIndex()
	s.locationGraph = model.NewLocationGraph()
	s.shards = make(map[string]*model.Shard)
}

// StateSummary is the non-blocking counts-only snapshot.
type StateSummary struct {
	SessionMemories int
	NPCs            int
	Locations       int
	ShardCount      int
	ShardMemories   int
}

// StateSummary reports counts only.
func (s *Store) StateSummary() StateSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	shardMemories := 0
	for _, sh := range s.shards {
		shardMemories += len(sh.Memories)
	}
	return StateSummary{
		SessionMemories: len(s.sessionMemories),
		NPCs:            s.npcIndex.Len(),
		Locations:       len(s.locationGraph.Nodes),
		ShardCount:      len(s.shards),
		ShardMemories:   shardMemories,
	}
}

// SessionMemories returns a shallow copy of the session memory slice, for
// callers (RetrievalEngine, SessionSnapshot) that need read access outside
// the store's own lock scope. Safe because Memory fields are not mutated
// in place after insertion.
func (s *Store) SessionMemories() []*model.Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Memory, len(s.sessionMemories))
	copy(out, s.sessionMemories)
	return out
}

// LocationGraph returns the live session location graph. Callers must not
// retain it across a Reset.
func (s *Store) LocationGraph() *model.LocationGraph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locationGraph
}

// NPCIndex returns the live session NPC index.
func (s *Store) NPCIndex() *NPCIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.npcIndex
}

// ReplaceSession swaps the session memories, NPC index, and location graph
// wholesale — used by SessionSnapshot's replace-mode import.
func (s *Store) ReplaceSession(memories []*model.Memory, npcIndex *NPCIndex, graph *model.LocationGraph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionMemories = memories
	s.npcIndex = npcIndex
	s.locationGraph = graph
}

// AppendSessionMemory appends a fully-formed memory (vector already
// computed), used by SessionSnapshot's merge-mode import.
func (s *Store) AppendSessionMemory(m *model.Memory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionMemories = append(s.sessionMemories, m)
}

// UpsertNPC merges update into the session NPC index under the store's lock.
func (s *Store) UpsertNPC(update model.NPCUpdate) model.NPCSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.npcIndex.Upsert(update, s.nowUnix())
}

// Embedder exposes the store's embedder for components (ingest, retrieval)
// that need to embed text outside of an AddMemory call.
func (s *Store) Embedder() embedder.Embedder {
	return s.embedder
}

// Now returns the store's clock reading in epoch seconds.
func (s *Store) Now() int64 {
	return s.nowUnix()
}

// --- Shard operations (in-memory side; disk IO lives in package shardstore) ---

// EnsureIngestShard returns the in-memory shard for id, creating it empty
// if absent.
func (s *Store) EnsureIngestShard(id string) *model.Shard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureShardLocked(id)
}

func (s *Store) ensureShardLocked(id string) *model.Shard {
	sh, ok := s.shards[id]
	if !ok {
		sh = model.NewShard(id)
		s.shards[id] = sh
	}
	return sh
}

// AddIngestMemory appends entry to shard id's memory list.
func (s *Store) AddIngestMemory(id string, entry *model.Memory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh := s.ensureShardLocked(id)
	sh.Memories = append(sh.Memories, entry)
}

// UpsertIngestLocation upserts node into shard id's subgraph.
func (s *Store) UpsertIngestLocation(id string, node *model.LocationNode) *model.LocationNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh := s.ensureShardLocked(id)
	return upsertShardLocation(sh, node)
}

func upsertShardLocation(sh *model.Shard, node *model.LocationNode) *model.LocationNode {
	existing, ok := sh.Nodes[node.Name]
	if !ok {
		filtered := make([]model.Edge, 0, len(node.Connections))
		for _, e := range node.Connections {
			if _, ok := sh.Nodes[e.ToLocation]; ok {
				if e.TravelVerb == "" {
					e.TravelVerb = model.DefaultTravelVerb
				}
				filtered = append(filtered, e)
			}
		}
		node.Connections = filtered
		sh.Nodes[node.Name] = node
		return node
	}
	if existing.Description == "" {
		existing.Description = node.Description
	}
	existing.Aliases = model.DedupeEntities(append(existing.Aliases, node.Aliases...))
	return existing
}

// AddIngestNPCUpdate upserts an NPC update into shard id's NPC index and
// opportunistically records its source entry's window/explanation for
// provenance (sourceEntry may be nil).
func (s *Store) AddIngestNPCUpdate(id string, update model.NPCUpdate, sourceEntry *model.Memory) model.NPCSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh := s.ensureShardLocked(id)
	canonical := model.CanonicalName(update.Name)
	existing := sh.NPCIndex[canonical]
	var snap model.NPCSnapshot
	if existing != nil {
		snap = *existing
	}
	snap = snap.Merge(update, s.nowUnix())
	sh.NPCIndex[canonical] = &snap
	if update.LastSeenLocation != "" {
		model.RemoveNPCPresenceFromNodes(sh.Nodes, canonical)
		if node, ok := sh.Nodes[update.LastSeenLocation]; ok {
			node.NPCsPresent = appendUnique(node.NPCsPresent, canonical)
		}
	}
	return snap
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// SetIngestName normalizes and sets shard id's display name.
func (s *Store) SetIngestName(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh := s.ensureShardLocked(id)
	sh.Name = model.NormalizeShardName(name)
}

// Shard returns a pointer to the in-memory shard for id, or nil if absent.
func (s *Store) Shard(id string) *model.Shard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shards[id]
}

// Shards returns every in-memory shard, keyed by ingest id.
func (s *Store) Shards() map[string]*model.Shard {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*model.Shard, len(s.shards))
	for k, v := range s.shards {
		out[k] = v
	}
	return out
}

// PutShard installs sh wholesale (used by shardstore after loading from
// disk and recomputing vectors).
func (s *Store) PutShard(sh *model.Shard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shards[sh.IngestID] = sh
}

// DeleteShard removes shard id from the in-memory map.
func (s *Store) DeleteShard(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shards, id)
}

// RenameShard updates the in-memory name for shard id (disk write happens
// in package shardstore).
func (s *Store) RenameShard(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok := s.shards[id]; ok {
		sh.Name = model.NormalizeShardName(name)
	}
}
