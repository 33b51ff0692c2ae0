package model

import "strings"

// Shard is an immutable-by-write bundle of ingested memories, a local
// location subgraph, and an NPC index, identified by IngestID. Shards live
// both on disk (one JSON file) and in memory (this struct).
type Shard struct {
	IngestID string                  `json:"-"`
	Name     string                  `json:"name,omitempty"`
	Nodes    map[string]*LocationNode `json:"subgraph"`
	Memories []*Memory               `json:"memories"`
	NPCIndex map[string]*NPCSnapshot `json:"npc_index"`
}

// NewShard returns an empty shard for ingestID.
func NewShard(ingestID string) *Shard {
	return &Shard{
		IngestID: ingestID,
		Nodes:    make(map[string]*LocationNode),
		Memories: make([]*Memory, 0),
		NPCIndex: make(map[string]*NPCSnapshot),
	}
}

// NormalizeShardName single-spaces and trims name (preserving case),
// truncating to 120 chars, matching the shard name invariant in spec.md §3.
func NormalizeShardName(name string) string {
	normalized := strings.Join(strings.Fields(name), " ")
	if len(normalized) > 120 {
		normalized = normalized[:120]
	}
	return normalized
}
