package memorystore

import (
	ttrie "github.com/derekparker/trie/v3"

	"github.com/kittclouds/worldmemory/internal/model"
)

// NPCIndex is a canonical-name-keyed NPC snapshot map.
//
// Not internally synchronized: callers (Store) hold their own lock around
// every access.
type NPCIndex struct {
	snapshots map[string]*model.NPCSnapshot
}

// NewNPCIndex returns an empty index.
func NewNPCIndex() *NPCIndex {
	return &NPCIndex{
		snapshots: make(map[string]*model.NPCSnapshot),
	}
}

// Upsert merges update into the snapshot keyed by its canonical name,
// creating it if absent, and returns the merged snapshot.
func (idx *NPCIndex) Upsert(update model.NPCUpdate, now int64) model.NPCSnapshot {
	canonical := model.CanonicalName(update.Name)
	var base model.NPCSnapshot
	if existing, ok := idx.snapshots[canonical]; ok {
		base = *existing
	}
	merged := base.Merge(update, now)
	idx.snapshots[canonical] = &merged
	return merged
}

// Get returns the snapshot keyed by canonical name.
func (idx *NPCIndex) Get(canonical string) (*model.NPCSnapshot, bool) {
	snap, ok := idx.snapshots[canonical]
	return snap, ok
}

// Len returns the number of distinct NPCs.
func (idx *NPCIndex) Len() int {
	return len(idx.snapshots)
}

// All returns the full canonical-name -> snapshot map.
func (idx *NPCIndex) All() map[string]*model.NPCSnapshot {
	return idx.snapshots
}

// Put installs snap directly under canonical, overwriting whatever was
// there. Used by SessionSnapshot import, which applies its own field-level
// merge semantics rather than the standard escalation rules in
// model.NPCSnapshot.Merge.
func (idx *NPCIndex) Put(canonical string, snap *model.NPCSnapshot) {
	idx.snapshots[canonical] = snap
}

// PrefixShortlist builds a one-shot trie over combined (which typically
// spans the session index and every shard's NPC index) and returns the
// snapshots whose canonical name or any alias has one of tokens as a
// (canonicalized) prefix. GetRelevantNPCSnapshotsScored calls this to
// shortlist candidates before the embedding-based scoring pass when the
// combined NPC count is large enough that embedding every snapshot's
// search text is wasteful — the same cheap-structural-check-before-the-
// expensive-path layering the teacher applies in pkg/implicit-matcher.
// Returns nil if combined/tokens is empty or no token matches anything,
// leaving callers to fall back to scoring the full set.
func PrefixShortlist(combined map[string]*model.NPCSnapshot, tokens []string) []*model.NPCSnapshot {
	if len(combined) == 0 || len(tokens) == 0 {
		return nil
	}
	trie := ttrie.New[string]()
	for canonical, snap := range combined {
		trie.Add(canonical, canonical)
		for _, alias := range snap.Aliases {
			if c := model.CanonicalName(alias); c != "" {
				trie.Add(c, canonical)
			}
		}
	}

	seen := make(map[string]bool)
	var out []*model.NPCSnapshot
	for _, tok := range tokens {
		tok = model.CanonicalName(tok)
		if tok == "" {
			continue
		}
		for _, key := range trie.PrefixSearch(tok) {
			node, ok := trie.Find(key)
			if !ok {
				continue
			}
			canonical := node.Meta()
			if seen[canonical] {
				continue
			}
			seen[canonical] = true
			if snap, ok := combined[canonical]; ok {
				out = append(out, snap)
			}
		}
	}
	return out
}

// Merged returns a new map combining base (lower precedence) with overlay
// (higher precedence on key collision) — used to combine every shard's NPC
// index with the session index, which always wins ties (spec.md §4.2).
func Merged(base, overlay map[string]*model.NPCSnapshot) map[string]*model.NPCSnapshot {
	out := make(map[string]*model.NPCSnapshot, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
