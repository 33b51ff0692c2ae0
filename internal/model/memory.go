// Package model defines the core data types shared across the memory store,
// ingest pipeline, retrieval engine, and session snapshot: memory entries,
// NPC snapshots, and the location graph. These are plain structs — tagged
// variants on MemoryType rather than generic maps — matching the teacher's
// preference for compact records over dynamic dicts (see DESIGN NOTES in
// spec.md §9).
package model

import "strings"

// MemoryType enumerates the recognized memory categories.
type MemoryType string

const (
	TypeNPC          MemoryType = "npc"
	TypeLocation     MemoryType = "location"
	TypeItem         MemoryType = "item"
	TypeGoal         MemoryType = "goal"
	TypeThreat       MemoryType = "threat"
	TypeWorldState   MemoryType = "world_state"
	TypeRelationship MemoryType = "relationship"
	TypeOther        MemoryType = "other"
)

// ValidMemoryTypes is the set of recognized memory types.
var ValidMemoryTypes = map[MemoryType]bool{
	TypeNPC: true, TypeLocation: true, TypeItem: true, TypeGoal: true,
	TypeThreat: true, TypeWorldState: true, TypeRelationship: true, TypeOther: true,
}

// IsValidMemoryType reports whether t is a recognized memory type.
func IsValidMemoryType(t MemoryType) bool {
	return ValidMemoryTypes[t]
}

// Memory is a single durable fact extracted from narrative text or added
// directly during a live session.
type Memory struct {
	ID             string     `json:"id"`
	Summary        string     `json:"summary"`
	Type           MemoryType `json:"type"`
	Entities       []string   `json:"entities"`
	Confidence     float64    `json:"confidence"`
	Timestamp      int64      `json:"timestamp"`
	SourceContext  string     `json:"source_context,omitempty"`
	WindowText     string     `json:"window_text,omitempty"`
	Explanation    string     `json:"explanation,omitempty"`
	Vector         []float32  `json:"-"`
	WindowVector   []float32  `json:"-"`
	NPC            *NPCUpdate `json:"npc,omitempty"`
}

// NPCUpdate is the embedded NPC payload carried by a type==npc memory. It is
// the input shape to an NPC snapshot upsert, not the stored snapshot itself.
type NPCUpdate struct {
	Name                 string       `json:"name"`
	Aliases              []string     `json:"aliases,omitempty"`
	LastSeenLocation      string       `json:"last_seen_location,omitempty"`
	Intent               string       `json:"intent,omitempty"`
	RelationshipToPlayer RelationRank `json:"relationship_to_player,omitempty"`
	Confidence           float64      `json:"confidence,omitempty"`
	HistoryNote          string       `json:"history_note,omitempty"`
}

// RelationRank is the NPC-to-player relationship with a total order used for
// monotonic escalation on upsert.
type RelationRank string

const (
	RelUnknown  RelationRank = "unknown"
	RelNeutral  RelationRank = "neutral"
	RelFriendly RelationRank = "friendly"
	RelHostile  RelationRank = "hostile"
)

// relationRankOrder gives the total order hostile(3) > friendly(2) > neutral(1) > unknown(0).
var relationRankOrder = map[RelationRank]int{
	RelUnknown:  0,
	RelNeutral:  1,
	RelFriendly: 2,
	RelHostile:  3,
}

// Rank returns the escalation rank of r, defaulting to unknown(0) for an
// unrecognized or empty value.
func (r RelationRank) Rank() int {
	if v, ok := relationRankOrder[r]; ok {
		return v
	}
	return 0
}

// CanonicalName lowercases and single-spaces a display name, used as the NPC
// index key and for alias/entity comparisons throughout the store.
func CanonicalName(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	return strings.Join(fields, " ")
}

// NPCSnapshot is the stored, merged view of everything known about an NPC.
type NPCSnapshot struct {
	Name                 string       `json:"name"`
	Aliases              []string     `json:"aliases"`
	LastSeenLocation      string       `json:"last_seen_location,omitempty"`
	LastSeenTime          int64        `json:"last_seen_time"`
	Intent               string       `json:"intent,omitempty"`
	RelationshipToPlayer RelationRank `json:"relationship_to_player"`
	Confidence           float64      `json:"confidence"`
	History              []string     `json:"history"`
}

const maxNPCHistory = 10
const maxHistoryFragmentLen = 160

// Merge applies the §3 NPC-snapshot merge rules, upserting fields from an
// incoming update into the receiver (which may be the zero value for a
// brand-new NPC) and returning the merged snapshot. now is the epoch-second
// clock reading used when last_seen_location changes.
func (s NPCSnapshot) Merge(u NPCUpdate, now int64) NPCSnapshot {
	canonicalSelf := CanonicalName(s.Name)
	if s.Name == "" {
		s.Name = u.Name
		canonicalSelf = CanonicalName(s.Name)
		s.RelationshipToPlayer = RelUnknown
	}

	s.Aliases = unionAliases(s.Aliases, u.Aliases, canonicalSelf)
	if strings.TrimSpace(u.Name) != "" && CanonicalName(u.Name) != canonicalSelf {
		s.Aliases = unionAliases(s.Aliases, []string{u.Name}, canonicalSelf)
	}

	if strings.TrimSpace(u.LastSeenLocation) != "" {
		s.LastSeenLocation = u.LastSeenLocation
		s.LastSeenTime = now
	}
	if strings.TrimSpace(u.Intent) != "" {
		s.Intent = u.Intent
	}
	if u.RelationshipToPlayer != "" && u.RelationshipToPlayer.Rank() >= s.RelationshipToPlayer.Rank() {
		s.RelationshipToPlayer = u.RelationshipToPlayer
	}
	if s.RelationshipToPlayer == "" {
		s.RelationshipToPlayer = RelUnknown
	}
	if u.Confidence > s.Confidence {
		s.Confidence = u.Confidence
	}
	if frag := strings.TrimSpace(u.HistoryNote); frag != "" {
		if len(frag) > maxHistoryFragmentLen {
			frag = frag[:maxHistoryFragmentLen]
		}
		s.History = append(s.History, frag)
		if len(s.History) > maxNPCHistory {
			s.History = s.History[len(s.History)-maxNPCHistory:]
		}
	}
	return s
}

// unionAliases merges incoming into existing, deduplicating by canonical
// form and excluding the canonical self name.
func unionAliases(existing, incoming []string, canonicalSelf string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, a := range existing {
		c := CanonicalName(a)
		if c == "" || c == canonicalSelf || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, a)
	}
	for _, a := range incoming {
		c := CanonicalName(a)
		if c == "" || c == canonicalSelf || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, a)
	}
	return out
}

// DedupeEntities canonicalizes entities by case-insensitive compare,
// preserving first occurrence and dropping empties.
func DedupeEntities(entities []string) []string {
	seen := make(map[string]bool, len(entities))
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		trimmed := strings.TrimSpace(e)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, trimmed)
	}
	return out
}
