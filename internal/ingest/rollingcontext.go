package ingest

import (
	"strings"

	"github.com/kittclouds/worldmemory/internal/model"
)

const (
	maxRollingHeaderLen = 300
	maxRecentNPCs       = 5
)

// RollingContext is the per-ingest-stream running summary folded into each
// window's extraction header.
type RollingContext struct {
	Protagonist   string
	Goal          string
	CurrentArea   string
	NPCsMentioned []string
}

// Header renders the rolling context as a single header string, capped to
// 300 characters.
func (rc *RollingContext) Header() string {
	var parts []string
	if rc.Protagonist != "" {
		parts = append(parts, "Protagonist: "+rc.Protagonist)
	}
	if rc.Goal != "" {
		parts = append(parts, "Goal: "+rc.Goal)
	}
	if rc.CurrentArea != "" {
		parts = append(parts, "Current Area: "+rc.CurrentArea)
	}
	if len(rc.NPCsMentioned) > 0 {
		n := rc.NPCsMentioned
		if len(n) > maxRecentNPCs {
			n = n[:maxRecentNPCs]
		}
		parts = append(parts, "NPCs Mentioned: "+strings.Join(n, ", "))
	}
	header := strings.Join(parts, "; ")
	if len(header) > maxRollingHeaderLen {
		header = header[:maxRollingHeaderLen]
	}
	return header
}

// UpdateFromSaved folds one saved memory into the rolling context: a
// location memory bumps current_area, a goal memory sets goal, and an npc
// memory prepends the NPC's name (as given) into the recent-NPCs list.
func (rc *RollingContext) UpdateFromSaved(memType model.MemoryType, summary, locationName, npcName string) {
	switch memType {
	case model.TypeLocation:
		if locationName != "" {
			rc.CurrentArea = locationName
		}
	case model.TypeGoal:
		rc.Goal = summary
	case model.TypeNPC:
		if npcName != "" {
			rc.NPCsMentioned = prependUnique(rc.NPCsMentioned, npcName, maxRecentNPCs)
		}
	}
}

// prependUnique prepends v to list (moving it to the front if already
// present), capped at max entries.
func prependUnique(list []string, v string, max int) []string {
	out := make([]string, 0, max)
	out = append(out, v)
	for _, existing := range list {
		if strings.EqualFold(existing, v) {
			continue
		}
		out = append(out, existing)
	}
	if len(out) > max {
		out = out[:max]
	}
	return out
}
