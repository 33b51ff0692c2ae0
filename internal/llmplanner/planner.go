package llmplanner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kittclouds/worldmemory/internal/planner"
)

const memorySystemPrompt = `You are a world-memory extraction assistant for a narrative game master.
Extract discrete, durable facts worth remembering from the given text.
Return ONLY a JSON object: {"memories": [{"summary": string, "type": string, "entities": [string], "confidence": 0.0-1.0, "npc": {"name": string, "aliases": [string], "last_seen_location": string, "intent": string, "relationship_to_player": string, "confidence": 0.0-1.0} | null}]}.
type must be one of: location, npc, item, goal, threat, relationship, world_state, other.
No markdown, no explanation. Start with { and end with }.`

type memoryEnvelope struct {
	Memories []rawCandidate `json:"memories"`
}

type rawCandidate struct {
	Summary    string       `json:"summary"`
	Type       string       `json:"type"`
	Entities   []string     `json:"entities"`
	Confidence float64      `json:"confidence"`
	NPC        *rawNPC      `json:"npc"`
}

type rawNPC struct {
	Name                 string   `json:"name"`
	Aliases              []string `json:"aliases"`
	LastSeenLocation     string   `json:"last_seen_location"`
	Intent               string   `json:"intent"`
	RelationshipToPlayer string   `json:"relationship_to_player"`
	Confidence           float64  `json:"confidence"`
}

func toCandidate(r rawCandidate) planner.CandidateMemory {
	c := planner.CandidateMemory{
		Summary:    strings.TrimSpace(r.Summary),
		Type:       strings.ToLower(strings.TrimSpace(r.Type)),
		Entities:   r.Entities,
		Confidence: r.Confidence,
	}
	if r.NPC != nil {
		c.NPC = &planner.NPCPayload{
			Name:                 r.NPC.Name,
			Aliases:              r.NPC.Aliases,
			LastSeenLocation:     r.NPC.LastSeenLocation,
			Intent:               r.NPC.Intent,
			RelationshipToPlayer: r.NPC.RelationshipToPlayer,
			Confidence:           r.NPC.Confidence,
		}
	}
	return c
}

// ExtractMemories extracts zero or more candidate memories from one ingest
// window, given its rolling-context header.
func (c *Client) ExtractMemories(ctx context.Context, header, window string) ([]planner.CandidateMemory, error) {
	var prompt strings.Builder
	if header != "" {
		prompt.WriteString("Context so far: ")
		prompt.WriteString(header)
		prompt.WriteString("\n\n")
	}
	prompt.WriteString("Text:\n")
	prompt.WriteString(window)

	var env memoryEnvelope
	err := c.completeJSON(ctx, memorySystemPrompt, prompt.String(), func(cleaned string) error {
		var e memoryEnvelope
		if err := json.Unmarshal([]byte(cleaned), &e); err != nil {
			return fmt.Errorf("llmplanner: parse memory envelope: %w", err)
		}
		env = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]planner.CandidateMemory, 0, len(env.Memories))
	for _, r := range env.Memories {
		if strings.TrimSpace(r.Summary) == "" {
			continue
		}
		out = append(out, toCandidate(r))
	}
	return out, nil
}

// ExtractTurnMemory extracts a single candidate memory from one completed
// chat turn.
func (c *Client) ExtractTurnMemory(ctx context.Context, message, reply string) (*planner.CandidateMemory, error) {
	prompt := fmt.Sprintf("Player said: %s\n\nDM responded: %s\n\nExtract at most one durable fact worth remembering, or an empty array if nothing qualifies.", message, reply)

	var env memoryEnvelope
	err := c.completeJSON(ctx, memorySystemPrompt, prompt, func(cleaned string) error {
		var e memoryEnvelope
		if err := json.Unmarshal([]byte(cleaned), &e); err != nil {
			return fmt.Errorf("llmplanner: parse memory envelope: %w", err)
		}
		env = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(env.Memories) == 0 || strings.TrimSpace(env.Memories[0].Summary) == "" {
		return nil, nil
	}
	cand := toCandidate(env.Memories[0])
	return &cand, nil
}

const movementSystemPrompt = `You decide whether a player character moved to a new location this turn.
Return ONLY a JSON object: {"move": bool, "target": string, "confidence": 0.0-1.0}.
target must be one of the listed exit destinations, or empty if move is false.
No markdown, no explanation.`

type rawMovement struct {
	Move       bool    `json:"move"`
	Target     string  `json:"target"`
	Confidence float64 `json:"confidence"`
}

// InferMovement decides whether the player moved this turn.
func (c *Client) InferMovement(ctx context.Context, currentLocation string, exits []planner.Exit, message, reply string) (planner.MovementInference, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Current location: %s\n", currentLocation)
	b.WriteString("Exits:\n")
	for _, e := range exits {
		fmt.Fprintf(&b, "- %s to %s (%s)\n", e.TravelVerb, e.ToLocation, e.Description)
	}
	fmt.Fprintf(&b, "\nPlayer said: %s\nDM responded: %s\n", message, reply)

	var raw rawMovement
	err := c.completeJSON(ctx, movementSystemPrompt, b.String(), func(cleaned string) error {
		return json.Unmarshal([]byte(cleaned), &raw)
	})
	if err != nil {
		return planner.MovementInference{}, err
	}
	return planner.MovementInference{Move: raw.Move, Target: raw.Target, Confidence: raw.Confidence}, nil
}

const graphChangeSystemPrompt = `You decide what new locations or connections between locations were introduced this turn.
Return ONLY a JSON object: {"new_locations": [{"name": string, "description": string, "aliases": [string]}], "new_connections": [{"from": string, "to": string, "description": string, "travel_verb": string}], "confidence": 0.0-1.0}.
Omit anything not clearly introduced. No markdown, no explanation.`

type rawGraphChanges struct {
	NewLocations   []planner.NewLocation   `json:"new_locations"`
	NewConnections []planner.NewConnection `json:"new_connections"`
	Confidence     float64                 `json:"confidence"`
}

// ExtractGraphChanges decides what new nodes/edges this turn introduced.
func (c *Client) ExtractGraphChanges(ctx context.Context, message, reply, currentLocation string) (planner.GraphChanges, error) {
	prompt := fmt.Sprintf("Current location: %s\nPlayer said: %s\nDM responded: %s\n", currentLocation, message, reply)

	var raw rawGraphChanges
	err := c.completeJSON(ctx, graphChangeSystemPrompt, prompt, func(cleaned string) error {
		return json.Unmarshal([]byte(cleaned), &raw)
	})
	if err != nil {
		return planner.GraphChanges{}, err
	}
	return planner.GraphChanges{
		NewLocations:   raw.NewLocations,
		NewConnections: raw.NewConnections,
		Confidence:     raw.Confidence,
	}, nil
}

const generateSystemPrompt = `You are the dungeon master of an ongoing text adventure.
Use the NPC notes, world facts, and current location to write the next narration beat.
Stay consistent with everything given. Keep the reply to a few sentences.`

// Generate produces the DM's reply text for the assembled prompt.
func (c *Client) Generate(ctx context.Context, parts planner.PromptParts) (string, error) {
	var b strings.Builder
	if len(parts.NPCCards) > 0 {
		b.WriteString("NPCs present:\n")
		for _, card := range parts.NPCCards {
			b.WriteString("- ")
			b.WriteString(card)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if len(parts.WorldFacts) > 0 {
		b.WriteString("Relevant world facts:\n")
		for _, fact := range parts.WorldFacts {
			b.WriteString("- ")
			b.WriteString(fact)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if parts.LocationText != "" {
		b.WriteString("Current location: ")
		b.WriteString(parts.LocationText)
		b.WriteString("\n\n")
	}
	b.WriteString("Player: ")
	b.WriteString(parts.UserMessage)

	return c.complete(ctx, generateSystemPrompt, b.String())
}

var _ planner.Planner = (*Client)(nil)
