// Package coordinator implements the ConversationCoordinator of spec.md
// §4.7: context assembly (multi-index retrieval + NPC cards + the current
// location block), the Planner.Generate call for the DM's reply, and the
// best-effort post-turn memory/movement/graph-change side effects. Every
// side effect is isolated from the others' failures and none of them ever
// surface to the caller — the teacher's closest analog is
// pkg/chat.ChatService.AddMessage, which fires memory extraction in a
// fire-and-forget goroutine so a failed extraction never fails the
// message write; this module keeps that "isolated, swallowed" shape but
// runs each side effect synchronously (ordering guarantees in spec.md §5
// require movement/graph updates to be visible before the handler
// returns) rather than in a detached goroutine.
package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/kittclouds/worldmemory/internal/chatlog"
	"github.com/kittclouds/worldmemory/internal/config"
	"github.com/kittclouds/worldmemory/internal/memorystore"
	"github.com/kittclouds/worldmemory/internal/model"
	"github.com/kittclouds/worldmemory/internal/planner"
	"github.com/kittclouds/worldmemory/internal/retrieval"
)

const maxLocationDescriptionLen = 600

// travelPhrases are the fallback heuristic's DM-reply travel markers,
// spec.md §4.7's "you go to|walk to|head to|enter|move to".
var travelPhrases = []string{"you go to", "walk to", "head to", "enter", "move to"}

// Coordinator assembles per-turn context, invokes the Planner, and applies
// best-effort post-turn memory and graph updates.
type Coordinator struct {
	Store     *memorystore.Store
	Retrieval *retrieval.Engine
	Plan      planner.Planner
	Chat      *chatlog.Log
	Cfg       config.Config
}

// New constructs a Coordinator.
func New(store *memorystore.Store, eng *retrieval.Engine, plan planner.Planner, chat *chatlog.Log, cfg config.Config) *Coordinator {
	return &Coordinator{Store: store, Retrieval: eng, Plan: plan, Chat: chat, Cfg: cfg}
}

// HandleMessage runs one full chat turn: assemble context, call the
// Planner for a reply, append both turns to the chat log, and apply
// best-effort post-turn side effects. The DM reply is always returned;
// side-effect failures are swallowed per spec.md §4.7/§7.
func (c *Coordinator) HandleMessage(ctx context.Context, userMessage string) (string, error) {
	parts, err := c.assembleContext(ctx, userMessage)
	if err != nil {
		return "", fmt.Errorf("coordinator: assemble context: %w", err)
	}

	reply, err := c.Plan.Generate(ctx, parts)
	if err != nil {
		return "", fmt.Errorf("coordinator: generate reply: %w", err)
	}

	now := c.Store.Now()
	c.Chat.Append(
		chatlog.Message{Role: "user", Content: userMessage, Active: true, Timestamp: now},
		chatlog.Message{Role: "assistant", Content: reply, Active: true, Timestamp: now},
	)

	c.applyMemorySideEffect(ctx, userMessage, reply)
	c.applyMovementSideEffect(ctx, userMessage, reply)
	c.applyGraphChangeSideEffect(ctx, userMessage, reply)

	return reply, nil
}

// assembleContext builds the NPC-cards / world-facts / location prompt
// parts spec.md §4.7 step 1-2 describes.
func (c *Coordinator) assembleContext(ctx context.Context, userMessage string) (planner.PromptParts, error) {
	mems, err := c.Retrieval.MultiIndexCandidates(ctx, userMessage)
	if err != nil {
		return planner.PromptParts{}, err
	}
	worldFacts := make([]string, 0, len(mems))
	for _, m := range mems {
		worldFacts = append(worldFacts, m.Summary)
	}

	minScore := c.Cfg.NPCMinScore
	npcs, err := c.Store.GetRelevantNPCSnapshotsScored(ctx, userMessage, c.Cfg.NPCKDefault, &minScore)
	if err != nil {
		return planner.PromptParts{}, err
	}
	npcCards := make([]string, 0, len(npcs))
	for _, n := range npcs {
		npcCards = append(npcCards, formatNPCCard(n.Snapshot))
	}

	locationText := c.locationBlock()

	parts := planner.PromptParts{
		NPCCards:     npcCards,
		WorldFacts:   worldFacts,
		LocationText: locationText,
		UserMessage:  userMessage,
	}
	parts.WordCount = countWords(npcCards, worldFacts, locationText, userMessage)
	return parts, nil
}

func formatNPCCard(s model.NPCSnapshot) string {
	var b strings.Builder
	b.WriteString(s.Name)
	if s.Intent != "" {
		b.WriteString(" | intent: ")
		b.WriteString(s.Intent)
	}
	b.WriteString(" | relationship: ")
	b.WriteString(string(s.RelationshipToPlayer))
	if s.LastSeenLocation != "" {
		b.WriteString(" | last seen: ")
		b.WriteString(s.LastSeenLocation)
	}
	return b.String()
}

// locationBlock renders the current-location block: name, description
// capped to 600 chars, exits, and people present.
func (c *Coordinator) locationBlock() string {
	graph := c.Store.LocationGraph()
	if graph.PlayerLocation == "" {
		return ""
	}
	node := graph.Get(graph.PlayerLocation)
	if node == nil {
		return ""
	}

	desc := node.Description
	if len(desc) > maxLocationDescriptionLen {
		desc = desc[:maxLocationDescriptionLen]
	}

	var b strings.Builder
	b.WriteString(node.Name)
	if desc != "" {
		b.WriteString(": ")
		b.WriteString(desc)
	}
	if len(node.Connections) > 0 {
		exits := make([]string, len(node.Connections))
		for i, e := range node.Connections {
			exits[i] = e.TravelVerb + " to " + e.ToLocation
		}
		b.WriteString(" | exits: ")
		b.WriteString(strings.Join(exits, ", "))
	}
	if len(node.NPCsPresent) > 0 {
		b.WriteString(" | present: ")
		b.WriteString(strings.Join(node.NPCsPresent, ", "))
	}
	return b.String()
}

func countWords(npcCards, worldFacts []string, locationText, userMessage string) int {
	n := 0
	for _, s := range npcCards {
		n += len(strings.Fields(s))
	}
	for _, s := range worldFacts {
		n += len(strings.Fields(s))
	}
	n += len(strings.Fields(locationText))
	n += len(strings.Fields(userMessage))
	return n
}

// applyMemorySideEffect extracts one candidate memory from the completed
// turn and inserts it if confidence exceeds the configured gate. Any
// failure here is dropped, never surfaced (spec.md §4.7 step 4, §7).
func (c *Coordinator) applyMemorySideEffect(ctx context.Context, userMessage, reply string) {
	defer func() { recover() }()

	cand, err := c.Plan.ExtractTurnMemory(ctx, userMessage, reply)
	if err != nil || cand == nil {
		return
	}
	if cand.Confidence <= c.Cfg.ConfidenceThresholdMemory {
		return
	}

	sourceContext := "Player said: " + userMessage + "\n\nDM responded: " + reply
	var npc *model.NPCUpdate
	if cand.NPC != nil {
		npc = &model.NPCUpdate{
			Name:                 cand.NPC.Name,
			Aliases:              cand.NPC.Aliases,
			LastSeenLocation:     cand.NPC.LastSeenLocation,
			Intent:               cand.NPC.Intent,
			RelationshipToPlayer: model.RelationRank(cand.NPC.RelationshipToPlayer),
			Confidence:           cand.NPC.Confidence,
		}
	}

	_, _ = c.Store.AddMemory(ctx, cand.Summary, cand.Entities, model.MemoryType(cand.Type), npc,
		false, c.Cfg.SimilarityThreshold, sourceContext)
}

// applyMovementSideEffect asks the Planner whether the player moved this
// turn; on Planner unavailability it falls back to the travel-phrase
// heuristic (spec.md §4.7 step 4 fallback).
func (c *Coordinator) applyMovementSideEffect(ctx context.Context, userMessage, reply string) {
	defer func() { recover() }()

	graph := c.Store.LocationGraph()
	exits := currentExits(graph)

	inference, err := c.Plan.InferMovement(ctx, graph.PlayerLocation, exits, userMessage, reply)
	if err != nil {
		if target, ok := fallbackMovement(graph, userMessage, reply); ok {
			graph.SetPlayerLocation(target)
		}
		return
	}
	if !inference.Move || inference.Confidence < c.Cfg.ConfidenceThresholdLocation {
		return
	}
	if graph.Get(inference.Target) != nil {
		graph.SetPlayerLocation(inference.Target)
	}
}

func currentExits(graph *model.LocationGraph) []planner.Exit {
	node := graph.Get(graph.PlayerLocation)
	if node == nil {
		return nil
	}
	out := make([]planner.Exit, len(node.Connections))
	for i, e := range node.Connections {
		out[i] = planner.Exit{ToLocation: e.ToLocation, Description: e.Description, TravelVerb: e.TravelVerb}
	}
	return out
}

// fallbackMovement implements spec.md §4.7's heuristic: a travel phrase in
// the DM reply, plus an exit's target or description appearing in the
// user's message.
func fallbackMovement(graph *model.LocationGraph, userMessage, reply string) (string, bool) {
	node := graph.Get(graph.PlayerLocation)
	if node == nil {
		return "", false
	}
	lowerReply := strings.ToLower(reply)
	hasPhrase := false
	for _, phrase := range travelPhrases {
		if strings.Contains(lowerReply, phrase) {
			hasPhrase = true
			break
		}
	}
	if !hasPhrase {
		return "", false
	}

	lowerMsg := strings.ToLower(userMessage)
	for _, e := range node.Connections {
		if strings.Contains(lowerMsg, strings.ToLower(e.ToLocation)) || strings.Contains(lowerMsg, strings.ToLower(e.Description)) {
			return e.ToLocation, true
		}
	}
	return "", false
}

// applyGraphChangeSideEffect asks the Planner which nodes/edges this turn
// introduced and adds them when confidence clears the location gate
// (spec.md §4.7 step 4).
func (c *Coordinator) applyGraphChangeSideEffect(ctx context.Context, userMessage, reply string) {
	defer func() { recover() }()

	graph := c.Store.LocationGraph()
	changes, err := c.Plan.ExtractGraphChanges(ctx, userMessage, reply, graph.PlayerLocation)
	if err != nil || changes.Confidence < c.Cfg.ConfidenceThresholdLocation {
		return
	}

	for _, nl := range changes.NewLocations {
		if graph.Get(nl.Name) != nil {
			continue
		}
		graph.Upsert(&model.LocationNode{Name: nl.Name, Description: nl.Description, Aliases: nl.Aliases})
	}
	for _, conn := range changes.NewConnections {
		from := graph.Get(conn.From)
		if from == nil {
			continue
		}
		from.AddEdge(model.Edge{ToLocation: conn.To, Description: conn.Description, TravelVerb: conn.TravelVerb}, graph)
	}
}
