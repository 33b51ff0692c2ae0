// Package planner specifies the external LLM-backend contract (spec.md §1
// calls it "Planner"): JSON extraction, movement inference, and graph-change
// extraction. How the model is loaded, quantized, or served is out of
// scope — this package only fixes the request/response shapes, directly
// generalizing the teacher's pkg/extraction.ExtractionResult /
// pkg/batch.Service.Complete contracts to this domain's memory/movement/
// graph extractors.
package planner

import "context"

// CandidateMemory is a single fact candidate returned by an extraction call,
// before sanitization/provenance work happens in the ingest pipeline or
// conversation coordinator.
type CandidateMemory struct {
	Summary       string
	Type          string
	Entities      []string
	Confidence    float64
	SourceContext string
	NPC           *NPCPayload
}

// NPCPayload is the raw NPC fields a Planner extractor may attach to a
// CandidateMemory of type "npc".
type NPCPayload struct {
	Name                 string
	Aliases              []string
	LastSeenLocation     string
	Intent               string
	RelationshipToPlayer string
	Confidence           float64
}

// Exit describes one outgoing connection from the current location, as
// presented to the movement inference call.
type Exit struct {
	ToLocation  string
	Description string
	TravelVerb  string
}

// MovementInference is the Planner's answer to "did the player move".
type MovementInference struct {
	Move       bool
	Target     string
	Confidence float64
}

// GraphChanges is the Planner's answer to "what new nodes/edges were
// introduced this turn".
type GraphChanges struct {
	NewLocations    []NewLocation
	NewConnections  []NewConnection
	Confidence      float64
}

// NewLocation is a candidate node to add to the location graph.
type NewLocation struct {
	Name        string
	Description string
	Aliases     []string
}

// NewConnection is a candidate edge to add to the location graph.
type NewConnection struct {
	From        string
	To          string
	Description string
	TravelVerb  string
}

// PromptParts are the assembled context blocks the ConversationCoordinator
// hands to Generate: NPC cards, world facts, and the location block, plus
// the live user message.
type PromptParts struct {
	NPCCards     []string
	WorldFacts   []string
	LocationText string
	UserMessage  string
	WordCount    int
}

// Planner is the external LLM-backend contract.
type Planner interface {
	// ExtractMemories extracts zero or more candidate memories from one
	// ingest window, given its rolling-context header.
	ExtractMemories(ctx context.Context, header, window string) ([]CandidateMemory, error)

	// ExtractTurnMemory extracts a single candidate memory from one
	// completed chat turn (player message + DM reply).
	ExtractTurnMemory(ctx context.Context, message, reply string) (*CandidateMemory, error)

	// InferMovement decides whether the player moved this turn.
	InferMovement(ctx context.Context, currentLocation string, exits []Exit, message, reply string) (MovementInference, error)

	// ExtractGraphChanges decides what new nodes/edges this turn introduced.
	ExtractGraphChanges(ctx context.Context, message, reply, currentLocation string) (GraphChanges, error)

	// Generate produces the DM's reply text for the assembled prompt.
	Generate(ctx context.Context, parts PromptParts) (string, error)
}
