package model

import "strings"

// Edge is a directed connection from a LocationNode to another node.
type Edge struct {
	ToLocation  string `json:"to"`
	Description string `json:"description"`
	TravelVerb  string `json:"travel_verb"`
}

// DefaultTravelVerb is used when an edge omits an explicit verb.
const DefaultTravelVerb = "go"

// LocationNode is a single node in the location graph.
type LocationNode struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Aliases     []string `json:"aliases"`
	Connections []Edge   `json:"connections"`
	NPCsPresent []string `json:"npcs_present"`
}

// LocationGraph is the in-memory graph of locations plus the player's
// current position. Edges may only reference nodes present in the graph at
// the moment of insertion; dangling edges are silently rejected.
type LocationGraph struct {
	Nodes          map[string]*LocationNode `json:"locations"`
	PlayerLocation string                   `json:"player_location,omitempty"`
}

// NewLocationGraph returns an empty graph.
func NewLocationGraph() *LocationGraph {
	return &LocationGraph{Nodes: make(map[string]*LocationNode)}
}

// Upsert inserts node if absent, or merges into the existing node if
// present, matching the ingest pipeline's "upsert if not present" semantics.
// Existing non-empty fields are kept on merge; the node's own edges are
// re-validated against the current node set.
func (g *LocationGraph) Upsert(node *LocationNode) *LocationNode {
	existing, ok := g.Nodes[node.Name]
	if !ok {
		node.Connections = g.filterValidEdges(node.Connections)
		g.Nodes[node.Name] = node
		return node
	}
	if existing.Description == "" {
		existing.Description = node.Description
	}
	existing.Aliases = DedupeEntities(append(existing.Aliases, node.Aliases...))
	for _, e := range node.Connections {
		existing.AddEdge(e, g)
	}
	for _, n := range node.NPCsPresent {
		existing.addNPCPresent(n)
	}
	return existing
}

// AddEdge appends e to n's connections if its target exists in g, silently
// rejecting dangling edges.
func (n *LocationNode) AddEdge(e Edge, g *LocationGraph) bool {
	if _, ok := g.Nodes[e.ToLocation]; !ok {
		return false
	}
	if e.TravelVerb == "" {
		e.TravelVerb = DefaultTravelVerb
	}
	for _, existing := range n.Connections {
		if existing.ToLocation == e.ToLocation && existing.Description == e.Description && existing.TravelVerb == e.TravelVerb {
			return true
		}
	}
	n.Connections = append(n.Connections, e)
	return true
}

func (n *LocationNode) addNPCPresent(canonicalName string) {
	for _, existing := range n.NPCsPresent {
		if existing == canonicalName {
			return
		}
	}
	n.NPCsPresent = append(n.NPCsPresent, canonicalName)
}

// filterValidEdges drops edges whose target is not yet present in g.
func (g *LocationGraph) filterValidEdges(edges []Edge) []Edge {
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if _, ok := g.Nodes[e.ToLocation]; ok {
			if e.TravelVerb == "" {
				e.TravelVerb = DefaultTravelVerb
			}
			out = append(out, e)
		}
	}
	return out
}

// Get returns the node named name, or nil if absent.
func (g *LocationGraph) Get(name string) *LocationNode {
	return g.Nodes[name]
}

// SetPlayerLocation sets the player's location if name names an existing
// node, returning false otherwise.
func (g *LocationGraph) SetPlayerLocation(name string) bool {
	if _, ok := g.Nodes[name]; !ok {
		return false
	}
	g.PlayerLocation = name
	return true
}

// AddNPCPresence records canonicalName as present at locationName, a no-op
// if the location does not exist.
func (g *LocationGraph) AddNPCPresence(locationName, canonicalName string) {
	node, ok := g.Nodes[locationName]
	if !ok {
		return
	}
	node.addNPCPresent(canonicalName)
}

// RemoveNPCPresence removes canonicalName from every node's NPCsPresent
// list, used to re-derive npcs_present from the NPC index authority (see
// SPEC_FULL.md §6 open-question decision).
func (g *LocationGraph) RemoveNPCPresence(canonicalName string) {
	RemoveNPCPresenceFromNodes(g.Nodes, canonicalName)
}

// RemoveNPCPresenceFromNodes removes canonicalName from every node's
// NPCsPresent list in nodes. Shared by LocationGraph.RemoveNPCPresence (the
// session graph) and the shard-scoped ingest path, which keeps a bare
// map[string]*LocationNode rather than a full LocationGraph.
func RemoveNPCPresenceFromNodes(nodes map[string]*LocationNode, canonicalName string) {
	for _, node := range nodes {
		filtered := node.NPCsPresent[:0]
		for _, n := range node.NPCsPresent {
			if n != canonicalName {
				filtered = append(filtered, n)
			}
		}
		node.NPCsPresent = filtered
	}
}

// StripArticle removes a leading "the "/"a "/"an " from s, used when
// deriving alias forms for location names.
func StripArticle(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	for _, article := range []string{"the ", "an ", "a "} {
		if strings.HasPrefix(lower, article) {
			return strings.TrimSpace(s[len(article):])
		}
	}
	return s
}
