// Package ingest implements the IngestPipeline of spec.md §4.4: windowed
// chunking over streamed text, per-window Planner extraction, provenance
// and explanation building, rolling-context tracking, and final
// consolidation before an atomic shard write.
package ingest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/coregx/ahocorasick"

	"github.com/kittclouds/worldmemory/internal/config"
	"github.com/kittclouds/worldmemory/internal/embedder"
	"github.com/kittclouds/worldmemory/internal/memorystore"
	"github.com/kittclouds/worldmemory/internal/model"
	"github.com/kittclouds/worldmemory/internal/planner"
	"github.com/kittclouds/worldmemory/internal/shardstore"
)

// EventKind is the kind of one pipeline event.
type EventKind string

const (
	EventSaved    EventKind = "saved"
	EventProgress EventKind = "progress"
	EventDone     EventKind = "done"
)

// Event is one message emitted on an ingest stream.
type Event struct {
	Kind     EventKind
	Step     int
	Total    int
	MemoryID string
	Err      error
}

// Pipeline runs windowed ingest streams against a MemoryStore/ShardStore
// pair, using plan to extract candidate memories per window.
type Pipeline struct {
	Store   *memorystore.Store
	Shards  *shardstore.Store
	Uploads *UploadMap
	Plan    planner.Planner
	Cfg     config.Config
}

// New constructs a Pipeline.
func New(store *memorystore.Store, shards *shardstore.Store, uploads *UploadMap, plan planner.Planner, cfg config.Config) *Pipeline {
	return &Pipeline{Store: store, Shards: shards, Uploads: uploads, Plan: plan, Cfg: cfg}
}

// Run starts an ingest stream for ingestID against the raw text previously
// stored under uploadID, returning a channel of events. The channel is
// closed when the stream completes, fails, or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, ingestID, uploadID string, strideOverride *int) (<-chan Event, error) {
	text, err := p.Uploads.Take(uploadID)
	if err != nil {
		return nil, err
	}

	ch := make(chan Event, 4)
	go p.run(ctx, ingestID, text, strideOverride, ch)
	return ch, nil
}

func (p *Pipeline) run(ctx context.Context, ingestID, text string, strideOverride *int, ch chan<- Event) {
	defer close(ch)

	words := Words(text)
	totalWords := len(words)
	tpw := TokensPerWord(text, totalWords)
	stride := StrideWords(strideOverride, tpw, p.Cfg.MaxChunkSize)
	totalSteps := TotalSteps(totalWords, WindowWords, stride)

	p.Store.EnsureIngestShard(ingestID)
	rc := &RollingContext{}
	mentions := newMentionTracker()
	emb := p.Store.Embedder()

	for step := 0; step < totalSteps; step++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		winWords := WindowSlice(words, step, WindowWords, stride)
		windowText := strings.Join(winWords, " ")
		if windowText == "" {
			continue
		}

		for _, name := range mentions.observe(windowText) {
			rc.NPCsMentioned = prependUnique(rc.NPCsMentioned, name, maxRecentNPCs)
		}
		header := rc.Header()

		candidates, err := p.Plan.ExtractMemories(ctx, header, windowText)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			continue
		}

		for _, cand := range candidates {
			if cand.Confidence < 0.7 {
				continue
			}
			p.saveCandidate(ctx, ingestID, cand, windowText, emb, rc, mentions, ch, step, totalSteps)
		}

		ch <- Event{Kind: EventProgress, Step: step + 1, Total: totalSteps}
	}

	p.finish(ingestID, ch)
}

func (p *Pipeline) saveCandidate(
	ctx context.Context,
	ingestID string,
	cand planner.CandidateMemory,
	windowText string,
	emb embedder.Embedder,
	rc *RollingContext,
	mentions *mentionTracker,
	ch chan<- Event,
	step, totalSteps int,
) {
	entities := model.DedupeEntities(cand.Entities)
	memType := model.MemoryType(cand.Type)

	provenance, _ := SelectProvenance(ctx, emb, windowText, cand.Summary)
	explanation := BuildExplanation(cand.SourceContext)
	if explanation == "" {
		explanation = provenance
	}

	embedText := explanation
	if embedText == "" {
		embedText = canonicalCandidateText(cand)
	}
	vec, err := emb.Embed(ctx, embedText)
	if err != nil {
		return
	}
	winVec, err := emb.Embed(ctx, windowText)
	if err != nil {
		return
	}

	mem := &model.Memory{
		ID:            generateMemoryID(),
		Summary:       cand.Summary,
		Type:          memType,
		Entities:      entities,
		Confidence:    cand.Confidence,
		Timestamp:     p.Store.Now(),
		SourceContext: cand.SourceContext,
		WindowText:    windowText,
		Explanation:   explanation,
		Vector:        vec,
		WindowVector:  winVec,
	}

	var locationName string
	if memType == model.TypeLocation {
		locationName = canonicalLocationName(entities, cand.Summary)
		if locationName != "" {
			node := &model.LocationNode{
				Name: locationName,
				Aliases: model.DedupeEntities([]string{
					model.CanonicalName(locationName),
					model.StripArticle(locationName),
				}),
			}
			p.Store.UpsertIngestLocation(ingestID, node)
		}
	}

	var npcName string
	if cand.NPC != nil {
		npcName = cand.NPC.Name
		update := model.NPCUpdate{
			Name:                 cand.NPC.Name,
			Aliases:              cand.NPC.Aliases,
			LastSeenLocation:     cand.NPC.LastSeenLocation,
			Intent:               cand.NPC.Intent,
			RelationshipToPlayer: model.RelationRank(cand.NPC.RelationshipToPlayer),
			Confidence:           cand.NPC.Confidence,
		}
		p.Store.AddIngestNPCUpdate(ingestID, update, mem)
		mem.NPC = &update
		mentions.add(cand.NPC.Name)
	}

	p.Store.AddIngestMemory(ingestID, mem)
	ch <- Event{Kind: EventSaved, Step: step + 1, Total: totalSteps, MemoryID: mem.ID}

	if cand.Confidence >= 0.75 {
		rc.UpdateFromSaved(memType, cand.Summary, locationName, npcName)
	}
}

func (p *Pipeline) finish(ingestID string, ch chan<- Event) {
	sh := p.Store.Shard(ingestID)
	if sh != nil && len(sh.Memories) >= 6 {
		consolidate(sh)
	}
	if sh != nil {
		if err := p.Shards.Persist(ingestID); err != nil {
			ch <- Event{Kind: EventDone, Err: err}
			return
		}
	}
	ch <- Event{Kind: EventDone}
}

// consolidate groups sh.Memories by (lowercased summary, sorted lowercased
// entities) and keeps one entry per group — the one with max confidence.
func consolidate(sh *model.Shard) {
	type group struct {
		best *model.Memory
	}
	groups := make(map[string]*group)
	order := make([]string, 0, len(sh.Memories))

	for _, m := range sh.Memories {
		key := consolidationKey(m)
		g, ok := groups[key]
		if !ok {
			g = &group{best: m}
			groups[key] = g
			order = append(order, key)
			continue
		}
		if m.Confidence > g.best.Confidence {
			g.best = m
		}
	}

	out := make([]*model.Memory, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key].best)
	}
	sh.Memories = out
}

func consolidationKey(m *model.Memory) string {
	entities := append([]string(nil), m.Entities...)
	lowered := make([]string, len(entities))
	for i, e := range entities {
		lowered[i] = strings.ToLower(e)
	}
	sort.Strings(lowered)
	return strings.ToLower(m.Summary) + "|" + strings.Join(lowered, ",")
}

func canonicalCandidateText(cand planner.CandidateMemory) string {
	text := fmt.Sprintf("[%s] %s", cand.Type, cand.Summary)
	for _, e := range cand.Entities {
		text += " " + e
	}
	if cand.SourceContext != "" {
		text += " " + cand.SourceContext
	}
	return text
}

// canonicalLocationName derives a location's canonical display name: the
// first entity if present, else the subject of the summary before " is ".
func canonicalLocationName(entities []string, summary string) string {
	if len(entities) > 0 {
		return entities[0]
	}
	if idx := strings.Index(summary, " is "); idx > 0 {
		return strings.TrimSpace(summary[:idx])
	}
	return ""
}

func generateMemoryID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// mentionTracker maintains an Aho-Corasick automaton over NPC names seen so
// far in the stream, rebuilt whenever a new name is added, so each window
// can be scanned in O(window length) rather than with one substring search
// per known name.
type mentionTracker struct {
	names     []string
	automaton *ahocorasick.Automaton
}

func newMentionTracker() *mentionTracker {
	return &mentionTracker{}
}

func (t *mentionTracker) add(name string) {
	canonical := model.CanonicalName(name)
	if canonical == "" {
		return
	}
	for _, existing := range t.names {
		if existing == canonical {
			return
		}
	}
	t.names = append(t.names, canonical)
	t.automaton = nil
}

func (t *mentionTracker) ensureBuilt() {
	if t.automaton != nil || len(t.names) == 0 {
		return
	}
	automaton, err := ahocorasick.NewBuilder().
		AddStrings(t.names).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return
	}
	t.automaton = automaton
}

// observe scans windowText for any NPC name seen so far in the stream
// (added via add) and returns the canonical names found, in match order,
// so the caller can fold them into RollingContext.NPCsMentioned even when
// this window's extraction step doesn't itself save a new NPC candidate.
func (t *mentionTracker) observe(windowText string) []string {
	t.ensureBuilt()
	if t.automaton == nil {
		return nil
	}
	matches := t.automaton.FindAllOverlapping([]byte(strings.ToLower(windowText)))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, t.names[m.PatternID])
	}
	return out
}
