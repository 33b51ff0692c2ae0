// Package retrieval implements the RetrievalEngine of spec.md §4.5: the
// public literal/semantic/hybrid search surface, plus the multi-index
// candidate-gathering algorithm used internally for conversation context
// assembly.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coregx/ahocorasick"

	"github.com/kittclouds/worldmemory/internal/apperr"
	"github.com/kittclouds/worldmemory/internal/config"
	"github.com/kittclouds/worldmemory/internal/memorystore"
	"github.com/kittclouds/worldmemory/internal/model"
	"github.com/kittclouds/worldmemory/internal/scoring"
	"github.com/kittclouds/worldmemory/internal/vecindex"
)

// annPrefilterOversample bounds how many candidates the sqlite-vec
// prefilter hands to the scorer; scoring still runs in full over the
// returned subset so recency/literal/type bonuses stay exact.
const annPrefilterOversample = 200

// literalAutomatonThreshold is the candidate-pool size above which literal
// mode builds an Aho-Corasick automaton instead of calling strings.Contains
// per candidate.
const literalAutomatonThreshold = 256

// Mode is one of the three public search modes.
type Mode string

const (
	ModeLiteral  Mode = "literal"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// Engine is the retrieval engine, reading candidates from a MemoryStore.
type Engine struct {
	Store *memorystore.Store
	Cfg   config.Config

	indexMu sync.Mutex
	index   *vecindex.Index
}

// New constructs an Engine.
func New(store *memorystore.Store, cfg config.Config) *Engine {
	return &Engine{Store: store, Cfg: cfg}
}

// Close releases the optional sqlite-vec prefilter index, if one was opened.
func (e *Engine) Close() error {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()
	if e.index == nil {
		return nil
	}
	err := e.index.Close()
	e.index = nil
	return err
}

// prefilter narrows cands to the nearest annPrefilterOversample vectors to qv
// using the optional sqlite-vec accelerator (SEARCH_INDEX_BACKEND=sqlitevec).
// Scoring afterwards still runs in full over the returned subset, so
// recency/literal/type bonuses stay exact; this only changes which
// candidates reach the scorer. Falls back to the full pool on any error, on
// an empty pool, or when the backend is the default "naive".
func (e *Engine) prefilter(ctx context.Context, qv []float32, cands []candidate) []candidate {
	if e.Cfg.IndexBackend != "sqlitevec" || len(cands) <= annPrefilterOversample || len(qv) == 0 {
		return cands
	}

	e.indexMu.Lock()
	idx := e.index
	if idx == nil {
		var err error
		idx, err = vecindex.New(len(qv))
		if err != nil {
			e.indexMu.Unlock()
			return cands
		}
		e.index = idx
	}
	e.indexMu.Unlock()

	items := make([]vecindex.Item, 0, len(cands))
	byID := make(map[string]candidate, len(cands))
	for _, c := range cands {
		if len(c.mem.Vector) != len(qv) {
			continue
		}
		items = append(items, vecindex.Item{ID: c.mem.ID, Vector: c.mem.Vector})
		byID[c.mem.ID] = c
	}
	if len(items) == 0 {
		return cands
	}
	if err := idx.Rebuild(ctx, items); err != nil {
		return cands
	}
	ids, err := idx.Search(ctx, qv, annPrefilterOversample)
	if err != nil || len(ids) == 0 {
		return cands
	}

	out := make([]candidate, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// candidate is one pooled memory plus its provenance.
type candidate struct {
	mem    *model.Memory
	shard  string
	origin string
}

// pool returns the union of session memories and all shard memories.
func (e *Engine) pool() []candidate {
	session := e.Store.SessionMemories()
	out := make([]candidate, 0, len(session))
	for _, m := range session {
		out = append(out, candidate{mem: m, shard: "session", origin: "memory"})
	}
	for id, sh := range e.Store.Shards() {
		for _, m := range sh.Memories {
			out = append(out, candidate{mem: m, shard: id, origin: "ingest"})
		}
	}
	return out
}

// ensureVectors lazily embeds any candidate missing its primary vector,
// caching the result back onto the shared *model.Memory.
func (e *Engine) ensureVectors(ctx context.Context, cands []candidate) {
	emb := e.Store.Embedder()
	for _, c := range cands {
		if len(c.mem.Vector) == 0 {
			text := c.mem.Explanation
			if text == "" {
				text = canonicalMemoryText(c.mem)
			}
			if vec, err := emb.Embed(ctx, text); err == nil {
				c.mem.Vector = vec
			}
		}
		if c.mem.WindowText != "" && len(c.mem.WindowVector) == 0 {
			if vec, err := emb.Embed(ctx, c.mem.WindowText); err == nil {
				c.mem.WindowVector = vec
			}
		}
	}
}

func canonicalMemoryText(m *model.Memory) string {
	text := "[" + string(m.Type) + "] " + m.Summary
	for _, e := range m.Entities {
		text += " " + e
	}
	if m.SourceContext != "" {
		text += " " + m.SourceContext
	}
	return text
}

func searchableText(m *model.Memory) string {
	parts := []string{m.Summary, strings.Join(m.Entities, " "), m.Explanation}
	return strings.Join(parts, " ")
}

// ScoreExplanation is the per-result score breakdown.
type ScoreExplanation struct {
	Similarity   float64
	LiteralBoost float64
	RecencyBonus float64
	TypeBonus    float64
}

// ResultSource identifies where a result came from.
type ResultSource struct {
	Shard  string
	Origin string
}

// ResultItem is one ranked search hit.
type ResultItem struct {
	ItemID      string
	Type        model.MemoryType
	Text        string
	Score       float64
	Explanation ScoreExplanation
	UpdatedAt   string
	Source      ResultSource
}

// SearchResult is the full response of Search.
type SearchResult struct {
	Query   string
	Mode    Mode
	K       int
	Results []ResultItem
}

// Filters restrict the candidate pool before scoring.
type Filters struct {
	Types map[model.MemoryType]bool
	Since *int64
}

// Search runs the public literal/semantic/hybrid query surface.
func (e *Engine) Search(ctx context.Context, query string, mode Mode, k int, filters Filters) (*SearchResult, error) {
	if query == "" {
		return nil, apperr.InvalidArgument("retrieval: query must not be empty")
	}
	if mode != ModeLiteral && mode != ModeSemantic && mode != ModeHybrid {
		return nil, apperr.InvalidArgument("retrieval: unknown mode %q", mode)
	}

	cands := e.pool()
	cands = applyFilters(cands, filters)

	var results []ResultItem
	switch mode {
	case ModeLiteral:
		results = e.searchLiteral(query, cands)
	case ModeSemantic:
		weights := scoring.Weights{Sim: 1.0}
		var err error
		results, err = e.searchScored(ctx, query, cands, weights)
		if err != nil {
			return nil, err
		}
	case ModeHybrid:
		var err error
		results, err = e.searchScored(ctx, query, cands, e.Cfg.Weights)
		if err != nil {
			return nil, err
		}
	}

	if k < len(results) {
		results = results[:k]
	}
	return &SearchResult{Query: query, Mode: mode, K: k, Results: results}, nil
}

func applyFilters(cands []candidate, f Filters) []candidate {
	if len(f.Types) == 0 && f.Since == nil {
		return cands
	}
	out := make([]candidate, 0, len(cands))
	for _, c := range cands {
		if len(f.Types) > 0 && !f.Types[c.mem.Type] {
			continue
		}
		if f.Since != nil && c.mem.Timestamp < *f.Since {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (e *Engine) searchLiteral(query string, cands []candidate) []ResultItem {
	var matches []candidate
	if len(cands) > literalAutomatonThreshold {
		matches = literalMatchAutomaton(query, cands)
	} else {
		matches = literalMatchDirect(query, cands)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].mem.Timestamp > matches[j].mem.Timestamp
	})

	out := make([]ResultItem, 0, len(matches))
	for _, c := range matches {
		out = append(out, toResultItem(c, 1.0, ScoreExplanation{LiteralBoost: 1.0}))
	}
	return out
}

func literalMatchDirect(query string, cands []candidate) []candidate {
	q := strings.ToLower(query)
	var out []candidate
	for _, c := range cands {
		if strings.Contains(strings.ToLower(searchableText(c.mem)), q) {
			out = append(out, c)
		}
	}
	return out
}

// literalMatchAutomaton builds one Aho-Corasick automaton over the query's
// phrase terms (split on whitespace when query has multiple words, the
// whole query as a single term otherwise) and scans each candidate's
// searchable text for any term hit.
func literalMatchAutomaton(query string, cands []candidate) []candidate {
	lowerQuery := strings.ToLower(query)
	terms := strings.Fields(lowerQuery)
	if len(terms) <= 1 {
		terms = []string{lowerQuery}
	}
	automaton, err := ahocorasick.NewBuilder().
		AddStrings(terms).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return literalMatchDirect(query, cands)
	}

	var out []candidate
	for _, c := range cands {
		haystack := []byte(strings.ToLower(searchableText(c.mem)))
		if len(automaton.FindAllOverlapping(haystack)) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) searchScored(ctx context.Context, query string, cands []candidate, weights scoring.Weights) ([]ResultItem, error) {
	emb := e.Store.Embedder()
	qv, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	e.ensureVectors(ctx, cands)
	cands = e.prefilter(ctx, qv, cands)

	now := e.Store.Now()
	out := make([]ResultItem, 0, len(cands))
	for _, c := range cands {
		baseSim := scoring.Similarity(qv, c.mem.Vector)
		winSim := -1.0
		if len(c.mem.WindowVector) > 0 {
			winSim = scoring.Similarity(qv, c.mem.WindowVector)
		}
		sim := baseSim
		if winSim > sim {
			sim = winSim
		}
		lit := scoring.LiteralBoost(query, searchableText(c.mem), 1.0)
		rec := scoring.RecencyBonus(c.mem.Timestamp, now, e.Cfg.HalfLifeHours)
		typ := scoring.TypeBonus(string(c.mem.Type), e.Cfg.TypeBonus)
		total := scoring.Combine(sim, lit, rec, typ, weights)

		out = append(out, toResultItem(c, total, ScoreExplanation{
			Similarity: sim, LiteralBoost: lit, RecencyBonus: rec, TypeBonus: typ,
		}))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func toResultItem(c candidate, score float64, expl ScoreExplanation) ResultItem {
	return ResultItem{
		ItemID:      c.mem.ID,
		Type:        c.mem.Type,
		Text:        c.mem.Summary,
		Score:       score,
		Explanation: expl,
		UpdatedAt:   time.Unix(c.mem.Timestamp, 0).UTC().Format(time.RFC3339),
		Source:      ResultSource{Shard: c.shard, Origin: c.origin},
	}
}
