package retrieval

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/kittclouds/worldmemory/internal/model"
	"github.com/kittclouds/worldmemory/internal/scoring"
)

// ingestRecencyScale is the ingest-side short half-life scale used by the
// multi-index candidate score (distinct from the public hybrid mode's
// configured half-life).
const ingestRecencyScale = 0.05

// contextTypeBonus is the fixed type-bonus table for context assembly,
// distinct from the configurable SEARCH_TYPE_BONUS used by public search.
var contextTypeBonus = map[model.MemoryType]float64{
	model.TypeThreat:       0.06,
	model.TypeNPC:          0.05,
	model.TypeRelationship: 0.05,
	model.TypeGoal:         0.04,
	model.TypeItem:         0.02,
}

type scoredCandidate struct {
	candidate
	score float64
}

func (e *Engine) scoreForContext(ctx context.Context, query string, cands []candidate) ([]scoredCandidate, error) {
	emb := e.Store.Embedder()
	qv, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	e.ensureVectors(ctx, cands)
	cands = e.prefilter(ctx, qv, cands)

	now := e.Store.Now()
	out := make([]scoredCandidate, 0, len(cands))
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
		age := float64(now - c.mem.Timestamp)
		rec := scoring.ShortHalfLifeRecency(age, ingestRecencyScale)
		bonus := contextTypeBonus[c.mem.Type]
		out = append(out, scoredCandidate{candidate: c, score: sim + rec + bonus})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out, nil
}

// MultiIndexCandidates implements the §4.5 context-assembly algorithm: a
// general top-k pass, then per-entity and per-type top-ups from a relaxed
// pool, deduplicated and returned sorted by score descending.
func (e *Engine) MultiIndexCandidates(ctx context.Context, query string) ([]*model.Memory, error) {
	scored, err := e.scoreForContext(ctx, query, e.pool())
	if err != nil {
		return nil, err
	}
	if len(scored) == 0 {
		return nil, nil
	}

	kGeneral := e.Cfg.KGeneral
	minScore := e.Cfg.MinTotalScore

	general := filterByScore(scored, minScore)
	general = truncate(general, kGeneral)
	if len(general) == 0 {
		fallbackK := kGeneral
		if fallbackK < 10 {
			fallbackK = 10
		}
		general = truncate(scored, fallbackK)
	}

	selected := make(map[string]scoredCandidate)
	order := make([]string, 0, len(general))
	for _, c := range general {
		key := dedupeKey(c.mem)
		if _, ok := selected[key]; !ok {
			selected[key] = c
			order = append(order, key)
		}
	}

	relaxedThreshold := minScore * 0.5
	if relaxedThreshold > 0.1 {
		relaxedThreshold = 0.1
	}
	relaxedPool := truncate(scored, 100)

	topEntities := topEntitiesByFrequency(truncate(scored, 3*kGeneral), 3)
	for _, entity := range topEntities {
		added := 0
		lowerEntity := strings.ToLower(entity)
		for _, c := range relaxedPool {
			if added >= e.Cfg.KPerEntity {
				break
			}
			if c.score < relaxedThreshold {
				continue
			}
			if !containsEntityFold(c.mem.Entities, lowerEntity) {
				continue
			}
			key := dedupeKey(c.mem)
			if _, ok := selected[key]; ok {
				continue
			}
			selected[key] = c
			order = append(order, key)
			added++
		}
	}

	for _, t := range []model.MemoryType{model.TypeThreat, model.TypeNPC, model.TypeGoal, model.TypeLocation} {
		added := 0
		for _, c := range relaxedPool {
			if added >= e.Cfg.KPerType {
				break
			}
			if c.score < relaxedThreshold || c.mem.Type != t {
				continue
			}
			key := dedupeKey(c.mem)
			if _, ok := selected[key]; ok {
				continue
			}
			selected[key] = c
			order = append(order, key)
			added++
		}
	}

	out := make([]scoredCandidate, 0, len(order))
	for _, key := range order {
		out = append(out, selected[key])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })

	mems := make([]*model.Memory, len(out))
	for i, c := range out {
		mems[i] = c.mem
	}
	return mems, nil
}

func filterByScore(cands []scoredCandidate, minScore float64) []scoredCandidate {
	out := make([]scoredCandidate, 0, len(cands))
	for _, c := range cands {
		if c.score >= minScore {
			out = append(out, c)
		}
	}
	return out
}

func truncate(cands []scoredCandidate, k int) []scoredCandidate {
	if k < 0 {
		k = 0
	}
	if k > len(cands) {
		k = len(cands)
	}
	return cands[:k]
}

func dedupeKey(m *model.Memory) string {
	if m.ID != "" {
		return "id:" + m.ID
	}
	return "fallback:" + m.Summary + "|" + strconv.FormatInt(m.Timestamp, 10)
}

func containsEntityFold(entities []string, lowerTarget string) bool {
	for _, e := range entities {
		if strings.ToLower(e) == lowerTarget {
			return true
		}
	}
	return false
}

// topEntitiesByFrequency returns up to n entity strings ordered by
// descending frequency across cands (case-insensitive, first-seen casing
// preserved).
func topEntitiesByFrequency(cands []scoredCandidate, n int) []string {
	counts := make(map[string]int)
	display := make(map[string]string)
	var order []string
	for _, c := range cands {
		for _, e := range c.mem.Entities {
			key := strings.ToLower(e)
			if _, ok := counts[key]; !ok {
				order = append(order, key)
				display[key] = e
			}
			counts[key]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	out := make([]string, len(order))
	for i, key := range order {
		out[i] = display[key]
	}
	return out
}
