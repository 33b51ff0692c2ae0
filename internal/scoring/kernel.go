// Package scoring provides the pure scoring primitives shared by
// MemoryStore's NPC scoring and RetrievalEngine's hybrid ranking. Every
// function here is stateless and side-effect free.
package scoring

import (
	"math"
	"strings"

	"github.com/kittclouds/worldmemory/internal/vectormath"
)

// Weights holds the linear-combination coefficients used by Combine.
type Weights struct {
	Sim     float64
	Literal float64
	Rec     float64
	Type    float64
}

// DefaultWeights matches the defaults in spec.md §4.1.
var DefaultWeights = Weights{Sim: 1.0, Literal: 0.2, Rec: 0.15, Type: 0.05}

// DefaultHalfLifeHours is the hybrid-mode recency half-life.
const DefaultHalfLifeHours = 72.0

// DefaultTypeBonus is the default type->bonus map.
func DefaultTypeBonus() map[string]float64 {
	return map[string]float64{"npc": 0.02, "location": 0.01}
}

// Similarity returns clip(<q,v>, 0, 1). Non-unit-norm inputs are normalized
// defensively before the dot product, since callers (notably tests) may
// pass raw vectors. Returns 0 if either vector is empty or zero-norm.
func Similarity(q, v []float32) float64 {
	if len(q) == 0 || len(v) == 0 {
		return 0
	}
	if vectormath.Norm(q) == 0 || vectormath.Norm(v) == 0 {
		return 0
	}
	nq := vectormath.Normalize(q)
	nv := vectormath.Normalize(v)
	return vectormath.Clip(vectormath.Dot(nq, nv), 0, 1)
}

// LiteralBoost returns boost if query is a case-insensitive substring of
// text, else 0. An empty query or text always yields 0.
func LiteralBoost(query, text string, boost float64) float64 {
	if query == "" || text == "" {
		return 0
	}
	if strings.Contains(strings.ToLower(text), strings.ToLower(query)) {
		return boost
	}
	return 0
}

// RecencyBonus returns exp(-max(0, now-ts)/3600 / halfLifeHours). Future
// timestamps (ts > now) return 1.0.
func RecencyBonus(ts, now int64, halfLifeHours float64) float64 {
	age := float64(now-ts) / 3600.0
	if age <= 0 {
		return 1.0
	}
	return math.Exp(-age / halfLifeHours)
}

// TypeBonus looks up t in m, defaulting to 0 when absent.
func TypeBonus(t string, m map[string]float64) float64 {
	return m[t]
}

// Combine linearly combines the four score components under w.
func Combine(sim, lit, rec, typ float64, w Weights) float64 {
	return w.Sim*sim + w.Literal*lit + w.Rec*rec + w.Type*typ
}

// ShortHalfLifeRecency is the ingest/retrieval-side short half-life bonus
// used for NPC snapshot scoring and the RetrievalEngine candidate score:
// 0.5^(age_seconds/600) * scale.
func ShortHalfLifeRecency(ageSeconds float64, scale float64) float64 {
	if ageSeconds < 0 {
		ageSeconds = 0
	}
	return math.Pow(0.5, ageSeconds/600.0) * scale
}
