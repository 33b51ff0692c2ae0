// Package testutil provides deterministic fakes for the external Planner
// and Embedder collaborators, used across this module's test suites.
package testutil

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/kittclouds/worldmemory/internal/vectormath"
)

const fakeEmbedDim = 32

// FakeEmbedder is a deterministic bag-of-words hashing embedder: texts that
// share more words score higher on dot product, with no network or model
// dependency, suitable for exercising ScoringKernel/MemoryStore/Retrieval
// invariants end-to-end in tests.
type FakeEmbedder struct{}

// Dim returns the fixed embedding dimension.
func (FakeEmbedder) Dim() int { return fakeEmbedDim }

// Embed hashes each lowercased word of text into a bucket of a fixed-size
// vector and L2-normalizes the result.
func (FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, fakeEmbedDim)
	words := strings.Fields(strings.ToLower(text))
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		idx := int(h.Sum32()) % fakeEmbedDim
		if idx < 0 {
			idx += fakeEmbedDim
		}
		vec[idx] += 1
	}
	if vectormath.Norm(vec) == 0 {
		vec[0] = 1
	}
	return vectormath.Normalize(vec), nil
}
