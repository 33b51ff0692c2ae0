// Package embedder specifies the external embedding-model contract: a pure
// function text -> unit-norm vector in R^d for a fixed d. How the model is
// loaded, quantized, or served is out of scope (spec.md §1).
package embedder

import "context"

// Embedder produces a unit-norm embedding vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}
