package ingest

import (
	"math"
	"strings"

	"github.com/kittclouds/worldmemory/internal/vectormath"
)

// WindowWords is the fixed extraction window size, in words.
const WindowWords = 134

// Words splits raw text on whitespace.
func Words(text string) []string {
	return strings.Fields(text)
}

// TokensPerWord approximates tokens-per-word from raw byte length and word
// count, defaulting to 1.3 for empty input.
func TokensPerWord(text string, totalWords int) float64 {
	if totalWords == 0 || text == "" {
		return 1.3
	}
	tpw := float64(len(text)) / 4.0 / math.Max(1, float64(totalWords))
	return vectormath.Clip(tpw, 0.5, 2.0)
}

// StrideWords resolves the stride in words: the caller override clamped to
// [1, maxChunk] if given (non-nil, non-zero), else derived from tpw.
func StrideWords(override *int, tpw float64, maxChunk int) int {
	if override != nil && *override != 0 {
		return int(vectormath.Clip(float64(*override), 1, float64(maxChunk)))
	}
	derived := int(100.0 / tpw)
	if derived < 1 {
		derived = 1
	}
	return derived
}

// TotalSteps computes the number of extraction windows for totalWords given
// windowWords and strideWords.
func TotalSteps(totalWords, windowWords, strideWords int) int {
	remaining := totalWords - windowWords
	if remaining < 0 {
		remaining = 0
	}
	steps := int(math.Ceil(float64(remaining)/float64(strideWords))) + 1
	if steps < 1 {
		steps = 1
	}
	return steps
}

// WindowSlice returns the word slice for step s: words[s*stride : s*stride +
// windowWords], clamped to the available words. Returns nil once s runs
// past the end of words.
func WindowSlice(words []string, step, windowWords, strideWords int) []string {
	start := step * strideWords
	if start >= len(words) {
		return nil
	}
	end := start + windowWords
	if end > len(words) {
		end = len(words)
	}
	return words[start:end]
}
