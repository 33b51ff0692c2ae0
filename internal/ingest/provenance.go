package ingest

import (
	"context"
	"regexp"
	"strings"

	"github.com/orsinium-labs/stopwords"

	"github.com/kittclouds/worldmemory/internal/embedder"
	"github.com/kittclouds/worldmemory/internal/scoring"
)

const maxProvenanceLen = 300

var sentenceBoundary = regexp.MustCompile(`(?:[.!?]+\s+|[.!?]+$)`)

var stopwordsEN = stopwords.MustGet("en")

// splitSentences splits window text into trimmed, non-empty sentences,
// preserving the terminal punctuation.
func splitSentences(window string) []string {
	idxs := sentenceBoundary.FindAllStringIndex(window, -1)
	var out []string
	start := 0
	for _, loc := range idxs {
		sent := strings.TrimSpace(window[start:loc[1]])
		if sent != "" {
			out = append(out, sent)
		}
		start = loc[1]
	}
	if start < len(window) {
		if tail := strings.TrimSpace(window[start:]); tail != "" {
			out = append(out, tail)
		}
	}
	return out
}

// SelectProvenance finds the sentence in window whose embedding has maximum
// similarity to summary, extends it with one sentence of context on each
// side, and caps the result to 300 characters, truncating the surrounding
// context before ever touching the primary sentence. On any failure it
// falls back to a leading slice, preferring the first sentence with at
// least one non-stopword content token.
func SelectProvenance(ctx context.Context, emb embedder.Embedder, window, summary string) (string, error) {
	sentences := splitSentences(window)
	if len(sentences) == 0 {
		return leadingSliceFallback(window), nil
	}

	summaryVec, err := emb.Embed(ctx, summary)
	if err != nil {
		return leadingSliceFallback(window), nil
	}

	bestIdx := -1
	bestScore := -1.0
	for i, sent := range sentences {
		vec, err := emb.Embed(ctx, sent)
		if err != nil {
			continue
		}
		sim := scoring.Similarity(summaryVec, vec)
		if sim > bestScore {
			bestScore = sim
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return leadingSliceFallback(window), nil
	}

	primary := sentences[bestIdx]
	before := ""
	if bestIdx > 0 {
		before = sentences[bestIdx-1]
	}
	after := ""
	if bestIdx < len(sentences)-1 {
		after = sentences[bestIdx+1]
	}

	return capPreservingPrimary(before, primary, after), nil
}

// capPreservingPrimary joins before+primary+after with a budget of
// maxProvenanceLen, truncating the surrounding sentences first and only
// cutting into primary itself if it alone exceeds the budget.
func capPreservingPrimary(before, primary, after string) string {
	if len(primary) >= maxProvenanceLen {
		return primary[:maxProvenanceLen]
	}
	budget := maxProvenanceLen - len(primary)

	joined := primary
	if before != "" {
		sep := " "
		avail := budget - len(sep)
		if avail > 0 {
			b := before
			if len(b) > avail {
				b = b[len(b)-avail:]
			}
			joined = b + sep + joined
			budget -= len(sep) + len(b)
		}
	}
	if after != "" && budget > 1 {
		sep := " "
		avail := budget - len(sep)
		if avail > 0 {
			a := after
			if len(a) > avail {
				a = a[:avail]
			}
			joined = joined + sep + a
		}
	}
	return joined
}

// leadingSliceFallback picks the first sentence carrying at least one
// non-stopword content token, else the first 300 characters of window.
func leadingSliceFallback(window string) string {
	for _, sent := range splitSentences(window) {
		for _, word := range strings.Fields(sent) {
			token := strings.ToLower(strings.Trim(word, ".,!?;:\"'"))
			if token == "" {
				continue
			}
			if !stopwordsEN.Contains(token) {
				if len(sent) > maxProvenanceLen {
					return sent[:maxProvenanceLen]
				}
				return sent
			}
		}
	}
	if len(window) > maxProvenanceLen {
		return window[:maxProvenanceLen]
	}
	return window
}

// BuildExplanation formats source_context into the compact explanation
// stored on the memory: "Player: …; DM: …" when source_context has the
// "Player said: …\n\nDM responded: …" shape, otherwise source_context
// verbatim. Capped at 160 characters with an ellipsis.
func BuildExplanation(sourceContext string) string {
	const maxExplanationLen = 160
	if sourceContext == "" {
		return ""
	}

	explanation := sourceContext
	if playerIdx := strings.Index(sourceContext, "Player said: "); playerIdx >= 0 {
		if dmIdx := strings.Index(sourceContext, "DM responded: "); dmIdx > playerIdx {
			player := strings.TrimSpace(sourceContext[playerIdx+len("Player said: ") : dmIdx])
			player = strings.TrimSuffix(player, "\n\n")
			dm := strings.TrimSpace(sourceContext[dmIdx+len("DM responded: "):])
			explanation = "Player: " + player + "; DM: " + dm
		}
	}

	if len(explanation) > maxExplanationLen {
		explanation = strings.TrimSpace(explanation[:maxExplanationLen-len("…")]) + "…"
	}
	return explanation
}
