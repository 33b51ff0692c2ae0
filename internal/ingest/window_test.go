package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokensPerWord_EmptyDefaultsTo13(t *testing.T) {
	require.Equal(t, 1.3, TokensPerWord("", 0))
}

func TestTokensPerWord_ClippedToRange(t *testing.T) {
	require.Equal(t, 0.5, TokensPerWord("a", 1000))
	require.Equal(t, 2.0, TokensPerWord(string(make([]byte, 10000)), 1))
}

func TestStrideWords_OverrideClamped(t *testing.T) {
	over := 99999
	require.Equal(t, 12000, StrideWords(&over, 1.3, 12000))
	over2 := 0
	require.Equal(t, int(100.0/1.3), StrideWords(&over2, 1.3, 12000))
}

func TestStrideWords_DerivedFromTpw(t *testing.T) {
	require.Equal(t, int(100.0/1.3), StrideWords(nil, 1.3, 12000))
}

func TestTotalSteps_SingleStepWhenShort(t *testing.T) {
	require.Equal(t, 1, TotalSteps(50, WindowWords, 77))
}

func TestTotalSteps_MultipleSteps(t *testing.T) {
	require.Equal(t, 3, TotalSteps(300, 134, 100))
}

func TestWindowSlice_ClampsAtEnd(t *testing.T) {
	words := Words("one two three four five")
	slice := WindowSlice(words, 0, 3, 2)
	require.Equal(t, []string{"one", "two", "three"}, slice)

	slice = WindowSlice(words, 1, 3, 2)
	require.Equal(t, []string{"three", "four", "five"}, slice)

	require.Nil(t, WindowSlice(words, 10, 3, 2))
}
