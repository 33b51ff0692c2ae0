package memorystore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kittclouds/worldmemory/internal/model"
)

func TestPrefixShortlist_MatchesByNameOrAlias(t *testing.T) {
	combined := map[string]*model.NPCSnapshot{
		"finnigan": {Name: "Finnigan"},
		"the goat": {Name: "The Goat", Aliases: []string{"Goaty"}},
	}

	out := PrefixShortlist(combined, []string{"Finn"})
	require.Len(t, out, 1)
	require.Equal(t, "Finnigan", out[0].Name)

	out = PrefixShortlist(combined, []string{"Goaty"})
	require.Len(t, out, 1)
	require.Equal(t, "The Goat", out[0].Name)
}

func TestPrefixShortlist_NoMatchReturnsNil(t *testing.T) {
	combined := map[string]*model.NPCSnapshot{"finnigan": {Name: "Finnigan"}}
	require.Nil(t, PrefixShortlist(combined, []string{"nobody"}))
}

func TestPrefixShortlist_EmptyInputsReturnNil(t *testing.T) {
	require.Nil(t, PrefixShortlist(nil, []string{"a"}))
	require.Nil(t, PrefixShortlist(map[string]*model.NPCSnapshot{"a": {Name: "A"}}, nil))
}
