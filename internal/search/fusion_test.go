package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-kb/lodestone/internal/store"
)

func row(id int64, permalink string) *store.SearchIndexRow {
	r := &store.SearchIndexRow{ID: id, Type: store.ItemTypeEntity, Title: permalink}
	if permalink != "" {
		p := permalink
		r.Permalink = &p
	}
	return r
}

func permalinks(rows []*store.SearchIndexRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.PermalinkOrEmpty()
	}
	return out
}

func TestFuseRRFBothListsBeatSingleList(t *testing.T) {
	lexical := []*store.SearchIndexRow{row(1, "a"), row(2, "b")}
	vector := []*store.SearchIndexRow{row(1, "a"), row(3, "c")}

	fused := fuseRRF(lexical, vector, 60)
	require.Len(t, fused, 3)

	// a appears rank 1 in both lists: 2/61. b and c each appear rank
	// 1 or 2 in one list only.
	assert.Equal(t, "a", fused[0].PermalinkOrEmpty())
	assert.InDelta(t, 2.0/61.0, fused[0].Score, 1e-12)

	// b (lexical rank 2) and c (vector rank 2) both score 1/62; the
	// tie resolves by first encounter, lexical list first.
	assert.Equal(t, []string{"a", "b", "c"}, permalinks(fused))
	assert.InDelta(t, 1.0/62.0, fused[1].Score, 1e-12)
	assert.InDelta(t, 1.0/62.0, fused[2].Score, 1e-12)
}

func TestFuseRRFDropsPermalinklessRows(t *testing.T) {
	lexical := []*store.SearchIndexRow{row(1, "a"), row(2, "")}
	vector := []*store.SearchIndexRow{row(3, "")}

	fused := fuseRRF(lexical, vector, 60)
	require.Len(t, fused, 1)
	assert.Equal(t, "a", fused[0].PermalinkOrEmpty())
}

func TestFuseRRFEmptyLists(t *testing.T) {
	assert.Empty(t, fuseRRF(nil, nil, 60))

	fused := fuseRRF([]*store.SearchIndexRow{row(1, "a")}, nil, 60)
	require.Len(t, fused, 1)
	assert.InDelta(t, 1.0/61.0, fused[0].Score, 1e-12)
}

func TestFuseRRFRankDecay(t *testing.T) {
	lexical := []*store.SearchIndexRow{row(1, "a"), row(2, "b"), row(3, "c")}
	fused := fuseRRF(lexical, nil, 60)
	require.Len(t, fused, 3)
	assert.Greater(t, fused[0].Score, fused[1].Score)
	assert.Greater(t, fused[1].Score, fused[2].Score)
	assert.Equal(t, []string{"a", "b", "c"}, permalinks(fused))
}

func TestFuseRRFDefaultConstant(t *testing.T) {
	fused := fuseRRF([]*store.SearchIndexRow{row(1, "a")}, nil, 0)
	require.Len(t, fused, 1)
	assert.InDelta(t, 1.0/61.0, fused[0].Score, 1e-12)
}
