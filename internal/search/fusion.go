// Package search executes lexical, vector, and hybrid retrieval over
// an indexed project. Hybrid results are fused with Reciprocal Rank
// Fusion (RRF).
package search

import (
	"sort"

	"github.com/lodestone-kb/lodestone/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter k.
const DefaultRRFConstant = 60

// fusedRow accumulates a row's RRF score across the ranked lists.
type fusedRow struct {
	row   *store.SearchIndexRow
	score float64
	seq   int // first-encounter order, the deterministic tie-break
}

// fuseRRF combines two ranked lists with Reciprocal Rank Fusion:
// score(d) = sum of 1/(k + rank_i) over the lists d appears in, rank
// 1-indexed. Rows are keyed by permalink; rows without one cannot be
// matched across lists and are dropped. Ties keep first-encounter
// order, lexical list first.
func fuseRRF(lexical, vector []*store.SearchIndexRow, k int) []*store.SearchIndexRow {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	fused := make(map[string]*fusedRow, len(lexical)+len(vector))
	seq := 0

	accumulate := func(list []*store.SearchIndexRow) {
		for rank, row := range list {
			permalink := row.PermalinkOrEmpty()
			if permalink == "" {
				continue
			}
			f, ok := fused[permalink]
			if !ok {
				f = &fusedRow{row: row, seq: seq}
				seq++
				fused[permalink] = f
			}
			f.score += 1.0 / float64(k+rank+1)
		}
	}
	accumulate(lexical)
	accumulate(vector)

	results := make([]*fusedRow, 0, len(fused))
	for _, f := range fused {
		results = append(results, f)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].seq < results[j].seq
	})

	rows := make([]*store.SearchIndexRow, len(results))
	for i, f := range results {
		f.row.Score = f.score
		rows[i] = f.row
	}
	return rows
}
