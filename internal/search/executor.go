package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/lodestone-kb/lodestone/internal/embed"
	"github.com/lodestone-kb/lodestone/internal/store"
)

// DefaultCandidateK is the floor on the vector candidate pool, so
// shallow pages still see enough chunks to collapse per entity.
const DefaultCandidateK = 50

// Options tunes the executor.
type Options struct {
	RRFConstant int // RRF smoothing constant (default: DefaultRRFConstant)
	CandidateK  int // Minimum vector candidate pool (default: DefaultCandidateK)
}

// Executor runs search queries in lexical, vector, or hybrid mode
// against one backing store. A nil embedding provider leaves lexical
// mode working and makes the semantic modes fail fast.
type Executor struct {
	store    store.Store
	provider embed.Provider
	options  Options
	logger   *slog.Logger
}

// New creates an executor. provider may be nil when semantic search is
// disabled.
func New(st store.Store, provider embed.Provider, opts Options, logger *slog.Logger) *Executor {
	if opts.RRFConstant <= 0 {
		opts.RRFConstant = DefaultRRFConstant
	}
	if opts.CandidateK <= 0 {
		opts.CandidateK = DefaultCandidateK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: st, provider: provider, options: opts, logger: logger}
}

// Search runs one query and returns rows ordered by relevance with
// Score populated. offset and limit apply after final ranking in every
// mode. Malformed query text never surfaces as an error; it ranks as
// zero matches.
func (e *Executor) Search(ctx context.Context, projectID string, q *store.SearchQuery, mode store.SearchMode, limit, offset int) ([]*store.SearchIndexRow, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	switch mode {
	case store.ModeVector:
		rows, err := e.vectorSearch(ctx, projectID, q, limit+offset)
		if err != nil {
			return nil, err
		}
		return page(rows, limit, offset), nil
	case store.ModeHybrid:
		rows, err := e.hybridSearch(ctx, projectID, q, limit, offset)
		if err != nil {
			return nil, err
		}
		return page(rows, limit, offset), nil
	case store.ModeLexical, "":
		rows, err := e.store.SearchRows(ctx, projectID, q, limit+offset)
		if err != nil {
			return nil, err
		}
		return page(rows, limit, offset), nil
	default:
		return nil, fmt.Errorf("unsupported search mode %q", mode)
	}
}

// vectorSearch embeds the query text, pulls the nearest chunks,
// collapses them to one similarity per entity, and intersects with a
// lexical-filter pass so type/date/metadata filters behave identically
// to lexical mode. Returns up to want entity rows ranked by
// similarity descending.
func (e *Executor) vectorSearch(ctx context.Context, projectID string, q *store.SearchQuery, want int) ([]*store.SearchIndexRow, error) {
	if e.provider == nil {
		return nil, store.ErrSemanticSearchDisabled
	}
	if !q.HasTextPredicate() || q.IsWildcardOnly() {
		return nil, store.ErrVectorTextRequired
	}

	queryVec, err := e.provider.EmbedQuery(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	k := e.options.CandidateK
	if pool := want * 5; pool > k {
		k = pool
	}
	matches, err := e.store.NearestChunks(ctx, projectID, queryVec, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearest chunks: %w", err)
	}
	if len(matches) == 0 {
		return []*store.SearchIndexRow{}, nil
	}

	// Best similarity per entity across its chunks.
	similarity := make(map[int64]float64)
	for _, m := range matches {
		sim := 1.0 / (1.0 + m.Distance)
		if sim > similarity[m.EntityID] {
			similarity[m.EntityID] = sim
		}
	}

	// Re-apply the non-text filters through the store so both modes
	// honor them the same way.
	filtered, err := e.store.SearchRows(ctx, projectID, q.WithoutText(), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to apply filters: %w", err)
	}

	var rows []*store.SearchIndexRow
	for _, row := range filtered {
		if row.Type != store.ItemTypeEntity {
			continue
		}
		sim, ok := similarity[row.ID]
		if !ok {
			continue
		}
		row.Score = sim
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].ID < rows[j].ID
	})
	if len(rows) > want && want > 0 {
		rows = rows[:want]
	}
	return rows, nil
}

// hybridSearch runs the lexical and vector branches concurrently over
// an enlarged candidate pool and fuses them with RRF. Preconditions
// (semantic search configured, a text query present) fail the whole
// call; a runtime failure in one branch degrades to that branch
// contributing nothing, and the call only errors when both fail.
func (e *Executor) hybridSearch(ctx context.Context, projectID string, q *store.SearchQuery, limit, offset int) ([]*store.SearchIndexRow, error) {
	if e.provider == nil {
		return nil, store.ErrSemanticSearchDisabled
	}
	if !q.HasTextPredicate() || q.IsWildcardOnly() {
		return nil, store.ErrVectorTextRequired
	}

	pool := (limit + offset) * 5
	if pool < e.options.CandidateK {
		pool = e.options.CandidateK
	}

	var (
		lexical, vector       []*store.SearchIndexRow
		lexicalErr, vectorErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexical, lexicalErr = e.store.SearchRows(gctx, projectID, q, pool)
		return nil
	})
	g.Go(func() error {
		vector, vectorErr = e.vectorSearch(gctx, projectID, q, pool)
		return nil
	})
	_ = g.Wait()

	if lexicalErr != nil && vectorErr != nil {
		return nil, fmt.Errorf("hybrid search failed: lexical: %v; vector: %w", lexicalErr, vectorErr)
	}
	if lexicalErr != nil {
		e.logger.Warn("lexical branch failed, fusing vector results only",
			slog.String("error", lexicalErr.Error()))
		lexical = nil
	}
	if vectorErr != nil {
		e.logger.Warn("vector branch failed, fusing lexical results only",
			slog.String("error", vectorErr.Error()))
		vector = nil
	}

	return fuseRRF(lexical, vector, e.options.RRFConstant), nil
}

// page applies offset/limit after ranking.
func page(rows []*store.SearchIndexRow, limit, offset int) []*store.SearchIndexRow {
	if offset >= len(rows) {
		return []*store.SearchIndexRow{}
	}
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
