// Package store provides the search index persistence layer: row upserts,
// lexical search, and chunk/embedding storage behind one backend-neutral
// contract with SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ItemType identifies the structural kind of an indexed row.
type ItemType string

const (
	ItemTypeEntity      ItemType = "entity"
	ItemTypeObservation ItemType = "observation"
	ItemTypeRelation    ItemType = "relation"
)

// SearchMode selects the retrieval strategy for a search call.
type SearchMode string

const (
	ModeLexical SearchMode = "lexical"
	ModeVector  SearchMode = "vector"
	ModeHybrid  SearchMode = "hybrid"
)

// Engine-level sentinel errors shared by the search and sync components.
var (
	// ErrSemanticSearchDisabled is returned when vector or hybrid mode is
	// requested but semantic search is not enabled in the configuration.
	ErrSemanticSearchDisabled = errors.New("semantic search is not enabled")

	// ErrSemanticDependenciesMissing is returned when semantic search is
	// enabled but no embedding provider or vector storage is available.
	ErrSemanticDependenciesMissing = errors.New("semantic search dependencies missing")

	// ErrEmbeddingCountMismatch means the embedding provider returned a
	// different number of vectors than texts. Internal consistency
	// fault, never retried.
	ErrEmbeddingCountMismatch = errors.New("embedding count does not match input count")

	// ErrInvalidFilter is returned at parse time for malformed filter
	// specifications, before any query executes.
	ErrInvalidFilter = errors.New("invalid search filter")

	// ErrVectorTextRequired is returned when vector or hybrid mode is
	// invoked without a free-text query.
	ErrVectorTextRequired = errors.New("vector search requires a text query")
)

// SearchIndexRow is the canonical unit of indexed content: one entity,
// observation, or relation projected into the search index. Rows are
// scoped by project and rebuilt by the external synchronizer on every
// content change.
type SearchIndexRow struct {
	ID   int64    // source entity/observation/relation id
	Type ItemType // entity, observation, relation

	Title       string
	Permalink   *string // unique per project when non-nil
	FilePath    string
	ContentType string

	// ContentStems holds the normalized full-text body (entities only).
	ContentStems string
	// ContentSnippet holds the short body (observations/relations).
	ContentSnippet string

	Category     string // observations
	RelationType string // relations
	FromID       *int64
	ToID         *int64
	EntityID     *int64 // owning entity for observation/relation rows

	Metadata map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time

	// Score is computed at query time only and never persisted.
	Score float64
}

// PermalinkOrEmpty returns the permalink or "" when the row has none.
func (r *SearchIndexRow) PermalinkOrEmpty() string {
	if r.Permalink == nil {
		return ""
	}
	return *r.Permalink
}

// EntityChunk is a bounded slice of an entity's text used as the unit of
// embedding. Keyed by (project, entity, chunk key); the key encodes the
// source row and the chunk's position within that row.
type EntityChunk struct {
	ID         int64 // storage identity, assigned on upsert
	EntityID   int64
	ChunkKey   string // "{type}:{rowID}:{index}"
	ChunkText  string
	SourceHash string
	UpdatedAt  time.Time
}

// ChunkMatch is one nearest-neighbor hit from the embedding store.
type ChunkMatch struct {
	ChunkID  int64
	EntityID int64
	ChunkKey string
	Distance float64
}

// ChunkSync describes the minimal mutation set computed by the vector
// synchronizer for one entity. Applied atomically in one transaction.
type ChunkSync struct {
	EntityID   int64
	Upserts    []*EntityChunk
	DeleteKeys []string
	// Embeddings maps chunk key to the freshly computed vector for every
	// chunk in Upserts. Unchanged chunks never appear here.
	Embeddings map[string][]float32
}

// SearchQuery is the filter set accepted by search. Zero values mean
// "no constraint". Malformed metadata filters are rejected by
// ParseMetadataFilters before any query executes.
type SearchQuery struct {
	// Text is the free-text query, run through the backend's translator.
	Text string
	// Prefix requests per-word trailing-wildcard matching for Text.
	Prefix bool
	// Title restricts matching to the title field.
	Title string
	// Permalink matches exactly; PermalinkPattern matches with '*' glob.
	Permalink        string
	PermalinkPattern string

	// EntityTypes filters on metadata entity_type (e.g. "note", "person").
	EntityTypes []string
	// ItemTypes filters on the structural row type.
	ItemTypes []ItemType
	// AfterDate keeps rows created strictly after the given instant.
	AfterDate *time.Time

	// Metadata holds structured field/operator/operand filters.
	Metadata []MetadataFilter
}

// IsWildcardOnly reports whether the text query should bypass text
// filtering entirely (a lone '*' or blank matches everything).
func (q *SearchQuery) IsWildcardOnly() bool {
	switch strings.TrimSpace(q.Text) {
	case "", "*":
		return true
	}
	return false
}

// HasTextPredicate reports whether any text-bearing filter is present.
func (q *SearchQuery) HasTextPredicate() bool {
	return !q.IsWildcardOnly() || strings.TrimSpace(q.Title) != ""
}

// WithoutText returns a copy of the query with the free-text predicate
// removed, used by vector mode to re-apply non-text filters.
func (q *SearchQuery) WithoutText() *SearchQuery {
	c := *q
	c.Text = ""
	c.Prefix = false
	return &c
}

// Store is the single logical contract implemented by both storage
// engines. Only query-dialect generation and vector DDL differ between
// implementations; no component outside this package branches on
// backend identity.
//
// Every method scopes reads and writes by projectID and runs in its own
// transaction: a failed call leaves no partial writes visible.
type Store interface {
	// IndexItem upserts one row. Rows with a permalink are keyed by
	// (permalink, project): an existing row's fields are overwritten
	// atomically. Rows without a permalink insert without conflict
	// checking.
	IndexItem(ctx context.Context, projectID string, row *SearchIndexRow) error

	// BulkIndexItems upserts rows in a single transaction.
	BulkIndexItems(ctx context.Context, projectID string, rows []*SearchIndexRow) error

	// DeleteByPermalink removes the row with the given permalink.
	DeleteByPermalink(ctx context.Context, projectID, permalink string) error

	// DeleteByEntity removes an entity's rows, its chunks, and their
	// embeddings.
	DeleteByEntity(ctx context.Context, projectID string, entityID int64) error

	// SearchRows runs a filtered lexical query ranked by the engine's
	// native relevance, descending, ties broken by ascending row id.
	// Native syntax errors from the translated query yield zero matches,
	// never an error.
	SearchRows(ctx context.Context, projectID string, q *SearchQuery, limit int) ([]*SearchIndexRow, error)

	// RowsForEntity returns an entity's rows ordered entity row first,
	// then observations, then relations, then ascending id.
	RowsForEntity(ctx context.Context, projectID string, entityID int64) ([]*SearchIndexRow, error)

	// EnsureVectorSchema lazily creates chunk/embedding storage for the
	// given vector width. Safe for concurrent callers; exactly one
	// initializer wins. A width differing from existing storage drops
	// and rebuilds the embedding storage.
	EnsureVectorSchema(ctx context.Context, dimensions int) error

	// ChunksForEntity returns the stored chunk set for an entity.
	ChunksForEntity(ctx context.Context, projectID string, entityID int64) ([]*EntityChunk, error)

	// ApplyChunkSync applies a chunk diff and its embeddings atomically.
	ApplyChunkSync(ctx context.Context, projectID string, sync *ChunkSync) error

	// DeleteEntityChunks removes all chunks (and embeddings) for an
	// entity.
	DeleteEntityChunks(ctx context.Context, projectID string, entityID int64) error

	// NearestChunks returns up to k chunks ordered by ascending vector
	// distance from the query embedding.
	NearestChunks(ctx context.Context, projectID string, query []float32, k int) ([]*ChunkMatch, error)

	// Close releases the underlying connections.
	Close() error
}
