// Package vecsync keeps the per-entity chunk and embedding store in
// step with the search index. It recomputes an entity's chunk set from
// its indexed rows, diffs by content hash, and embeds only what
// changed.
package vecsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lodestone-kb/lodestone/internal/chunk"
	"github.com/lodestone-kb/lodestone/internal/embed"
	"github.com/lodestone-kb/lodestone/internal/store"
)

// Engine diffs and refreshes the vector storage for single entities.
// Safe for concurrent use; each SyncEntity call is one unit of work.
type Engine struct {
	store    store.Store
	chunker  *chunk.Chunker
	provider embed.Provider
	logger   *slog.Logger
}

// New creates a sync engine. A nil provider disables semantic sync;
// SyncEntity then fails with ErrSemanticSearchDisabled. Callers gate
// on Enabled before scheduling work.
func New(st store.Store, chunker *chunk.Chunker, provider embed.Provider, logger *slog.Logger) *Engine {
	if chunker == nil {
		chunker = chunk.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, chunker: chunker, provider: provider, logger: logger}
}

// Enabled reports whether semantic sync is active.
func (e *Engine) Enabled() bool {
	return e.provider != nil
}

// SyncEntity recomputes the chunk set for one entity and applies the
// minimal delta: unchanged chunks are left alone, new or changed
// chunks are embedded and upserted, vanished chunks are deleted. An
// entity with no rows or no chunkable text has all its chunks removed
// without touching the embedding provider.
func (e *Engine) SyncEntity(ctx context.Context, projectID string, entityID int64) error {
	if !e.Enabled() {
		return store.ErrSemanticSearchDisabled
	}

	dims := e.provider.Dimensions()
	if err := e.store.EnsureVectorSchema(ctx, dims); err != nil {
		return fmt.Errorf("failed to prepare vector storage: %w", err)
	}

	rows, err := e.store.RowsForEntity(ctx, projectID, entityID)
	if err != nil {
		return fmt.Errorf("failed to load rows for entity %d: %w", entityID, err)
	}

	fresh := e.computeChunks(rows)
	if len(fresh) == 0 {
		return e.store.DeleteEntityChunks(ctx, projectID, entityID)
	}

	stored, err := e.store.ChunksForEntity(ctx, projectID, entityID)
	if err != nil {
		return fmt.Errorf("failed to load stored chunks for entity %d: %w", entityID, err)
	}
	storedByKey := make(map[string]*store.EntityChunk, len(stored))
	for _, c := range stored {
		storedByKey[c.ChunkKey] = c
	}

	now := time.Now().UTC()
	syncSet := &store.ChunkSync{
		EntityID:   entityID,
		Embeddings: make(map[string][]float32),
	}
	var embedTexts []string
	var embedKeys []string

	for _, c := range fresh {
		prev, ok := storedByKey[c.key]
		if ok && prev.SourceHash == c.hash {
			continue
		}
		syncSet.Upserts = append(syncSet.Upserts, &store.EntityChunk{
			EntityID:   entityID,
			ChunkKey:   c.key,
			ChunkText:  c.text,
			SourceHash: c.hash,
			UpdatedAt:  now,
		})
		embedKeys = append(embedKeys, c.key)
		embedTexts = append(embedTexts, c.text)
	}

	freshKeys := make(map[string]struct{}, len(fresh))
	for _, c := range fresh {
		freshKeys[c.key] = struct{}{}
	}
	for key := range storedByKey {
		if _, ok := freshKeys[key]; !ok {
			syncSet.DeleteKeys = append(syncSet.DeleteKeys, key)
		}
	}

	if len(syncSet.Upserts) == 0 && len(syncSet.DeleteKeys) == 0 {
		return nil
	}

	if len(embedTexts) > 0 {
		vectors, err := e.provider.EmbedDocuments(ctx, embedTexts)
		if err != nil {
			return fmt.Errorf("failed to embed %d chunks for entity %d: %w", len(embedTexts), entityID, err)
		}
		if len(vectors) != len(embedTexts) {
			return fmt.Errorf("%w: requested %d embeddings, got %d",
				store.ErrEmbeddingCountMismatch, len(embedTexts), len(vectors))
		}
		for i, key := range embedKeys {
			syncSet.Embeddings[key] = vectors[i]
		}
	}

	if err := e.store.ApplyChunkSync(ctx, projectID, syncSet); err != nil {
		return fmt.Errorf("failed to apply chunk sync for entity %d: %w", entityID, err)
	}

	e.logger.Debug("entity vectors synced",
		slog.Int64("entity_id", entityID),
		slog.Int("upserted", len(syncSet.Upserts)),
		slog.Int("deleted", len(syncSet.DeleteKeys)))
	return nil
}

// keyedChunk pairs a chunk text with its storage key and content hash.
type keyedChunk struct {
	key  string
	text string
	hash string
}

// computeChunks runs the chunker over every row's composed text and
// assigns keys of the form "{type}:{row id}:{index}". Row order is the
// store's canonical entity-first ordering, so keys are stable across
// runs for unchanged content.
func (e *Engine) computeChunks(rows []*store.SearchIndexRow) []*keyedChunk {
	var out []*keyedChunk
	for _, row := range rows {
		text := composeRowText(row)
		for i, chunkText := range e.chunker.Split(text) {
			out = append(out, &keyedChunk{
				key:  fmt.Sprintf("%s:%d:%d", row.Type, row.ID, i),
				text: chunkText,
				hash: hashText(chunkText),
			})
		}
	}
	return out
}

// composeRowText builds the embeddable projection of a row. The fields
// differ per row type: entities carry the full stemmed body,
// observations carry category and snippet, relations carry the
// relation type and snippet.
func composeRowText(row *store.SearchIndexRow) string {
	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}

	add(row.Title)
	add(row.PermalinkOrEmpty())
	switch row.Type {
	case store.ItemTypeEntity:
		add(row.ContentStems)
	case store.ItemTypeObservation:
		add(row.Category)
		add(row.ContentSnippet)
	case store.ItemTypeRelation:
		add(row.RelationType)
		add(row.ContentSnippet)
	}

	return strings.Join(parts, "\n\n")
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
