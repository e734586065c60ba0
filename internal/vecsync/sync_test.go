package vecsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-kb/lodestone/internal/chunk"
	"github.com/lodestone-kb/lodestone/internal/embed"
	"github.com/lodestone-kb/lodestone/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	e := New(st, chunk.New(), embed.NewStaticProvider(), nil)
	return e, st
}

func strPtr(s string) *string { return &s }

func int64Ptr(n int64) *int64 { return &n }

func indexEntity(t *testing.T, st store.Store, id int64, permalink, body string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, st.IndexItem(context.Background(), "main", &store.SearchIndexRow{
		ID:           id,
		Type:         store.ItemTypeEntity,
		Title:        "Entity " + permalink,
		Permalink:    strPtr(permalink),
		ContentStems: body,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
}

func TestSyncEntityCreatesChunks(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	indexEntity(t, st, 1, "notes/coffee", "a note about coffee brewing")

	require.NoError(t, e.SyncEntity(ctx, "main", 1))

	chunks, err := st.ChunksForEntity(ctx, "main", 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "entity:1:0", chunks[0].ChunkKey)
	assert.NotEmpty(t, chunks[0].SourceHash)
}

func TestSyncEntityIsIncremental(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	indexEntity(t, st, 1, "notes/coffee", "original body")

	require.NoError(t, e.SyncEntity(ctx, "main", 1))
	before, err := st.ChunksForEntity(ctx, "main", 1)
	require.NoError(t, err)
	require.Len(t, before, 1)

	// Unchanged content: hash equal, chunk untouched.
	require.NoError(t, e.SyncEntity(ctx, "main", 1))
	after, err := st.ChunksForEntity(ctx, "main", 1)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].SourceHash, after[0].SourceHash)
	assert.Equal(t, before[0].UpdatedAt, after[0].UpdatedAt, "unchanged chunks must not be rewritten")
}

func TestSyncEntityUpdatesChangedChunk(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	indexEntity(t, st, 1, "notes/coffee", "original body")
	require.NoError(t, e.SyncEntity(ctx, "main", 1))
	before, err := st.ChunksForEntity(ctx, "main", 1)
	require.NoError(t, err)

	indexEntity(t, st, 1, "notes/coffee", "revised body text")
	require.NoError(t, e.SyncEntity(ctx, "main", 1))

	after, err := st.ChunksForEntity(ctx, "main", 1)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ChunkKey, after[0].ChunkKey)
	assert.NotEqual(t, before[0].SourceHash, after[0].SourceHash)
	assert.Contains(t, after[0].ChunkText, "revised body text")
}

func TestSyncEntityDeletesVanishedChunks(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	// Long enough to produce several chunks, then shrink it.
	long := ""
	for i := 0; i < 60; i++ {
		long += "a paragraph of filler text about knowledge bases\n\n"
	}
	indexEntity(t, st, 1, "notes/long", long)
	require.NoError(t, e.SyncEntity(ctx, "main", 1))
	before, err := st.ChunksForEntity(ctx, "main", 1)
	require.NoError(t, err)
	require.Greater(t, len(before), 1)

	indexEntity(t, st, 1, "notes/long", "now very short")
	require.NoError(t, e.SyncEntity(ctx, "main", 1))
	after, err := st.ChunksForEntity(ctx, "main", 1)
	require.NoError(t, err)
	assert.Len(t, after, 1)
}

func TestSyncEntityWithNoRowsDeletesEverything(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	indexEntity(t, st, 1, "notes/coffee", "body")
	require.NoError(t, e.SyncEntity(ctx, "main", 1))

	require.NoError(t, st.DeleteByEntity(ctx, "main", 1))
	require.NoError(t, e.SyncEntity(ctx, "main", 1))

	chunks, err := st.ChunksForEntity(ctx, "main", 1)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSyncEntityCoversObservationsAndRelations(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	indexEntity(t, st, 1, "notes/coffee", "entity body")
	require.NoError(t, st.IndexItem(ctx, "main", &store.SearchIndexRow{
		ID: 20, Type: store.ItemTypeObservation,
		ContentSnippet: "an observation", Category: "fact",
		EntityID: int64Ptr(1), CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, st.IndexItem(ctx, "main", &store.SearchIndexRow{
		ID: 30, Type: store.ItemTypeRelation,
		RelationType: "relates_to", ContentSnippet: "a relation",
		EntityID: int64Ptr(1), CreatedAt: now, UpdatedAt: now,
	}))

	require.NoError(t, e.SyncEntity(ctx, "main", 1))

	chunks, err := st.ChunksForEntity(ctx, "main", 1)
	require.NoError(t, err)
	keys := make([]string, len(chunks))
	for i, c := range chunks {
		keys[i] = c.ChunkKey
	}
	assert.Contains(t, keys, "entity:1:0")
	assert.Contains(t, keys, "observation:20:0")
	assert.Contains(t, keys, "relation:30:0")
}

func TestSyncEntityDisabledFails(t *testing.T) {
	st, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	e := New(st, nil, nil, nil)
	assert.False(t, e.Enabled())
	err = e.SyncEntity(context.Background(), "main", 1)
	require.ErrorIs(t, err, store.ErrSemanticSearchDisabled)
}
