package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStore implements Store on SQLite with FTS5 for lexical search
// and float32 BLOB columns for embeddings. WAL mode allows concurrent
// readers; the connection pool is capped at one writer so upserts never
// contend on SQLite's single-writer lock.
type SQLiteStore struct {
	db   *sql.DB
	path string

	// vecDims holds the initialized embedding width; zero means the
	// vector schema has not been ensured yet. The atomic is the
	// lock-free fast path, vecMu serializes initialization itself.
	vecDims atomic.Int64
	vecMu   sync.Mutex
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the search index database at path.
// An empty path creates an in-memory store for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer prevents lock contention; WAL still allows readers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN params may be ignored by modernc.org/sqlite; set pragmas
	// explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the row table, the FTS5 shadow index, and the
// triggers that keep them consistent inside the writing transaction.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS search_index (
		project_id      TEXT    NOT NULL,
		item_id         INTEGER NOT NULL,
		item_type       TEXT    NOT NULL,
		title           TEXT    NOT NULL DEFAULT '',
		permalink       TEXT,
		file_path       TEXT    NOT NULL DEFAULT '',
		content_type    TEXT    NOT NULL DEFAULT '',
		content_stems   TEXT    NOT NULL DEFAULT '',
		content_snippet TEXT    NOT NULL DEFAULT '',
		category        TEXT    NOT NULL DEFAULT '',
		relation_type   TEXT    NOT NULL DEFAULT '',
		from_id         INTEGER,
		to_id           INTEGER,
		entity_id       INTEGER,
		metadata        TEXT    NOT NULL DEFAULT '{}',
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);

	-- Partial uniqueness: at most one row per non-null permalink within
	-- a project. Null-permalink rows never conflict.
	CREATE UNIQUE INDEX IF NOT EXISTS ux_search_index_permalink
		ON search_index(project_id, permalink) WHERE permalink IS NOT NULL;
	CREATE INDEX IF NOT EXISTS ix_search_index_entity
		ON search_index(project_id, entity_id);
	CREATE INDEX IF NOT EXISTS ix_search_index_item
		ON search_index(project_id, item_type, item_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS search_fts USING fts5(
		title, content_stems, content_snippet,
		content='search_index', content_rowid='rowid',
		tokenize='unicode61'
	);

	CREATE TRIGGER IF NOT EXISTS search_index_ai AFTER INSERT ON search_index BEGIN
		INSERT INTO search_fts(rowid, title, content_stems, content_snippet)
		VALUES (new.rowid, new.title, new.content_stems, new.content_snippet);
	END;
	CREATE TRIGGER IF NOT EXISTS search_index_ad AFTER DELETE ON search_index BEGIN
		INSERT INTO search_fts(search_fts, rowid, title, content_stems, content_snippet)
		VALUES ('delete', old.rowid, old.title, old.content_stems, old.content_snippet);
	END;
	CREATE TRIGGER IF NOT EXISTS search_index_au AFTER UPDATE ON search_index BEGIN
		INSERT INTO search_fts(search_fts, rowid, title, content_stems, content_snippet)
		VALUES ('delete', old.rowid, old.title, old.content_stems, old.content_snippet);
		INSERT INTO search_fts(rowid, title, content_stems, content_snippet)
		VALUES (new.rowid, new.title, new.content_stems, new.content_snippet);
	END;
	`
	_, err := s.db.Exec(schema)
	return err
}

const sqliteUpsert = `
INSERT INTO search_index (
	project_id, item_id, item_type, title, permalink, file_path,
	content_type, content_stems, content_snippet, category,
	relation_type, from_id, to_id, entity_id, metadata,
	created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(project_id, permalink) WHERE permalink IS NOT NULL DO UPDATE SET
	item_id         = excluded.item_id,
	item_type       = excluded.item_type,
	title           = excluded.title,
	file_path       = excluded.file_path,
	content_type    = excluded.content_type,
	content_stems   = excluded.content_stems,
	content_snippet = excluded.content_snippet,
	category        = excluded.category,
	relation_type   = excluded.relation_type,
	from_id         = excluded.from_id,
	to_id           = excluded.to_id,
	entity_id       = excluded.entity_id,
	metadata        = excluded.metadata,
	created_at      = excluded.created_at,
	updated_at      = excluded.updated_at
`

// IndexItem upserts one row in its own transaction.
func (s *SQLiteStore) IndexItem(ctx context.Context, projectID string, row *SearchIndexRow) error {
	return s.BulkIndexItems(ctx, projectID, []*SearchIndexRow{row})
}

// BulkIndexItems upserts rows in a single transaction. The conflict
// resolution is done by the engine, not by read-modify-write, so
// concurrent writers racing on the same permalink are safe.
func (s *SQLiteStore) BulkIndexItems(ctx context.Context, projectID string, rows []*SearchIndexRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		args, err := sqliteUpsertArgs(projectID, row)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to index %s %d: %w", row.Type, row.ID, err)
		}
	}
	return tx.Commit()
}

func sqliteUpsertArgs(projectID string, row *SearchIndexRow) ([]any, error) {
	meta := row.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata for %s %d: %w", row.Type, row.ID, err)
	}
	return []any{
		projectID, row.ID, string(row.Type), row.Title, row.Permalink,
		row.FilePath, row.ContentType, row.ContentStems, row.ContentSnippet,
		row.Category, row.RelationType, row.FromID, row.ToID, row.EntityID,
		string(metaJSON), row.CreatedAt.UnixMilli(), row.UpdatedAt.UnixMilli(),
	}, nil
}

// DeleteByPermalink removes the row with the given permalink.
func (s *SQLiteStore) DeleteByPermalink(ctx context.Context, projectID, permalink string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM search_index WHERE project_id = ? AND permalink = ?`,
		projectID, permalink)
	if err != nil {
		return fmt.Errorf("failed to delete permalink %s: %w", permalink, err)
	}
	return nil
}

// DeleteByEntity removes the entity's rows, chunks, and embeddings.
func (s *SQLiteStore) DeleteByEntity(ctx context.Context, projectID string, entityID int64) error {
	// Checked before the transaction: with the pool capped at one
	// connection, a query on s.db inside an open tx would block on
	// itself.
	hasVectors := s.vectorSchemaExists(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM search_index
		 WHERE project_id = ?
		   AND (entity_id = ? OR (item_type = 'entity' AND item_id = ?))`,
		projectID, entityID, entityID)
	if err != nil {
		return fmt.Errorf("failed to delete rows for entity %d: %w", entityID, err)
	}

	if hasVectors {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entity_chunks WHERE project_id = ? AND entity_id = ?`,
			projectID, entityID); err != nil {
			return fmt.Errorf("failed to delete chunks for entity %d: %w", entityID, err)
		}
	}
	return tx.Commit()
}

// SearchRows runs a filtered lexical query ranked by bm25(), descending
// relevance, ties by ascending source id. An FTS5 syntax error in the
// translated query is treated as zero matches.
func (s *SQLiteStore) SearchRows(ctx context.Context, projectID string, q *SearchQuery, limit int) ([]*SearchIndexRow, error) {
	metaFilters, err := ParseMetadataFilters(q.Metadata)
	if err != nil {
		return nil, err
	}

	var (
		clauses []string
		args    []any
	)
	clauses = append(clauses, "s.project_id = ?")
	args = append(args, projectID)

	matchExpr := ""
	if !q.IsWildcardOnly() {
		matchExpr = translateFTSQuery(q.Text, q.Prefix)
	}
	if title := strings.TrimSpace(q.Title); title != "" {
		titleExpr := translateFTSQuery(title, q.Prefix)
		if titleExpr != "" {
			titleExpr = "title : (" + titleExpr + ")"
			if matchExpr != "" {
				matchExpr = "(" + matchExpr + ") AND " + titleExpr
			} else {
				matchExpr = titleExpr
			}
		}
	}

	if q.Permalink != "" {
		clauses = append(clauses, "s.permalink = ?")
		args = append(args, q.Permalink)
	}
	if q.PermalinkPattern != "" {
		clauses = append(clauses, "s.permalink GLOB ?")
		args = append(args, sqlitePermalinkGlob(q.PermalinkPattern))
	}
	if len(q.ItemTypes) > 0 {
		ph := make([]string, len(q.ItemTypes))
		for i, t := range q.ItemTypes {
			ph[i] = "?"
			args = append(args, string(t))
		}
		clauses = append(clauses, "s.item_type IN ("+strings.Join(ph, ",")+")")
	}
	if len(q.EntityTypes) > 0 {
		ph := make([]string, len(q.EntityTypes))
		for i, t := range q.EntityTypes {
			ph[i] = "?"
			args = append(args, t)
		}
		clauses = append(clauses, "json_extract(s.metadata, '$.entity_type') IN ("+strings.Join(ph, ",")+")")
	}
	if q.AfterDate != nil {
		clauses = append(clauses, "s.created_at > ?")
		args = append(args, q.AfterDate.UnixMilli())
	}
	for _, f := range metaFilters {
		clause, clauseArgs := sqliteMetadataClause(f)
		clauses = append(clauses, clause)
		args = append(args, clauseArgs...)
	}

	var sb strings.Builder
	if matchExpr != "" {
		sb.WriteString(`SELECT s.item_id, s.item_type, s.title, s.permalink, s.file_path,
			s.content_type, s.content_stems, s.content_snippet, s.category,
			s.relation_type, s.from_id, s.to_id, s.entity_id, s.metadata,
			s.created_at, s.updated_at, -bm25(search_fts) AS score
		FROM search_index s
		JOIN search_fts ON search_fts.rowid = s.rowid
		WHERE search_fts MATCH ? AND `)
		args = append([]any{matchExpr}, args...)
	} else {
		sb.WriteString(`SELECT s.item_id, s.item_type, s.title, s.permalink, s.file_path,
			s.content_type, s.content_stems, s.content_snippet, s.category,
			s.relation_type, s.from_id, s.to_id, s.entity_id, s.metadata,
			s.created_at, s.updated_at, 0.0 AS score
		FROM search_index s
		WHERE `)
	}
	sb.WriteString(strings.Join(clauses, " AND "))
	sb.WriteString(" ORDER BY score DESC, s.item_id ASC, s.item_type ASC")
	if limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		// FTS5 raises for adversarial match expressions that slipped
		// through translation; the contract is zero matches, not an
		// error surfaced to the caller.
		if matchExpr != "" && isFTSSyntaxError(err) {
			slog.Warn("fts query rejected by engine",
				slog.String("match", matchExpr),
				slog.String("error", err.Error()))
			return []*SearchIndexRow{}, nil
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	return scanSQLiteRows(rows)
}

// isFTSSyntaxError matches the error shapes FTS5 produces for malformed
// MATCH expressions.
func isFTSSyntaxError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "fts5") || strings.Contains(msg, "syntax error")
}

// sqliteMetadataClause renders one metadata filter as SQL. The field
// path was validated by ParseMetadataFilters, so embedding it in the
// JSON path expression is safe.
func sqliteMetadataClause(f MetadataFilter) (string, []any) {
	path := "'$." + f.Field + "'"
	extract := "json_extract(s.metadata, " + path + ")"

	switch f.Op {
	case FilterOpEq:
		return extract + " = ?", []any{f.Value}
	case FilterOpIn:
		values := f.Value.([]any)
		ph := make([]string, len(values))
		for i := range values {
			ph[i] = "?"
		}
		return extract + " IN (" + strings.Join(ph, ",") + ")", values
	case FilterOpContains:
		// Stored list must cover every operand value; json_each yields a
		// single row for scalar fields, so scalars work too.
		values := f.Value.([]any)
		var parts []string
		var args []any
		for _, v := range values {
			parts = append(parts,
				"EXISTS (SELECT 1 FROM json_each(s.metadata, "+path+") WHERE json_each.value = ?)")
			args = append(args, v)
		}
		return "(" + strings.Join(parts, " AND ") + ")", args
	case FilterOpGt:
		return extract + " > ?", []any{f.Value}
	case FilterOpGte:
		return extract + " >= ?", []any{f.Value}
	case FilterOpLt:
		return extract + " < ?", []any{f.Value}
	case FilterOpLte:
		return extract + " <= ?", []any{f.Value}
	case FilterOpBetween:
		values := f.Value.([]any)
		return extract + " BETWEEN ? AND ?", values
	default:
		// Unreachable after ParseMetadataFilters.
		return "1 = 0", nil
	}
}

// RowsForEntity returns an entity's rows in chunking order.
func (s *SQLiteStore) RowsForEntity(ctx context.Context, projectID string, entityID int64) ([]*SearchIndexRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.item_id, s.item_type, s.title, s.permalink, s.file_path,
			s.content_type, s.content_stems, s.content_snippet, s.category,
			s.relation_type, s.from_id, s.to_id, s.entity_id, s.metadata,
			s.created_at, s.updated_at, 0.0 AS score
		 FROM search_index s
		 WHERE s.project_id = ?
		   AND (s.entity_id = ? OR (s.item_type = 'entity' AND s.item_id = ?))
		 ORDER BY CASE s.item_type
			WHEN 'entity' THEN 0
			WHEN 'observation' THEN 1
			ELSE 2 END,
			s.item_id ASC`,
		projectID, entityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rows for entity %d: %w", entityID, err)
	}
	defer rows.Close()
	return scanSQLiteRows(rows)
}

func scanSQLiteRows(rows *sql.Rows) ([]*SearchIndexRow, error) {
	// Non-nil even with zero matches, matching the syntax-error path.
	out := []*SearchIndexRow{}
	for rows.Next() {
		var (
			r         SearchIndexRow
			itemType  string
			permalink sql.NullString
			fromID    sql.NullInt64
			toID      sql.NullInt64
			entityID  sql.NullInt64
			metaJSON  string
			createdMs int64
			updatedMs int64
		)
		if err := rows.Scan(&r.ID, &itemType, &r.Title, &permalink, &r.FilePath,
			&r.ContentType, &r.ContentStems, &r.ContentSnippet, &r.Category,
			&r.RelationType, &fromID, &toID, &entityID, &metaJSON,
			&createdMs, &updatedMs, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Type = ItemType(itemType)
		if permalink.Valid {
			p := permalink.String
			r.Permalink = &p
		}
		if fromID.Valid {
			v := fromID.Int64
			r.FromID = &v
		}
		if toID.Valid {
			v := toID.Int64
			r.ToID = &v
		}
		if entityID.Valid {
			v := entityID.Int64
			r.EntityID = &v
		}
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		r.CreatedAt = time.UnixMilli(createdMs).UTC()
		r.UpdatedAt = time.UnixMilli(updatedMs).UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- Vector storage ---

const sqliteVectorDimKey = "embedding_dimensions"

// EnsureVectorSchema lazily creates chunk and embedding storage.
// Fast-path check first; on miss, an exclusive lock, a second check
// inside the lock, then creation, so concurrent initializers collapse
// to one winner. A dimension change drops and rebuilds the storage so
// stale-width vectors can never be scanned.
func (s *SQLiteStore) EnsureVectorSchema(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("invalid embedding dimensions %d", dimensions)
	}

	// Fast path: already initialized at this width, no lock taken.
	if s.vecDims.Load() == int64(dimensions) {
		return nil
	}

	s.vecMu.Lock()
	defer s.vecMu.Unlock()
	// Second check inside the lock collapses concurrent initializers.
	if s.vecDims.Load() == int64(dimensions) {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS entity_chunks (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id  TEXT    NOT NULL,
		entity_id   INTEGER NOT NULL,
		chunk_key   TEXT    NOT NULL,
		chunk_text  TEXT    NOT NULL,
		source_hash TEXT    NOT NULL,
		updated_at  INTEGER NOT NULL,
		UNIQUE(project_id, entity_id, chunk_key)
	);
	CREATE TABLE IF NOT EXISTS chunk_embeddings (
		chunk_id  INTEGER PRIMARY KEY
			REFERENCES entity_chunks(id) ON DELETE CASCADE,
		embedding BLOB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS vector_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create vector schema: %w", err)
	}

	var stored string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM vector_meta WHERE key = ?`, sqliteVectorDimKey).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		// First semantic use.
	case err != nil:
		return fmt.Errorf("failed to read vector metadata: %w", err)
	case stored != fmt.Sprint(dimensions):
		// Dimension mismatch: one-time rebuild. Chunks are dropped too,
		// otherwise unchanged hashes would suppress re-embedding at the
		// new width.
		slog.Warn("embedding dimension changed, rebuilding vector storage",
			slog.String("stored", stored),
			slog.Int("requested", dimensions))
		rebuild := `
		DELETE FROM chunk_embeddings;
		DELETE FROM entity_chunks;
		`
		if _, err := s.db.ExecContext(ctx, rebuild); err != nil {
			return fmt.Errorf("failed to rebuild vector storage: %w", err)
		}
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO vector_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		sqliteVectorDimKey, fmt.Sprint(dimensions)); err != nil {
		return fmt.Errorf("failed to record vector metadata: %w", err)
	}

	s.vecDims.Store(int64(dimensions))
	return nil
}

// vectorSchemaExists reports whether the chunk table has been created,
// without requiring semantic search to be configured.
func (s *SQLiteStore) vectorSchemaExists(ctx context.Context) bool {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'entity_chunks'`).Scan(&count)
	return err == nil && count > 0
}

// ChunksForEntity returns the stored chunk set for an entity.
func (s *SQLiteStore) ChunksForEntity(ctx context.Context, projectID string, entityID int64) ([]*EntityChunk, error) {
	if !s.vectorSchemaExists(ctx) {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, chunk_key, chunk_text, source_hash, updated_at
		 FROM entity_chunks
		 WHERE project_id = ? AND entity_id = ?
		 ORDER BY chunk_key ASC`,
		projectID, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks for entity %d: %w", entityID, err)
	}
	defer rows.Close()

	var out []*EntityChunk
	for rows.Next() {
		var (
			c         EntityChunk
			updatedMs int64
		)
		if err := rows.Scan(&c.ID, &c.EntityID, &c.ChunkKey, &c.ChunkText,
			&c.SourceHash, &updatedMs); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.UpdatedAt = time.UnixMilli(updatedMs).UTC()
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ApplyChunkSync applies the diff and its embeddings in one
// transaction: no partial chunk writes are ever visible.
func (s *SQLiteStore) ApplyChunkSync(ctx context.Context, projectID string, syncSet *ChunkSync) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, key := range syncSet.DeleteKeys {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entity_chunks WHERE project_id = ? AND entity_id = ? AND chunk_key = ?`,
			projectID, syncSet.EntityID, key); err != nil {
			return fmt.Errorf("failed to delete chunk %s: %w", key, err)
		}
	}

	for _, c := range syncSet.Upserts {
		var chunkID int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO entity_chunks (project_id, entity_id, chunk_key, chunk_text, source_hash, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(project_id, entity_id, chunk_key) DO UPDATE SET
				chunk_text  = excluded.chunk_text,
				source_hash = excluded.source_hash,
				updated_at  = excluded.updated_at
			 RETURNING id`,
			projectID, syncSet.EntityID, c.ChunkKey, c.ChunkText, c.SourceHash,
			c.UpdatedAt.UnixMilli()).Scan(&chunkID)
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", c.ChunkKey, err)
		}
		c.ID = chunkID

		vec, ok := syncSet.Embeddings[c.ChunkKey]
		if !ok {
			return fmt.Errorf("missing embedding for chunk %s: %w", c.ChunkKey, ErrEmbeddingCountMismatch)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO chunk_embeddings (chunk_id, embedding) VALUES (?, ?)`,
			chunkID, encodeVector(vec)); err != nil {
			return fmt.Errorf("failed to write embedding for chunk %s: %w", c.ChunkKey, err)
		}
	}
	return tx.Commit()
}

// DeleteEntityChunks removes all chunks for an entity; embeddings
// cascade.
func (s *SQLiteStore) DeleteEntityChunks(ctx context.Context, projectID string, entityID int64) error {
	if !s.vectorSchemaExists(ctx) {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entity_chunks WHERE project_id = ? AND entity_id = ?`,
		projectID, entityID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks for entity %d: %w", entityID, err)
	}
	return nil
}

// NearestChunks scans the project's embeddings and returns the k chunks
// with the smallest Euclidean distance. Per-project note corpora are
// small enough that the exact scan beats maintaining an approximate
// index, and exact distances keep 1/(1+d) scoring deterministic.
func (s *SQLiteStore) NearestChunks(ctx context.Context, projectID string, query []float32, k int) ([]*ChunkMatch, error) {
	if !s.vectorSchemaExists(ctx) {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.entity_id, c.chunk_key, e.embedding
		 FROM entity_chunks c
		 JOIN chunk_embeddings e ON e.chunk_id = c.id
		 WHERE c.project_id = ?`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to scan embeddings: %w", err)
	}
	defer rows.Close()

	var matches []*ChunkMatch
	for rows.Next() {
		var (
			m    ChunkMatch
			blob []byte
		)
		if err := rows.Scan(&m.ChunkID, &m.EntityID, &m.ChunkKey, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("corrupt embedding for chunk %d: %w", m.ChunkID, err)
		}
		if len(vec) != len(query) {
			// Stale width left behind by a rebuild race; skip rather
			// than poisoning the result set.
			continue
		}
		m.Distance = euclideanDistance(query, vec)
		matches = append(matches, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Close closes the store, checkpointing the WAL first.
func (s *SQLiteStore) Close() error {
	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}

// encodeVector serializes a float32 vector as little-endian bytes.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector deserializes a little-endian float32 vector.
func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

// euclideanDistance computes the L2 distance between two equal-length
// vectors.
func euclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
