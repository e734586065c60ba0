package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// PostgresStore implements Store on PostgreSQL: tsvector + GIN for
// lexical search, pgvector for embeddings. The server enforces
// concurrency, so unlike the SQLite store there is no writer cap here.
type PostgresStore struct {
	pool *pgxpool.Pool

	vecDims atomic.Int64
	vecMu   sync.Mutex
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the given DSN and ensures the row
// schema. pgvector types are registered per connection so embedding
// parameters round-trip natively.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// Registration fails harmlessly until the vector extension is
		// created; EnsureVectorSchema creates it on first semantic use.
		_ = pgxvector.RegisterTypes(ctx, conn)
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS search_index (
		pk              BIGSERIAL PRIMARY KEY,
		project_id      TEXT    NOT NULL,
		item_id         BIGINT  NOT NULL,
		item_type       TEXT    NOT NULL,
		title           TEXT    NOT NULL DEFAULT '',
		permalink       TEXT,
		file_path       TEXT    NOT NULL DEFAULT '',
		content_type    TEXT    NOT NULL DEFAULT '',
		content_stems   TEXT    NOT NULL DEFAULT '',
		content_snippet TEXT    NOT NULL DEFAULT '',
		category        TEXT    NOT NULL DEFAULT '',
		relation_type   TEXT    NOT NULL DEFAULT '',
		from_id         BIGINT,
		to_id           BIGINT,
		entity_id       BIGINT,
		metadata        JSONB   NOT NULL DEFAULT '{}',
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		textsearch      TSVECTOR GENERATED ALWAYS AS (
			to_tsvector('english',
				title || ' ' || content_stems || ' ' || content_snippet)
		) STORED
	);

	CREATE UNIQUE INDEX IF NOT EXISTS ux_search_index_permalink
		ON search_index (project_id, permalink) WHERE permalink IS NOT NULL;
	CREATE INDEX IF NOT EXISTS ix_search_index_entity
		ON search_index (project_id, entity_id);
	CREATE INDEX IF NOT EXISTS ix_search_index_textsearch
		ON search_index USING GIN (textsearch);
	CREATE INDEX IF NOT EXISTS ix_search_index_metadata
		ON search_index USING GIN (metadata);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const postgresUpsert = `
INSERT INTO search_index (
	project_id, item_id, item_type, title, permalink, file_path,
	content_type, content_stems, content_snippet, category,
	relation_type, from_id, to_id, entity_id, metadata,
	created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (project_id, permalink) WHERE permalink IS NOT NULL DO UPDATE SET
	item_id         = EXCLUDED.item_id,
	item_type       = EXCLUDED.item_type,
	title           = EXCLUDED.title,
	file_path       = EXCLUDED.file_path,
	content_type    = EXCLUDED.content_type,
	content_stems   = EXCLUDED.content_stems,
	content_snippet = EXCLUDED.content_snippet,
	category        = EXCLUDED.category,
	relation_type   = EXCLUDED.relation_type,
	from_id         = EXCLUDED.from_id,
	to_id           = EXCLUDED.to_id,
	entity_id       = EXCLUDED.entity_id,
	metadata        = EXCLUDED.metadata,
	created_at      = EXCLUDED.created_at,
	updated_at      = EXCLUDED.updated_at
`

// IndexItem upserts one row in its own transaction.
func (s *PostgresStore) IndexItem(ctx context.Context, projectID string, row *SearchIndexRow) error {
	return s.BulkIndexItems(ctx, projectID, []*SearchIndexRow{row})
}

// BulkIndexItems upserts rows in a single transaction.
func (s *PostgresStore) BulkIndexItems(ctx context.Context, projectID string, rows []*SearchIndexRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, row := range rows {
		meta := row.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s %d: %w", row.Type, row.ID, err)
		}
		_, err = tx.Exec(ctx, postgresUpsert,
			projectID, row.ID, string(row.Type), row.Title, row.Permalink,
			row.FilePath, row.ContentType, row.ContentStems, row.ContentSnippet,
			row.Category, row.RelationType, row.FromID, row.ToID, row.EntityID,
			string(metaJSON), row.CreatedAt.UTC(), row.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to index %s %d: %w", row.Type, row.ID, err)
		}
	}
	return tx.Commit(ctx)
}

// DeleteByPermalink removes the row with the given permalink.
func (s *PostgresStore) DeleteByPermalink(ctx context.Context, projectID, permalink string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM search_index WHERE project_id = $1 AND permalink = $2`,
		projectID, permalink)
	if err != nil {
		return fmt.Errorf("failed to delete permalink %s: %w", permalink, err)
	}
	return nil
}

// DeleteByEntity removes the entity's rows, chunks, and embeddings.
func (s *PostgresStore) DeleteByEntity(ctx context.Context, projectID string, entityID int64) error {
	hasVectors := s.vectorSchemaExists(ctx)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`DELETE FROM search_index
		 WHERE project_id = $1
		   AND (entity_id = $2 OR (item_type = 'entity' AND item_id = $2))`,
		projectID, entityID)
	if err != nil {
		return fmt.Errorf("failed to delete rows for entity %d: %w", entityID, err)
	}

	if hasVectors {
		if _, err := tx.Exec(ctx,
			`DELETE FROM entity_chunks WHERE project_id = $1 AND entity_id = $2`,
			projectID, entityID); err != nil {
			return fmt.Errorf("failed to delete chunks for entity %d: %w", entityID, err)
		}
	}
	return tx.Commit(ctx)
}

// SearchRows runs a filtered lexical query ranked by ts_rank descending,
// ties by ascending source id. A tsquery syntax error is treated as
// zero matches.
func (s *PostgresStore) SearchRows(ctx context.Context, projectID string, q *SearchQuery, limit int) ([]*SearchIndexRow, error) {
	metaFilters, err := ParseMetadataFilters(q.Metadata)
	if err != nil {
		return nil, err
	}

	b := newPgClauseBuilder()
	b.add("s.project_id = %s", projectID)

	scoreExpr := "0.0"
	tsExpr := ""
	if !q.IsWildcardOnly() {
		tsExpr = translateTsQuery(q.Text, q.Prefix)
	}
	if tsExpr != "" {
		arg := b.bind(tsExpr)
		b.addRaw("s.textsearch @@ to_tsquery('english', " + arg + ")")
		scoreExpr = "ts_rank(s.textsearch, to_tsquery('english', " + arg + "))"
	}
	if title := strings.TrimSpace(q.Title); title != "" {
		titleExpr := translateTsQuery(title, q.Prefix)
		if titleExpr != "" {
			arg := b.bind(titleExpr)
			b.addRaw("to_tsvector('english', s.title) @@ to_tsquery('english', " + arg + ")")
			if scoreExpr == "0.0" {
				scoreExpr = "ts_rank(to_tsvector('english', s.title), to_tsquery('english', " + arg + "))"
			}
		}
	}

	if q.Permalink != "" {
		b.add("s.permalink = %s", q.Permalink)
	}
	if q.PermalinkPattern != "" {
		b.add("s.permalink LIKE %s", postgresPermalinkLike(q.PermalinkPattern))
	}
	if len(q.ItemTypes) > 0 {
		types := make([]string, len(q.ItemTypes))
		for i, t := range q.ItemTypes {
			types[i] = string(t)
		}
		b.add("s.item_type = ANY(%s)", types)
	}
	if len(q.EntityTypes) > 0 {
		b.add("s.metadata ->> 'entity_type' = ANY(%s)", q.EntityTypes)
	}
	if q.AfterDate != nil {
		b.add("s.created_at > %s", q.AfterDate.UTC())
	}
	for _, f := range metaFilters {
		if err := postgresMetadataClause(b, f); err != nil {
			return nil, err
		}
	}

	sql := `SELECT s.item_id, s.item_type, s.title, s.permalink, s.file_path,
		s.content_type, s.content_stems, s.content_snippet, s.category,
		s.relation_type, s.from_id, s.to_id, s.entity_id, s.metadata,
		s.created_at, s.updated_at, ` + scoreExpr + ` AS score
	FROM search_index s
	WHERE ` + b.where() + `
	ORDER BY score DESC, s.item_id ASC, s.item_type ASC`
	if limit > 0 {
		sql += " LIMIT " + b.bindRender(limit)
	}

	rows, err := s.pool.Query(ctx, sql, b.args...)
	if err != nil {
		if tsExpr != "" && isTsQuerySyntaxError(err) {
			slog.Warn("tsquery rejected by engine",
				slog.String("tsquery", tsExpr),
				slog.String("error", err.Error()))
			return []*SearchIndexRow{}, nil
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	out, err := scanPostgresRows(rows)
	if err != nil && tsExpr != "" && isTsQuerySyntaxError(err) {
		// pgx can surface the server error at scan time rather than at
		// Query; same contract applies.
		slog.Warn("tsquery rejected by engine",
			slog.String("tsquery", tsExpr),
			slog.String("error", err.Error()))
		return []*SearchIndexRow{}, nil
	}
	return out, err
}

// isTsQuerySyntaxError matches the server errors to_tsquery raises for
// malformed query text (42601 syntax_error).
func isTsQuerySyntaxError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42601" || strings.Contains(pgErr.Message, "tsquery")
	}
	return false
}

// pgClauseBuilder accumulates WHERE clauses with positional parameters,
// keeping structural SQL separate from user-controlled values.
type pgClauseBuilder struct {
	clauses []string
	args    []any
}

func newPgClauseBuilder() *pgClauseBuilder {
	return &pgClauseBuilder{}
}

// bind registers an argument and returns its placeholder.
func (b *pgClauseBuilder) bind(arg any) string {
	b.args = append(b.args, arg)
	return fmt.Sprintf("$%d", len(b.args))
}

// bindRender is bind for use outside the clause list (LIMIT).
func (b *pgClauseBuilder) bindRender(arg any) string {
	return b.bind(arg)
}

// add appends a clause whose single %s is the next placeholder.
func (b *pgClauseBuilder) add(format string, arg any) {
	b.clauses = append(b.clauses, fmt.Sprintf(format, b.bind(arg)))
}

// addRaw appends a clause that already carries its placeholders.
func (b *pgClauseBuilder) addRaw(clause string) {
	b.clauses = append(b.clauses, clause)
}

func (b *pgClauseBuilder) where() string {
	return strings.Join(b.clauses, " AND ")
}

// postgresMetadataClause renders one metadata filter. The field path
// was validated by ParseMetadataFilters, so embedding it in the jsonb
// path literal is safe.
func postgresMetadataClause(b *pgClauseBuilder, f MetadataFilter) error {
	segments := strings.Split(f.Field, ".")
	path := "'{" + strings.Join(segments, ",") + "}'"
	extract := "s.metadata #> " + path
	extractText := "s.metadata #>> " + path

	jsonArg := func(v any) (string, error) {
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("%w: operand for %q is not representable: %v", ErrInvalidFilter, f.Field, err)
		}
		return b.bind(string(raw)), nil
	}

	switch f.Op {
	case FilterOpEq:
		arg, err := jsonArg(f.Value)
		if err != nil {
			return err
		}
		b.addRaw(extract + " = " + arg + "::jsonb")
	case FilterOpIn:
		// Scalar contained in the operand array.
		arg, err := jsonArg(f.Value)
		if err != nil {
			return err
		}
		b.addRaw(extract + " <@ " + arg + "::jsonb")
	case FilterOpContains:
		// Stored list must cover every operand value; jsonb containment
		// of each scalar also holds for scalar-valued fields.
		values := f.Value.([]any)
		var parts []string
		for _, v := range values {
			arg, err := jsonArg(v)
			if err != nil {
				return err
			}
			parts = append(parts, extract+" @> "+arg+"::jsonb")
		}
		b.addRaw("(" + strings.Join(parts, " AND ") + ")")
	case FilterOpGt, FilterOpGte, FilterOpLt, FilterOpLte:
		op := map[FilterOp]string{
			FilterOpGt: ">", FilterOpGte: ">=", FilterOpLt: "<", FilterOpLte: "<=",
		}[f.Op]
		if isNumericOperand(f.Value) {
			b.addRaw("(" + extractText + ")::numeric " + op + " " + b.bind(f.Value))
		} else {
			b.addRaw(extractText + " " + op + " " + b.bind(fmt.Sprint(f.Value)))
		}
	case FilterOpBetween:
		values := f.Value.([]any)
		if isNumericOperand(values[0]) && isNumericOperand(values[1]) {
			b.addRaw("(" + extractText + ")::numeric BETWEEN " + b.bind(values[0]) + " AND " + b.bind(values[1]))
		} else {
			b.addRaw(extractText + " BETWEEN " + b.bind(fmt.Sprint(values[0])) + " AND " + b.bind(fmt.Sprint(values[1])))
		}
	}
	return nil
}

func isNumericOperand(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

// RowsForEntity returns an entity's rows in chunking order.
func (s *PostgresStore) RowsForEntity(ctx context.Context, projectID string, entityID int64) ([]*SearchIndexRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.item_id, s.item_type, s.title, s.permalink, s.file_path,
			s.content_type, s.content_stems, s.content_snippet, s.category,
			s.relation_type, s.from_id, s.to_id, s.entity_id, s.metadata,
			s.created_at, s.updated_at, 0.0 AS score
		 FROM search_index s
		 WHERE s.project_id = $1
		   AND (s.entity_id = $2 OR (s.item_type = 'entity' AND s.item_id = $2))
		 ORDER BY CASE s.item_type
			WHEN 'entity' THEN 0
			WHEN 'observation' THEN 1
			ELSE 2 END,
			s.item_id ASC`,
		projectID, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rows for entity %d: %w", entityID, err)
	}
	defer rows.Close()
	return scanPostgresRows(rows)
}

func scanPostgresRows(rows pgx.Rows) ([]*SearchIndexRow, error) {
	// Non-nil even with zero matches, matching the syntax-error path.
	out := []*SearchIndexRow{}
	for rows.Next() {
		var (
			r         SearchIndexRow
			itemType  string
			permalink *string
			fromID    *int64
			toID      *int64
			entityID  *int64
			metaJSON  []byte
			createdAt time.Time
			updatedAt time.Time
		)
		if err := rows.Scan(&r.ID, &itemType, &r.Title, &permalink, &r.FilePath,
			&r.ContentType, &r.ContentStems, &r.ContentSnippet, &r.Category,
			&r.RelationType, &fromID, &toID, &entityID, &metaJSON,
			&createdAt, &updatedAt, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Type = ItemType(itemType)
		r.Permalink = permalink
		r.FromID = fromID
		r.ToID = toID
		r.EntityID = entityID
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		r.CreatedAt = createdAt.UTC()
		r.UpdatedAt = updatedAt.UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- Vector storage ---

const postgresVectorDimKey = "embedding_dimensions"

// EnsureVectorSchema lazily creates the vector extension and chunk/
// embedding tables. Fast path, then lock, then second check, then DDL;
// a dimension change drops and rebuilds the storage.
func (s *PostgresStore) EnsureVectorSchema(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("invalid embedding dimensions %d", dimensions)
	}

	if s.vecDims.Load() == int64(dimensions) {
		return nil
	}

	s.vecMu.Lock()
	defer s.vecMu.Unlock()
	if s.vecDims.Load() == int64(dimensions) {
		return nil
	}

	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("%w: pgvector extension unavailable: %v", ErrSemanticDependenciesMissing, err)
	}

	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS vector_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("failed to create vector metadata table: %w", err)
	}

	var stored string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM vector_meta WHERE key = $1`, postgresVectorDimKey).Scan(&stored)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// First semantic use.
	case err != nil:
		return fmt.Errorf("failed to read vector metadata: %w", err)
	case stored != fmt.Sprint(dimensions):
		slog.Warn("embedding dimension changed, rebuilding vector storage",
			slog.String("stored", stored),
			slog.Int("requested", dimensions))
		if _, err := s.pool.Exec(ctx, `
			DROP TABLE IF EXISTS chunk_embeddings;
			DROP TABLE IF EXISTS entity_chunks`); err != nil {
			return fmt.Errorf("failed to rebuild vector storage: %w", err)
		}
	}

	ddl := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS entity_chunks (
		id          BIGSERIAL PRIMARY KEY,
		project_id  TEXT   NOT NULL,
		entity_id   BIGINT NOT NULL,
		chunk_key   TEXT   NOT NULL,
		chunk_text  TEXT   NOT NULL,
		source_hash TEXT   NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		UNIQUE (project_id, entity_id, chunk_key)
	);
	CREATE TABLE IF NOT EXISTS chunk_embeddings (
		chunk_id  BIGINT PRIMARY KEY
			REFERENCES entity_chunks(id) ON DELETE CASCADE,
		embedding VECTOR(%d) NOT NULL
	)`, dimensions)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create vector schema: %w", err)
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO vector_meta (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		postgresVectorDimKey, fmt.Sprint(dimensions)); err != nil {
		return fmt.Errorf("failed to record vector metadata: %w", err)
	}

	s.vecDims.Store(int64(dimensions))
	return nil
}

func (s *PostgresStore) vectorSchemaExists(ctx context.Context) bool {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'entity_chunks')`).Scan(&exists)
	return err == nil && exists
}

// ChunksForEntity returns the stored chunk set for an entity.
func (s *PostgresStore) ChunksForEntity(ctx context.Context, projectID string, entityID int64) ([]*EntityChunk, error) {
	if !s.vectorSchemaExists(ctx) {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, entity_id, chunk_key, chunk_text, source_hash, updated_at
		 FROM entity_chunks
		 WHERE project_id = $1 AND entity_id = $2
		 ORDER BY chunk_key ASC`,
		projectID, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks for entity %d: %w", entityID, err)
	}
	defer rows.Close()

	var out []*EntityChunk
	for rows.Next() {
		var c EntityChunk
		if err := rows.Scan(&c.ID, &c.EntityID, &c.ChunkKey, &c.ChunkText,
			&c.SourceHash, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.UpdatedAt = c.UpdatedAt.UTC()
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ApplyChunkSync applies the diff and its embeddings in one
// transaction.
func (s *PostgresStore) ApplyChunkSync(ctx context.Context, projectID string, syncSet *ChunkSync) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, key := range syncSet.DeleteKeys {
		if _, err := tx.Exec(ctx,
			`DELETE FROM entity_chunks WHERE project_id = $1 AND entity_id = $2 AND chunk_key = $3`,
			projectID, syncSet.EntityID, key); err != nil {
			return fmt.Errorf("failed to delete chunk %s: %w", key, err)
		}
	}

	for _, c := range syncSet.Upserts {
		var chunkID int64
		err := tx.QueryRow(ctx,
			`INSERT INTO entity_chunks (project_id, entity_id, chunk_key, chunk_text, source_hash, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (project_id, entity_id, chunk_key) DO UPDATE SET
				chunk_text  = EXCLUDED.chunk_text,
				source_hash = EXCLUDED.source_hash,
				updated_at  = EXCLUDED.updated_at
			 RETURNING id`,
			projectID, syncSet.EntityID, c.ChunkKey, c.ChunkText, c.SourceHash,
			c.UpdatedAt.UTC()).Scan(&chunkID)
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", c.ChunkKey, err)
		}
		c.ID = chunkID

		vec, ok := syncSet.Embeddings[c.ChunkKey]
		if !ok {
			return fmt.Errorf("missing embedding for chunk %s: %w", c.ChunkKey, ErrEmbeddingCountMismatch)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO chunk_embeddings (chunk_id, embedding) VALUES ($1, $2)
			 ON CONFLICT (chunk_id) DO UPDATE SET embedding = EXCLUDED.embedding`,
			chunkID, pgvector.NewVector(vec)); err != nil {
			return fmt.Errorf("failed to write embedding for chunk %s: %w", c.ChunkKey, err)
		}
	}
	return tx.Commit(ctx)
}

// DeleteEntityChunks removes all chunks for an entity; embeddings
// cascade.
func (s *PostgresStore) DeleteEntityChunks(ctx context.Context, projectID string, entityID int64) error {
	if !s.vectorSchemaExists(ctx) {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM entity_chunks WHERE project_id = $1 AND entity_id = $2`,
		projectID, entityID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks for entity %d: %w", entityID, err)
	}
	return nil
}

// NearestChunks retrieves the k nearest chunks by pgvector L2 distance.
func (s *PostgresStore) NearestChunks(ctx context.Context, projectID string, query []float32, k int) ([]*ChunkMatch, error) {
	if !s.vectorSchemaExists(ctx) {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.entity_id, c.chunk_key, e.embedding <-> $2 AS distance
		 FROM entity_chunks c
		 JOIN chunk_embeddings e ON e.chunk_id = c.id
		 WHERE c.project_id = $1
		 ORDER BY distance ASC, c.id ASC
		 LIMIT $3`,
		projectID, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearest chunks: %w", err)
	}
	defer rows.Close()

	var matches []*ChunkMatch
	for rows.Next() {
		var m ChunkMatch
		if err := rows.Scan(&m.ChunkID, &m.EntityID, &m.ChunkKey, &m.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan nearest chunk: %w", err)
		}
		matches = append(matches, &m)
	}
	return matches, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
