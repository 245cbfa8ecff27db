package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/okral/codechat/internal/models"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
}

// VectorStore keeps chunk rows with their embeddings in Postgres and answers
// cosine-similarity searches. Every read and delete is filtered by session so
// one caller's documents never surface in another's results.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	log    *zap.Logger
}

func NewWithConfig(config VectorStoreConfig, log *zap.Logger) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 384
	}
	if log == nil {
		log = zap.NewNop()
	}

	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", models.ErrStore, err)
	}

	vs := &VectorStore{config: config, pool: pool, log: log}

	if err := vs.initialize(); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize() error {
	ctx := context.Background()

	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("%w: create vector extension: %v", models.ErrStore, err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			total_chunks INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`, vs.config.TableName, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("%w: create table: %v", models.ErrStore, err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		vs.config.TableName, vs.config.TableName)

	_, err = vs.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("%w: create index: %v", models.ErrStore, err)
	}

	createDocIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_session_filename_idx
		ON %s (session_id, filename)`,
		vs.config.TableName, vs.config.TableName)

	_, err = vs.pool.Exec(ctx, createDocIndex)
	if err != nil {
		return fmt.Errorf("%w: create document index: %v", models.ErrStore, err)
	}

	return nil
}

// Pool exposes the connection pool so collaborators (the conversation store)
// can share it.
func (vs *VectorStore) Pool() *pgxpool.Pool {
	return vs.pool
}

// InsertChunks writes all rows in one transaction.
func (vs *VectorStore) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", models.ErrStore, err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, session_id, filename, chunk_index, total_chunks, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		vs.config.TableName)

	for _, chunk := range chunks {
		if len(chunk.Embedding) != vs.config.VectorDim {
			return fmt.Errorf("chunk embedding has %d dimensions, table expects %d", len(chunk.Embedding), vs.config.VectorDim)
		}

		id := chunk.ID
		if id == "" {
			id = uuid.NewString()
		}

		_, err = tx.Exec(ctx, stmt,
			id,
			chunk.SessionID,
			chunk.Metadata.Filename,
			chunk.Metadata.ChunkIndex,
			chunk.Metadata.TotalChunks,
			chunk.Content,
			pgvector.NewVector(chunk.Embedding),
		)
		if err != nil {
			return fmt.Errorf("%w: insert chunk: %v", models.ErrStore, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", models.ErrStore, err)
	}

	vs.log.Debug("inserted chunks", zap.Int("count", len(chunks)))
	return nil
}

// HasDocument reports whether any chunk of filename exists in the session.
func (vs *VectorStore) HasDocument(ctx context.Context, sessionID, filename string) (bool, error) {
	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s WHERE session_id = $1 AND filename = $2
		)`, vs.config.TableName)

	var exists bool
	if err := vs.pool.QueryRow(ctx, query, sessionID, filename).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: document lookup: %v", models.ErrStore, err)
	}
	return exists, nil
}

// SimilaritySearch returns the topK chunks of the session ranked by cosine
// similarity to the query embedding.
func (vs *VectorStore) SimilaritySearch(ctx context.Context, embedding []float32, sessionID string, topK int) ([]models.RetrievalResult, error) {
	if topK <= 0 {
		topK = 5
	}

	query := fmt.Sprintf(`
		SELECT content, filename, chunk_index, total_chunks,
		       1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE session_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(embedding), sessionID, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: similarity search: %v", models.ErrStore, err)
	}
	defer rows.Close()

	var results []models.RetrievalResult
	for rows.Next() {
		var r models.RetrievalResult
		err := rows.Scan(
			&r.Chunk.Content,
			&r.Chunk.Metadata.Filename,
			&r.Chunk.Metadata.ChunkIndex,
			&r.Chunk.Metadata.TotalChunks,
			&r.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", models.ErrStore, err)
		}
		r.Chunk.SessionID = sessionID
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: similarity search: %v", models.ErrStore, err)
	}

	return results, nil
}

// ListDocuments returns one entry per ingested filename with its chunk count.
func (vs *VectorStore) ListDocuments(ctx context.Context, sessionID string) ([]models.DocumentInfo, error) {
	query := fmt.Sprintf(`
		SELECT filename, COUNT(*)
		FROM %s
		WHERE session_id = $1
		GROUP BY filename
		ORDER BY MIN(created_at)`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", models.ErrStore, err)
	}
	defer rows.Close()

	var docs []models.DocumentInfo
	for rows.Next() {
		var doc models.DocumentInfo
		if err := rows.Scan(&doc.Filename, &doc.ChunkCount); err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", models.ErrStore, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", models.ErrStore, err)
	}

	return docs, nil
}

// DeleteDocument removes all chunks of filename in the session.
func (vs *VectorStore) DeleteDocument(ctx context.Context, sessionID, filename string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1 AND filename = $2`, vs.config.TableName)

	if _, err := vs.pool.Exec(ctx, stmt, sessionID, filename); err != nil {
		return fmt.Errorf("%w: delete document: %v", models.ErrStore, err)
	}
	return nil
}

// DeleteAll wipes every chunk row. Administrative cleanup only.
func (vs *VectorStore) DeleteAll(ctx context.Context) error {
	stmt := fmt.Sprintf(`DELETE FROM %s`, vs.config.TableName)

	if _, err := vs.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("%w: delete all: %v", models.ErrStore, err)
	}
	return nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}
