// Package kb implements the knowledge-base search collaborator: article
// embeddings persisted in Postgres/pgvector and query-time summarization.
package kb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voice-support-relay/internal/logging"
)

// Article is one knowledge-base document.
type Article struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags,omitempty"`
	Category string   `json:"category,omitempty"`
}

// Match pairs an article id with its cosine similarity to a query.
type Match struct {
	ArticleID  string
	Similarity float64
}

// Store persists article embeddings. The Engine depends on this interface;
// PgStore is the pgvector-backed implementation.
type Store interface {
	SaveEmbedding(ctx context.Context, art Article, embedding []float64) error
	FindSimilar(ctx context.Context, embedding []float64, limit int, threshold float64) ([]Match, error)
	Metadata(ctx context.Context, articleID string) (*Article, error)
}

const embeddingDim = 1536 // text-embedding-3-small

// PgStore keeps embeddings in an article_embeddings table with a pgvector
// column and cosine-distance index.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore connects to dsn and ensures the extension, table, and index
// exist.
func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect embedding store: %w", err)
	}
	s := &PgStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logging.Infow("embedding store ready")
	return s, nil
}

func (s *PgStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS article_embeddings (
			article_id TEXT PRIMARY KEY,
			embedding vector(%d),
			metadata JSONB,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			model TEXT
		)`, embeddingDim),
		`CREATE INDEX IF NOT EXISTS article_embeddings_vector_idx
			ON article_embeddings
			USING ivfflat (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate embedding store: %w", err)
		}
	}
	return nil
}

func (s *PgStore) Close() { s.pool.Close() }

// SaveEmbedding upserts one article's embedding and metadata.
func (s *PgStore) SaveEmbedding(ctx context.Context, art Article, embedding []float64) error {
	meta, err := json.Marshal(art)
	if err != nil {
		return fmt.Errorf("marshal article metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO article_embeddings (article_id, embedding, metadata, model)
		VALUES ($1, $2::vector, $3::jsonb, $4)
		ON CONFLICT (article_id)
		DO UPDATE SET
			embedding = $2::vector,
			metadata = $3::jsonb,
			model = $4,
			created_at = CURRENT_TIMESTAMP`,
		art.ID, vectorLiteral(embedding), string(meta), "text-embedding-3-small")
	if err != nil {
		return fmt.Errorf("save embedding %s: %w", art.ID, err)
	}
	return nil
}

// FindSimilar returns the closest articles by cosine similarity, highest
// first, keeping only matches at or above threshold.
func (s *PgStore) FindSimilar(ctx context.Context, embedding []float64, limit int, threshold float64) ([]Match, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT article_id, 1 - (embedding <=> $1::vector) AS similarity
		FROM article_embeddings
		WHERE 1 - (embedding <=> $1::vector) >= $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3`,
		vectorLiteral(embedding), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ArticleID, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan similarity row: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Metadata loads the stored article for an id, nil when unknown.
func (s *PgStore) Metadata(ctx context.Context, articleID string) (*Article, error) {
	var meta []byte
	err := s.pool.QueryRow(ctx,
		`SELECT metadata FROM article_embeddings WHERE article_id = $1`,
		articleID).Scan(&meta)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load article metadata: %w", err)
	}
	var art Article
	if err := json.Unmarshal(meta, &art); err != nil {
		return nil, fmt.Errorf("decode article metadata: %w", err)
	}
	return &art, nil
}

// vectorLiteral renders an embedding in pgvector's text format.
func vectorLiteral(embedding []float64) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
