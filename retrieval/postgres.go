package retrieval

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentic-work/chatcore/embed"
)

// PostgresArtifacts is an ArtifactBackend backed by a PostgreSQL table with
// a pgvector embedding column, mirroring the vector-search idiom used for
// document chunks: cosine distance ordering via the `<=>` operator.
type PostgresArtifacts struct {
	pool     *pgxpool.Pool
	embedder embed.Embedder
}

// NewPostgresArtifacts constructs a PostgresArtifacts backend over an
// existing pool. The caller owns the pool and is responsible for closing it.
func NewPostgresArtifacts(pool *pgxpool.Pool, embedder embed.Embedder) *PostgresArtifacts {
	return &PostgresArtifacts{pool: pool, embedder: embedder}
}

// SearchArtifacts implements ArtifactBackend.
func (p *PostgresArtifacts) SearchArtifacts(ctx context.Context, query, userID string, limit int) ([]Item, error) {
	queryEmbedding, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	embStr := serializeEmbedding(queryEmbedding)

	rows, err := p.pool.Query(ctx, `
		SELECT content, metadata, 1 - (embedding <=> $1::vector) AS score
		FROM artifacts
		WHERE user_id = $2 AND embedding IS NOT NULL
		ORDER BY embedding <=> $1::vector
		LIMIT $3`, embStr, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search artifacts: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var content string
		var metaJSON []byte
		var score float64
		if err := rows.Scan(&content, &metaJSON, &score); err != nil {
			return nil, fmt.Errorf("retrieval: scan artifact: %w", err)
		}
		var metadata map[string]any
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &metadata)
		}
		items = append(items, Item{Content: content, Metadata: metadata, Score: score})
	}
	return items, rows.Err()
}

func serializeEmbedding(vec []float32) string {
	out := make([]byte, 0, len(vec)*8+2)
	out = append(out, '[')
	for i, v := range vec {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, []byte(fmt.Sprintf("%g", v))...)
	}
	out = append(out, ']')
	return string(out)
}
