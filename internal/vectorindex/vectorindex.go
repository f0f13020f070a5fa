// Package vectorindex stores chunk embeddings in Postgres with pgvector and
// answers nearest-neighbour queries over them. Rows carry denormalized
// provenance (source filename, page, tag, text) so retrieval does not have to
// join back into the relational tables.
package vectorindex

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Index is a pgvector-backed similarity index over document chunks.
type Index struct {
	DB *sql.DB
}

// Entry is one chunk's embedding together with its provenance.
type Entry struct {
	ChunkID    int64
	DocumentID int64
	PageNumber int
	Tag        string
	Source     string
	Text       string
	Vector     []float32
}

// Hit is a search result. Distance is the cosine distance reported by
// pgvector; similarity is 1 - distance and is computed by callers.
type Hit struct {
	ChunkID    int64
	DocumentID int64
	PageNumber int
	Tag        string
	Source     string
	Text       string
	Distance   float64
}

// New wraps an existing database handle.
func New(db *sql.DB) *Index { return &Index{DB: db} }

// Ping runs a trivial round-trip against the embeddings table so the health
// aggregator can tell the index apart from the rest of the database.
func (ix *Index) Ping(ctx context.Context) error {
	var n int
	return ix.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_embeddings LIMIT 1`).Scan(&n)
}

// Upsert writes the entries in one transaction. Re-ingesting the same chunk
// replaces its previous vector via the unique constraint on chunk_id.
func (ix *Index) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := ix.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunk_embeddings (id, chunk_id, document_id, page_number, tag, source, text, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8::vector,NOW())
ON CONFLICT (chunk_id) DO UPDATE SET
  page_number = EXCLUDED.page_number,
  tag = EXCLUDED.tag,
  source = EXCLUDED.source,
  text = EXCLUDED.text,
  embedding = EXCLUDED.embedding,
  created_at = NOW();
`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range entries {
		if e.ChunkID == 0 {
			return fmt.Errorf("chunk_id required")
		}
		if e.DocumentID == 0 {
			return fmt.Errorf("document_id required for chunk %d", e.ChunkID)
		}
		if len(e.Vector) == 0 {
			return fmt.Errorf("embedding vector required for chunk %d", e.ChunkID)
		}
		vectorLiteral, err := encodeVectorLiteral(e.Vector)
		if err != nil {
			return err
		}
		if _, err = stmt.ExecContext(ctx, uuid.NewString(), e.ChunkID, e.DocumentID, e.PageNumber, e.Tag, e.Source, e.Text, vectorLiteral); err != nil {
			return fmt.Errorf("upsert embedding for chunk %d: %w", e.ChunkID, err)
		}
	}
	return nil
}

// Search returns the topK nearest entries to the query vector, nearest first,
// scoped to a tag when one is given.
func (ix *Index) Search(ctx context.Context, vector []float32, topK int, tag string) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	vectorLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := ix.DB.QueryContext(ctx, `
SELECT chunk_id, document_id, page_number, tag, source, text, embedding <=> $1::vector AS distance
FROM chunk_embeddings
WHERE ($2 = '' OR tag = $2)
ORDER BY embedding <=> $1::vector
LIMIT $3
`, vectorLiteral, tag, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.PageNumber, &h.Tag, &h.Source, &h.Text, &h.Distance); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// DeleteByDocument removes every embedding belonging to a document and
// returns how many rows went away. Used both by document deletion and by the
// ingestion cleanup path after a failed upsert.
func (ix *Index) DeleteByDocument(ctx context.Context, documentID int64) (int64, error) {
	res, err := ix.DB.ExecContext(ctx, `DELETE FROM chunk_embeddings WHERE document_id=$1`, documentID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
