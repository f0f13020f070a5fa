package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Store provides CRUD over documents and chunks in Postgres.
type Store struct {
	DB *sql.DB
}

// ErrDuplicateDocument is returned when a document with the same content
// hash already exists. Concurrent ingestion of identical bytes relies on the
// unique constraint on document_hash, not on in-process locking.
var ErrDuplicateDocument = errors.New("document already exists")

// Document is an uploaded-file record. Deleting a document cascades to its
// chunks via the foreign key.
type Document struct {
	ID         int64
	Filename   string
	Hash       string
	Tag        string
	UploadedBy string
	PageCount  int
	CreatedAt  time.Time
}

// Chunk is a contiguous span of extracted text owned by exactly one document.
type Chunk struct {
	ID         int64
	DocumentID int64
	PageNumber int
	Text       string
	CreatedAt  time.Time
}

// ChunkRow is a chunk joined with its document's filename and tag so callers
// can resolve provenance without a second query.
type ChunkRow struct {
	Chunk
	Filename string
	Tag      string
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store { return &Store{DB: db} }

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// Ping runs a trivial round-trip, used by the health aggregator.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.DB.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}

// CreateDocument inserts a document row. A hash collision with an existing
// row surfaces as ErrDuplicateDocument.
func (s *Store) CreateDocument(ctx context.Context, filename, hash, tag, uploadedBy string, pageCount int) (Document, error) {
	if strings.TrimSpace(filename) == "" {
		return Document{}, fmt.Errorf("filename required")
	}
	if strings.TrimSpace(hash) == "" {
		return Document{}, fmt.Errorf("document hash required")
	}
	doc := Document{Filename: filename, Hash: hash, Tag: tag, UploadedBy: uploadedBy, PageCount: pageCount}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO documents (filename, document_hash, tag, uploaded_by, page_count)
VALUES ($1,$2,$3,$4,$5)
RETURNING id, created_at
`, filename, hash, tag, uploadedBy, pageCount)
	if err := row.Scan(&doc.ID, &doc.CreatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return Document{}, ErrDuplicateDocument
		}
		return Document{}, err
	}
	return doc, nil
}

// GetDocumentByHash fetches a document by its content digest.
func (s *Store) GetDocumentByHash(ctx context.Context, hash string) (Document, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, filename, document_hash, tag, uploaded_by, page_count, created_at
FROM documents
WHERE document_hash=$1
`, hash)
	return scanDocument(row)
}

// GetDocumentByID fetches a document by identifier.
func (s *Store) GetDocumentByID(ctx context.Context, id int64) (Document, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, filename, document_hash, tag, uploaded_by, page_count, created_at
FROM documents
WHERE id=$1
`, id)
	return scanDocument(row)
}

func scanDocument(row *sql.Row) (Document, bool, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.Filename, &doc.Hash, &doc.Tag, &doc.UploadedBy, &doc.PageCount, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, err
	}
	return doc, true, nil
}

// ListDocuments returns documents, optionally filtered by tag, newest first.
func (s *Store) ListDocuments(ctx context.Context, tag string) ([]Document, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, filename, document_hash, tag, uploaded_by, page_count, created_at
FROM documents
WHERE ($1 = '' OR tag = $1)
ORDER BY created_at DESC
`, tag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Filename, &doc.Hash, &doc.Tag, &doc.UploadedBy, &doc.PageCount, &doc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// DeleteDocument removes a document; its chunks go with it via the cascade.
func (s *Store) DeleteDocument(ctx context.Context, id int64) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateChunks inserts a batch of chunks in one transaction and returns them
// with assigned identifiers, preserving input order.
func (s *Store) CreateChunks(ctx context.Context, chunks []Chunk) ([]Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	for i, c := range chunks {
		if c.DocumentID == 0 {
			return nil, fmt.Errorf("chunk %d: document_id required", i)
		}
		if c.PageNumber < 1 {
			return nil, fmt.Errorf("chunk %d: page_number must be >= 1", i)
		}
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	out := make([]Chunk, len(chunks))
	for i, c := range chunks {
		row := tx.QueryRowContext(ctx, `
INSERT INTO chunks (document_id, page_number, text)
VALUES ($1,$2,$3)
RETURNING id, created_at
`, c.DocumentID, c.PageNumber, c.Text)
		if err = row.Scan(&c.ID, &c.CreatedAt); err != nil {
			return nil, err
		}
		out[i] = c
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetChunksByDocument returns a document's chunks ordered by page then id.
func (s *Store) GetChunksByDocument(ctx context.Context, documentID int64) ([]Chunk, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, document_id, page_number, text, created_at
FROM chunks
WHERE document_id=$1
ORDER BY page_number, id
`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.PageNumber, &c.Text, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchChunksByText runs a case-insensitive substring search over chunk
// text, scoped to a tag when one is given.
func (s *Store) SearchChunksByText(ctx context.Context, pattern string, limit int, tag string) ([]ChunkRow, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT c.id, c.document_id, c.page_number, c.text, c.created_at, d.filename, d.tag
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE ($3 = '' OR d.tag = $3)
  AND c.text ILIKE '%' || $1 || '%'
LIMIT $2
`, pattern, limit, tag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

// ListChunksByTag enumerates chunks for a tag ordered by document recency
// then page number, for the wildcard query mode.
func (s *Store) ListChunksByTag(ctx context.Context, tag string, limit int) ([]ChunkRow, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT c.id, c.document_id, c.page_number, c.text, c.created_at, d.filename, d.tag
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE ($1 = '' OR d.tag = $1)
ORDER BY d.created_at DESC, c.page_number ASC
LIMIT $2
`, tag, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

func scanChunkRows(rows *sql.Rows) ([]ChunkRow, error) {
	var out []ChunkRow
	for rows.Next() {
		var r ChunkRow
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.PageNumber, &r.Text, &r.CreatedAt, &r.Filename, &r.Tag); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
