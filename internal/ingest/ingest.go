// Package ingest runs the document upload pipeline: validate, dedup, extract,
// chunk, persist, embed, index. The relational write is the commit point;
// failures after it roll the document back so a later retry starts clean.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ragworks/docqa/internal/chunker"
	"github.com/ragworks/docqa/internal/pdfext"
	"github.com/ragworks/docqa/internal/store"
	"github.com/ragworks/docqa/internal/vectorindex"
)

// Stages an ingestion error can originate from.
const (
	StageValidate = "validate"
	StageExtract  = "extract"
	StagePersist  = "persist"
	StageEmbed    = "embed"
	StageIndex    = "index"
)

// Error is a failed ingestion, tagged with the pipeline stage that rejected
// the upload. Duplicate carries the existing document's id so the caller can
// point at it.
type Error struct {
	Stage      string
	Duplicate  bool
	ExistingID int64
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ingestion failed at %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Extractor validates, digests and extracts PDF bytes.
type Extractor interface {
	Hash(b []byte) string
	Valid(b []byte) bool
	Extract(b []byte) ([]pdfext.Page, error)
}

// DocumentStore is the relational surface the pipeline writes through.
type DocumentStore interface {
	GetDocumentByHash(ctx context.Context, hash string) (store.Document, bool, error)
	CreateDocument(ctx context.Context, filename, hash, tag, uploadedBy string, pageCount int) (store.Document, error)
	CreateChunks(ctx context.Context, chunks []store.Chunk) ([]store.Chunk, error)
	DeleteDocument(ctx context.Context, id int64) (bool, error)
}

// VectorIndex is the embedding store the pipeline writes through.
type VectorIndex interface {
	Upsert(ctx context.Context, entries []vectorindex.Entry) error
	DeleteByDocument(ctx context.Context, documentID int64) (int64, error)
}

// Embedder turns chunk texts into vectors.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Options are the pipeline's tunables.
type Options struct {
	MaxFileBytes int
	ChunkSize    int
	ChunkOverlap int
}

// Result summarizes a successful ingestion. Status is always "success"; a
// failed run surfaces as an *Error instead.
type Result struct {
	DocumentID int64  `json:"document_id"`
	Filename   string `json:"filename"`
	Tag        string `json:"tag"`
	Uploader   string `json:"uploader"`
	PageCount  int    `json:"page_count"`
	ChunkCount int    `json:"chunk_count"`
	Status     string `json:"status"`
}

// Pipeline wires the ingestion stages together.
type Pipeline struct {
	extractor Extractor
	store     DocumentStore
	index     VectorIndex
	embedder  Embedder
	opts      Options
	logger    *log.Logger
}

// New creates an ingestion pipeline.
func New(extractor Extractor, st DocumentStore, index VectorIndex, embedder Embedder, opts Options) *Pipeline {
	return &Pipeline{
		extractor: extractor,
		store:     st,
		index:     index,
		embedder:  embedder,
		opts:      opts,
		logger:    log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}
}

// Ingest runs the full pipeline for one upload. The tag has already been
// validated against the allow list at the HTTP edge.
func (p *Pipeline) Ingest(ctx context.Context, filename, tag, uploadedBy string, data []byte) (Result, error) {
	if len(data) == 0 {
		return Result{}, &Error{Stage: StageValidate, Err: errors.New("empty file")}
	}
	if p.opts.MaxFileBytes > 0 && len(data) > p.opts.MaxFileBytes {
		return Result{}, &Error{Stage: StageValidate, Err: fmt.Errorf("file exceeds %d bytes", p.opts.MaxFileBytes)}
	}
	if !p.extractor.Valid(data) {
		return Result{}, &Error{Stage: StageValidate, Err: errors.New("not a valid PDF")}
	}

	hash := p.extractor.Hash(data)
	if existing, found, err := p.store.GetDocumentByHash(ctx, hash); err != nil {
		return Result{}, &Error{Stage: StageValidate, Err: fmt.Errorf("lookup by hash: %w", err)}
	} else if found {
		return Result{}, &Error{Stage: StageValidate, Duplicate: true, ExistingID: existing.ID, Err: errors.New("document already exists")}
	}

	pages, err := p.extractor.Extract(data)
	if err != nil {
		return Result{}, &Error{Stage: StageExtract, Err: err}
	}
	if len(pages) == 0 {
		return Result{}, &Error{Stage: StageExtract, Err: errors.New("no extractable text")}
	}

	type pageChunk struct {
		page int
		text string
	}
	var pieces []pageChunk
	for _, page := range pages {
		for _, text := range chunker.Split(page.Text, p.opts.ChunkSize, p.opts.ChunkOverlap) {
			pieces = append(pieces, pageChunk{page: page.Number, text: text})
		}
	}
	if len(pieces) == 0 {
		return Result{}, &Error{Stage: StageExtract, Err: errors.New("no chunks produced")}
	}

	doc, err := p.store.CreateDocument(ctx, filename, hash, tag, uploadedBy, len(pages))
	if err != nil {
		if errors.Is(err, store.ErrDuplicateDocument) {
			// lost a race with a concurrent upload of the same bytes
			existing, found, lookupErr := p.store.GetDocumentByHash(ctx, hash)
			if lookupErr == nil && found {
				return Result{}, &Error{Stage: StageValidate, Duplicate: true, ExistingID: existing.ID, Err: errors.New("document already exists")}
			}
			return Result{}, &Error{Stage: StageValidate, Duplicate: true, Err: errors.New("document already exists")}
		}
		return Result{}, &Error{Stage: StagePersist, Err: err}
	}

	chunks := make([]store.Chunk, len(pieces))
	for i, pc := range pieces {
		chunks[i] = store.Chunk{DocumentID: doc.ID, PageNumber: pc.page, Text: pc.text}
	}
	saved, err := p.store.CreateChunks(ctx, chunks)
	if err != nil {
		p.rollback(ctx, doc.ID, false)
		return Result{}, &Error{Stage: StagePersist, Err: err}
	}

	texts := make([]string, len(saved))
	for i, c := range saved {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.CreateEmbedding(ctx, texts)
	if err != nil {
		p.rollback(ctx, doc.ID, false)
		return Result{}, &Error{Stage: StageEmbed, Err: err}
	}
	if len(vectors) != len(saved) {
		p.rollback(ctx, doc.ID, false)
		return Result{}, &Error{Stage: StageEmbed, Err: fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(saved))}
	}

	entries := make([]vectorindex.Entry, len(saved))
	for i, c := range saved {
		entries[i] = vectorindex.Entry{
			ChunkID:    c.ID,
			DocumentID: doc.ID,
			PageNumber: c.PageNumber,
			Tag:        tag,
			Source:     filename,
			Text:       c.Text,
			Vector:     vectors[i],
		}
	}
	if err := p.index.Upsert(ctx, entries); err != nil {
		p.rollback(ctx, doc.ID, true)
		return Result{}, &Error{Stage: StageIndex, Err: err}
	}

	p.logger.Printf("ingested %s (doc %d, tag %s): %d pages, %d chunks", filename, doc.ID, tag, len(pages), len(saved))
	return Result{
		DocumentID: doc.ID,
		Filename:   filename,
		Tag:        tag,
		Uploader:   uploadedBy,
		PageCount:  len(pages),
		ChunkCount: len(saved),
		Status:     "success",
	}, nil
}

// Delete removes a document everywhere: index rows first, then the relational
// row (chunks go with it via the cascade).
func (p *Pipeline) Delete(ctx context.Context, documentID int64) (bool, error) {
	if _, err := p.index.DeleteByDocument(ctx, documentID); err != nil {
		return false, fmt.Errorf("delete embeddings: %w", err)
	}
	return p.store.DeleteDocument(ctx, documentID)
}

// rollback undoes a partially ingested document. Cleanup failures are logged
// rather than surfaced; the original pipeline error is the one the caller
// needs to see.
func (p *Pipeline) rollback(ctx context.Context, documentID int64, indexToo bool) {
	if indexToo {
		if _, err := p.index.DeleteByDocument(ctx, documentID); err != nil {
			p.logger.Printf("cleanup: delete embeddings for doc %d: %v", documentID, err)
		}
	}
	if _, err := p.store.DeleteDocument(ctx, documentID); err != nil {
		p.logger.Printf("cleanup: delete doc %d: %v", documentID, err)
	}
}
