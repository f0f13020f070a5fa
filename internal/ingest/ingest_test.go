package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ragworks/docqa/internal/pdfext"
	"github.com/ragworks/docqa/internal/store"
	"github.com/ragworks/docqa/internal/vectorindex"
)

type fakeExtractor struct {
	valid bool
	pages []pdfext.Page
	err   error
}

func (f fakeExtractor) Hash(b []byte) string { return fmt.Sprintf("hash-%d", len(b)) }
func (f fakeExtractor) Valid([]byte) bool    { return f.valid }
func (f fakeExtractor) Extract([]byte) ([]pdfext.Page, error) {
	return f.pages, f.err
}

type fakeStore struct {
	existing     map[string]store.Document
	nextDocID    int64
	nextChunkID  int64
	createErr    error
	chunksErr    error
	deletedDocs  []int64
	createdDocs  []store.Document
	createdChunk int
}

func newFakeStore() *fakeStore {
	return &fakeStore{existing: map[string]store.Document{}, nextDocID: 1, nextChunkID: 100}
}

func (f *fakeStore) GetDocumentByHash(_ context.Context, hash string) (store.Document, bool, error) {
	doc, ok := f.existing[hash]
	return doc, ok, nil
}

func (f *fakeStore) CreateDocument(_ context.Context, filename, hash, tag, uploadedBy string, pageCount int) (store.Document, error) {
	if f.createErr != nil {
		return store.Document{}, f.createErr
	}
	doc := store.Document{ID: f.nextDocID, Filename: filename, Hash: hash, Tag: tag, UploadedBy: uploadedBy, PageCount: pageCount}
	f.nextDocID++
	f.existing[hash] = doc
	f.createdDocs = append(f.createdDocs, doc)
	return doc, nil
}

func (f *fakeStore) CreateChunks(_ context.Context, chunks []store.Chunk) ([]store.Chunk, error) {
	if f.chunksErr != nil {
		return nil, f.chunksErr
	}
	out := make([]store.Chunk, len(chunks))
	for i, c := range chunks {
		c.ID = f.nextChunkID
		f.nextChunkID++
		out[i] = c
	}
	f.createdChunk += len(out)
	return out, nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, id int64) (bool, error) {
	f.deletedDocs = append(f.deletedDocs, id)
	return true, nil
}

type fakeIndex struct {
	upsertErr error
	entries   []vectorindex.Entry
	deleted   []int64
}

func (f *fakeIndex) Upsert(_ context.Context, entries []vectorindex.Entry) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.entries = append(f.entries, entries...)
	return nil
}

func (f *fakeIndex) DeleteByDocument(_ context.Context, documentID int64) (int64, error) {
	f.deleted = append(f.deleted, documentID)
	return int64(len(f.entries)), nil
}

type fakeEmbedder struct {
	err error
}

func (f fakeEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{float32(i), 0.5}
	}
	return vecs, nil
}

func defaultOpts() Options {
	return Options{MaxFileBytes: 10 * 1024 * 1024, ChunkSize: 1000, ChunkOverlap: 200}
}

func TestIngestHappyPath(t *testing.T) {
	st := newFakeStore()
	ix := &fakeIndex{}
	ext := fakeExtractor{valid: true, pages: []pdfext.Page{
		{Number: 1, Text: "Vacation policy grants 25 days per year."},
		{Number: 3, Text: "Remote work requires manager approval."},
	}}
	p := New(ext, st, ix, fakeEmbedder{}, defaultOpts())

	res, err := p.Ingest(context.Background(), "handbook.pdf", "HR", "alice", []byte("%PDF fake"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.DocumentID != 1 || res.PageCount != 2 || res.ChunkCount != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Uploader != "alice" || res.Status != "success" {
		t.Fatalf("result missing uploader or status: %+v", res)
	}
	if len(ix.entries) != 2 {
		t.Fatalf("expected 2 index entries, got %d", len(ix.entries))
	}
	e := ix.entries[1]
	if e.Source != "handbook.pdf" || e.Tag != "HR" || e.PageNumber != 3 || e.ChunkID == 0 {
		t.Fatalf("index entry missing provenance: %+v", e)
	}
	if len(st.deletedDocs) != 0 {
		t.Fatalf("happy path must not trigger cleanup: %v", st.deletedDocs)
	}
}

func TestIngestRejectsOversizedFile(t *testing.T) {
	p := New(fakeExtractor{valid: true}, newFakeStore(), &fakeIndex{}, fakeEmbedder{}, Options{MaxFileBytes: 4, ChunkSize: 100})

	_, err := p.Ingest(context.Background(), "big.pdf", "HR", "alice", []byte("12345"))
	var ingErr *Error
	if !errors.As(err, &ingErr) || ingErr.Stage != StageValidate {
		t.Fatalf("expected validate-stage error, got %v", err)
	}
}

func TestIngestRejectsInvalidPDF(t *testing.T) {
	p := New(fakeExtractor{valid: false}, newFakeStore(), &fakeIndex{}, fakeEmbedder{}, defaultOpts())

	_, err := p.Ingest(context.Background(), "fake.pdf", "HR", "alice", []byte("not a pdf"))
	var ingErr *Error
	if !errors.As(err, &ingErr) || ingErr.Stage != StageValidate || ingErr.Duplicate {
		t.Fatalf("expected validate-stage error, got %v", err)
	}
}

func TestIngestDuplicateByHash(t *testing.T) {
	st := newFakeStore()
	data := []byte("%PDF same bytes")
	ext := fakeExtractor{valid: true, pages: []pdfext.Page{{Number: 1, Text: "some page text here"}}}
	st.existing[ext.Hash(data)] = store.Document{ID: 42}
	p := New(ext, st, &fakeIndex{}, fakeEmbedder{}, defaultOpts())

	_, err := p.Ingest(context.Background(), "again.pdf", "HR", "alice", data)
	var ingErr *Error
	if !errors.As(err, &ingErr) || !ingErr.Duplicate || ingErr.ExistingID != 42 {
		t.Fatalf("expected duplicate error pointing at doc 42, got %v", err)
	}
	if len(st.createdDocs) != 0 {
		t.Fatalf("duplicate upload must not create a document")
	}
}

func TestIngestDuplicateRaceOnInsert(t *testing.T) {
	st := newFakeStore()
	st.createErr = store.ErrDuplicateDocument
	ext := fakeExtractor{valid: true, pages: []pdfext.Page{{Number: 1, Text: "some page text here"}}}
	p := New(ext, st, &fakeIndex{}, fakeEmbedder{}, defaultOpts())

	_, err := p.Ingest(context.Background(), "race.pdf", "HR", "alice", []byte("%PDF racing"))
	var ingErr *Error
	if !errors.As(err, &ingErr) || !ingErr.Duplicate {
		t.Fatalf("expected duplicate error from insert race, got %v", err)
	}
}

func TestIngestNoExtractableText(t *testing.T) {
	p := New(fakeExtractor{valid: true}, newFakeStore(), &fakeIndex{}, fakeEmbedder{}, defaultOpts())

	_, err := p.Ingest(context.Background(), "scanned.pdf", "HR", "alice", []byte("%PDF images only"))
	var ingErr *Error
	if !errors.As(err, &ingErr) || ingErr.Stage != StageExtract {
		t.Fatalf("expected extract-stage error, got %v", err)
	}
}

func TestIngestEmbedFailureRollsBackDocument(t *testing.T) {
	st := newFakeStore()
	ix := &fakeIndex{}
	ext := fakeExtractor{valid: true, pages: []pdfext.Page{{Number: 1, Text: "some page text here"}}}
	p := New(ext, st, ix, fakeEmbedder{err: errors.New("embedding API down")}, defaultOpts())

	_, err := p.Ingest(context.Background(), "doc.pdf", "HR", "alice", []byte("%PDF bytes"))
	var ingErr *Error
	if !errors.As(err, &ingErr) || ingErr.Stage != StageEmbed {
		t.Fatalf("expected embed-stage error, got %v", err)
	}
	if len(st.deletedDocs) != 1 || st.deletedDocs[0] != 1 {
		t.Fatalf("expected document 1 rolled back, got %v", st.deletedDocs)
	}
	if len(ix.deleted) != 0 {
		t.Fatalf("nothing was indexed, no index cleanup expected: %v", ix.deleted)
	}
}

func TestIngestIndexFailureRollsBackEverywhere(t *testing.T) {
	st := newFakeStore()
	ix := &fakeIndex{upsertErr: errors.New("index unavailable")}
	ext := fakeExtractor{valid: true, pages: []pdfext.Page{{Number: 1, Text: "some page text here"}}}
	p := New(ext, st, ix, fakeEmbedder{}, defaultOpts())

	_, err := p.Ingest(context.Background(), "doc.pdf", "HR", "alice", []byte("%PDF bytes"))
	var ingErr *Error
	if !errors.As(err, &ingErr) || ingErr.Stage != StageIndex {
		t.Fatalf("expected index-stage error, got %v", err)
	}
	if len(ix.deleted) != 1 || ix.deleted[0] != 1 {
		t.Fatalf("expected index cleanup for document 1, got %v", ix.deleted)
	}
	if len(st.deletedDocs) != 1 || st.deletedDocs[0] != 1 {
		t.Fatalf("expected document 1 rolled back, got %v", st.deletedDocs)
	}
}

func TestDeleteRemovesIndexThenDocument(t *testing.T) {
	st := newFakeStore()
	ix := &fakeIndex{}
	p := New(fakeExtractor{valid: true}, st, ix, fakeEmbedder{}, defaultOpts())

	ok, err := p.Delete(context.Background(), 9)
	if err != nil || !ok {
		t.Fatalf("Delete: ok=%v err=%v", ok, err)
	}
	if len(ix.deleted) != 1 || ix.deleted[0] != 9 {
		t.Fatalf("expected index delete for document 9, got %v", ix.deleted)
	}
	if len(st.deletedDocs) != 1 || st.deletedDocs[0] != 9 {
		t.Fatalf("expected document 9 deleted, got %v", st.deletedDocs)
	}
}
