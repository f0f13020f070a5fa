// Package retrieval answers queries over the indexed corpus. A query runs a
// vector phase first; when that fills fewer than topK slots, a keyword phase
// tops up the shortfall, so results survive embedding misses as long as the
// words themselves appear in a chunk.
package retrieval

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/ragworks/docqa/internal/store"
	"github.com/ragworks/docqa/internal/vectorindex"
)

// Wildcard asks for a corpus dump instead of a similarity search.
const Wildcard = "*"

const keywordScore = 0.5

// Error is a failed retrieval, tagged with the phase that failed.
type Error struct {
	Phase string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retrieval failed during %s: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is one retrieved chunk with its provenance and relevance score.
// Vector hits score 1 - cosine distance; keyword hits score a flat 0.5;
// wildcard rows score 1.
type Result struct {
	DocumentName string  `json:"document_name"`
	PageNumber   int     `json:"page_number"`
	Text         string  `json:"text"`
	Score        float64 `json:"score"`
}

// Embedder turns the query into a vector.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorSearcher is the nearest-neighbour surface of the index.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, topK int, tag string) ([]vectorindex.Hit, error)
}

// KeywordStore is the relational search surface.
type KeywordStore interface {
	SearchChunksByText(ctx context.Context, pattern string, limit int, tag string) ([]store.ChunkRow, error)
	ListChunksByTag(ctx context.Context, tag string, limit int) ([]store.ChunkRow, error)
}

// Options are the engine's tunables.
type Options struct {
	SimilarityThreshold float64
	TopK                int
	WildcardLimit       int
}

// Engine runs hybrid retrieval.
type Engine struct {
	embedder Embedder
	index    VectorSearcher
	keywords KeywordStore
	opts     Options
	logger   *log.Logger
}

// New creates a retrieval engine.
func New(embedder Embedder, index VectorSearcher, keywords KeywordStore, opts Options) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.WildcardLimit <= 0 {
		opts.WildcardLimit = 1000
	}
	return &Engine{
		embedder: embedder,
		index:    index,
		keywords: keywords,
		opts:     opts,
		logger:   log.New(log.Writer(), "[RETRIEVE] ", log.LstdFlags),
	}
}

// Retrieve returns the best chunks for the query, highest score first,
// deduplicated by (document, page) and truncated to topK. A topK or
// threshold of 0 uses the configured default. The wildcard query enumerates
// the corpus instead.
//
// The keyword phase only runs to fill the slots the vector phase left open,
// so a flat-scored keyword hit can never displace a semantic match. A
// failure in that phase is fatal; by then its rows are part of the answer.
func (e *Engine) Retrieve(ctx context.Context, query, tag string, topK int, threshold float64) ([]Result, error) {
	if topK <= 0 {
		topK = e.opts.TopK
	}
	if threshold <= 0 {
		threshold = e.opts.SimilarityThreshold
	}
	if strings.TrimSpace(query) == Wildcard {
		return e.wildcard(ctx, tag)
	}

	merged, vecErr := e.vectorPhase(ctx, query, tag, topK, threshold)
	if vecErr != nil {
		e.logger.Printf("vector phase failed, falling back to keywords: %v", vecErr)
	}

	if shortfall := topK - len(merged); shortfall > 0 {
		rows, err := e.keywords.SearchChunksByText(ctx, query, shortfall, tag)
		if err != nil {
			return nil, &Error{Phase: "keyword search", Err: err}
		}
		for _, r := range rows {
			merged = append(merged, Result{
				DocumentName: r.Filename,
				PageNumber:   r.PageNumber,
				Text:         r.Text,
				Score:        keywordScore,
			})
		}
	}

	merged = dedupe(merged)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

func (e *Engine) vectorPhase(ctx context.Context, query, tag string, topK int, threshold float64) ([]Result, error) {
	vecs, err := e.embedder.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vecs))
	}
	hits, err := e.index.Search(ctx, vecs[0], topK, tag)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	var out []Result
	for _, h := range hits {
		if tag != "" && h.Tag != tag {
			continue
		}
		similarity := 1 - h.Distance
		if similarity < threshold {
			continue
		}
		out = append(out, Result{
			DocumentName: h.Source,
			PageNumber:   h.PageNumber,
			Text:         h.Text,
			Score:        similarity,
		})
	}
	return out, nil
}

func (e *Engine) wildcard(ctx context.Context, tag string) ([]Result, error) {
	rows, err := e.keywords.ListChunksByTag(ctx, tag, e.opts.WildcardLimit)
	if err != nil {
		return nil, &Error{Phase: "wildcard enumeration", Err: err}
	}
	out := make([]Result, len(rows))
	for i, r := range rows {
		out[i] = Result{
			DocumentName: r.Filename,
			PageNumber:   r.PageNumber,
			Text:         r.Text,
			Score:        1.0,
		}
	}
	return out, nil
}

// dedupe keeps the first occurrence per (document, page). Vector results come
// first in the slice, so on a collision the vector score wins.
func dedupe(results []Result) []Result {
	type key struct {
		doc  string
		page int
	}
	seen := make(map[key]bool, len(results))
	out := results[:0]
	for _, r := range results {
		k := key{doc: r.DocumentName, page: r.PageNumber}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}
