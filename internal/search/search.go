// Package search answers queries against the index. Inverted search scores
// term postings; vector and hybrid modes add Cohere embeddings and rerank.
package search

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/mordilloSan/go-logger/logger"

	"github.com/mgomes/sefind/internal/api"
	"github.com/mgomes/sefind/internal/cohere"
	"github.com/mgomes/sefind/internal/config"
	"github.com/mgomes/sefind/internal/db"
	"github.com/mgomes/sefind/internal/indexer"
)

const (
	resultLimit       = 50
	vectorSearchLimit = 100
)

// Semantic is the embedding side of search. *cohere.Client implements it.
type Semantic interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]cohere.RerankResult, error)
}

type Searcher struct {
	db       *db.DB
	semantic Semantic
	mode     string
}

// New returns a searcher in the given mode. Without a Semantic every mode
// falls back to inverted search.
func New(database *db.DB, semantic Semantic, mode string) *Searcher {
	if semantic == nil {
		mode = config.SearchModeInverted
	}
	return &Searcher{
		db:       database,
		semantic: semantic,
		mode:     mode,
	}
}

func (s *Searcher) Mode() string {
	return s.mode
}

// Search returns at most 50 results, best first. Files without any query
// term never match in inverted mode.
func (s *Searcher) Search(ctx context.Context, req api.SearchRequest) ([]api.SearchResult, error) {
	logger.Debugf("search start: q=%q mode=%s", req.Query, s.mode)

	var (
		results []api.SearchResult
		err     error
	)
	switch s.mode {
	case config.SearchModeVector:
		results, err = s.vector(ctx, req)
	case config.SearchModeHybrid:
		results, err = s.hybrid(ctx, req)
	default:
		results, err = s.inverted(req)
	}
	if err != nil {
		return nil, err
	}

	if len(results) > resultLimit {
		results = results[:resultLimit]
	}
	logger.Debugf("search done: results=%d", len(results))
	return results, nil
}

func (s *Searcher) inverted(req api.SearchRequest) ([]api.SearchResult, error) {
	terms := uniqueTerms(req.Query)
	if len(terms) == 0 {
		return nil, nil
	}

	postings, err := s.db.Postings(terms)
	if err != nil {
		return nil, fmt.Errorf("failed to read postings: %w", err)
	}
	if len(postings) == 0 {
		return nil, nil
	}

	total, err := s.db.FileCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}

	df := make(map[string]int)
	for _, p := range postings {
		df[p.Term]++
	}

	scores := make(map[int64]float64)
	for _, p := range postings {
		idf := math.Log(1 + float64(total)/float64(df[p.Term]))
		scores[p.FileID] += (1 + math.Log(float64(p.TF))) * idf
	}

	return s.collect(scores, req.Filters)
}

func (s *Searcher) vector(ctx context.Context, req api.SearchRequest) ([]api.SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, nil
	}

	queryEmb, err := s.semantic.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	embBytes, err := sqlite_vec.SerializeFloat32(queryEmb)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query embedding: %w", err)
	}

	matches, err := s.db.SearchSimilar(embBytes, vectorSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	scores := make(map[int64]float64, len(matches))
	for _, m := range matches {
		scores[m.FileID] = 1 / (1 + m.Distance)
	}
	return s.collect(scores, req.Filters)
}

// hybrid merges inverted and vector candidates and lets the reranker order
// them.
func (s *Searcher) hybrid(ctx context.Context, req api.SearchRequest) ([]api.SearchResult, error) {
	lexical, err := s.inverted(req)
	if err != nil {
		return nil, err
	}
	semantic, err := s.vector(ctx, req)
	if err != nil {
		return nil, err
	}

	candidates := slices.Clone(lexical)
	seen := make(map[string]bool, len(lexical))
	for _, r := range lexical {
		seen[r.Path] = true
	}
	for _, r := range semantic {
		if !seen[r.Path] {
			seen[r.Path] = true
			candidates = append(candidates, r)
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Name
		if c.Summary != "" {
			docs[i] += "\n\n" + c.Summary
		}
	}

	reranked, err := s.semantic.Rerank(ctx, req.Query, docs, resultLimit)
	if err != nil {
		return nil, fmt.Errorf("rerank failed: %w", err)
	}

	results := make([]api.SearchResult, 0, len(reranked))
	for _, rr := range reranked {
		if rr.Index < 0 || rr.Index >= len(candidates) {
			continue
		}
		r := candidates[rr.Index]
		r.Score = rr.Score
		results = append(results, r)
	}
	return results, nil
}

// collect loads the scored files, drops those the filters reject and sorts
// by score, then path.
func (s *Searcher) collect(scores map[int64]float64, filters *api.SearchFilters) ([]api.SearchResult, error) {
	ids := make([]int64, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}

	files, err := s.db.FilesByID(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load files: %w", err)
	}

	results := make([]api.SearchResult, 0, len(files))
	for id, f := range files {
		if !Matches(f, filters) {
			continue
		}
		size, modified := f.Size, f.ModifiedTS
		results = append(results, api.SearchResult{
			Path:       f.Path,
			Name:       f.Name,
			Ext:        f.Ext,
			Score:      scores[id],
			Size:       &size,
			ModifiedTS: &modified,
			Summary:    f.Summary,
		})
	}

	slices.SortFunc(results, func(a, b api.SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	return results, nil
}

// Matches reports whether f passes the filters. Extensions compare without
// case; size bounds are inclusive.
func Matches(f db.File, filters *api.SearchFilters) bool {
	if filters == nil {
		return true
	}
	if len(filters.Ext) > 0 && !slices.ContainsFunc(filters.Ext, func(e string) bool {
		return strings.EqualFold(strings.TrimPrefix(e, "."), f.Ext)
	}) {
		return false
	}
	if filters.MinSize != nil && f.Size < *filters.MinSize {
		return false
	}
	if filters.MaxSize != nil && f.Size > *filters.MaxSize {
		return false
	}
	return true
}

func uniqueTerms(query string) []string {
	terms := indexer.Tokenize(query)
	slices.Sort(terms)
	return slices.Compact(terms)
}
