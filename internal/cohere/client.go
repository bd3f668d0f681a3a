// Package cohere wraps the Cohere API calls used for vector and hybrid
// search: document and query embeddings and reranking.
package cohere

import (
	"context"
	"errors"
	"fmt"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"

	"github.com/mgomes/sefind/internal/config"
)

const (
	// maxDocumentChars bounds the text sent per document, roughly 500 tokens.
	maxDocumentChars = 2000
	// maxBatch is the largest number of texts one embed call accepts.
	maxBatch = 96
)

// ErrNoEmbeddings is returned when the API answers without float vectors.
var ErrNoEmbeddings = errors.New("no embeddings returned")

type Client struct {
	api    *cohereclient.Client
	embed  string
	rerank string
	dim    int
}

type EmbeddingResult struct {
	Embedding []float32
}

// RerankResult points back into the documents passed to Rerank.
type RerankResult struct {
	Index int
	Score float64
}

func NewClient(apiKey, embedModel, rerankModel string, embedDim int) *Client {
	return &Client{
		api:    cohereclient.NewClient(cohereclient.WithToken(apiKey)),
		embed:  embedModel,
		rerank: rerankModel,
		dim:    embedDim,
	}
}

// FromConfig returns a client for the configured key and models, or nil
// when the config does not use embeddings or has no key.
func FromConfig(cfg *config.Config) *Client {
	if cfg == nil || cfg.CohereAPIKey == "" || cfg.SearchMode == config.SearchModeInverted {
		return nil
	}
	return NewClient(cfg.CohereAPIKey, cfg.EmbedModel, cfg.RerankModel, cfg.EmbedDim)
}

// ValidateAPIKey makes the cheapest authenticated call there is.
func (c *Client) ValidateAPIKey(ctx context.Context) error {
	if _, err := c.api.Models.List(ctx, &cohere.ModelsListRequest{}); err != nil {
		return fmt.Errorf("invalid API key: %w", err)
	}
	return nil
}

// EmbedDocuments embeds file summaries in batches. The result has one entry
// per text, in order.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([]EmbeddingResult, error) {
	results := make([]EmbeddingResult, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		batch := clipAll(texts[start:min(start+maxBatch, len(texts))])

		vecs, err := c.vectors(ctx, batch, cohere.EmbedInputTypeSearchDocument)
		if err != nil {
			return nil, fmt.Errorf("failed to embed documents %d-%d: %w", start, start+len(batch), err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embed returned %d vectors for %d documents", len(vecs), len(batch))
		}
		for _, v := range vecs {
			results = append(results, EmbeddingResult{Embedding: v})
		}
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results, nil
}

func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := c.vectors(ctx, []string{query}, cohere.EmbedInputTypeSearchQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("failed to embed query: %w", ErrNoEmbeddings)
	}
	return vecs[0], nil
}

// Rerank orders documents by relevance to query and keeps at most topN.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	topN = min(topN, len(documents))

	resp, err := c.api.V2.Rerank(ctx, &cohere.V2RerankRequest{
		Model:     c.rerank,
		Query:     query,
		Documents: clipAll(documents),
		TopN:      &topN,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rerank %d documents: %w", len(documents), err)
	}

	out := make([]RerankResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			continue
		}
		out = append(out, RerankResult{Index: r.Index, Score: r.RelevanceScore})
	}
	return out, nil
}

func (c *Client) vectors(ctx context.Context, texts []string, kind cohere.EmbedInputType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	dim := c.dim
	resp, err := c.api.V2.Embed(ctx, &cohere.V2EmbedRequest{
		Texts:           texts,
		Model:           c.embed,
		InputType:       kind,
		EmbeddingTypes:  []cohere.EmbeddingType{cohere.EmbeddingTypeFloat},
		OutputDimension: &dim,
	})
	if err != nil {
		return nil, err
	}
	if resp.Embeddings == nil || resp.Embeddings.Float == nil {
		return nil, ErrNoEmbeddings
	}

	vecs := make([][]float32, len(resp.Embeddings.Float))
	for i, f64 := range resp.Embeddings.Float {
		v := make([]float32, len(f64))
		for j, x := range f64 {
			v[j] = float32(x)
		}
		vecs[i] = v
	}
	return vecs, nil
}

func clipAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = Clip(t, maxDocumentChars)
	}
	return out
}

// Clip cuts s to at most n runes.
func Clip(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
