// Package indexer writes scanned files into the index: metadata, term
// postings and, when an embedder is configured, one embedding per file.
package indexer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/mordilloSan/go-logger/logger"

	"github.com/mgomes/sefind/internal/api"
	"github.com/mgomes/sefind/internal/cohere"
	"github.com/mgomes/sefind/internal/db"
)

const (
	batchSize       = 96
	maxContentBytes = 1_000_000
	summaryChars    = 300
	sampleEvery     = 500
)

// Embedder turns documents into vectors. *cohere.Client implements it.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([]cohere.EmbeddingResult, error)
}

type Indexer struct {
	db       *db.DB
	embedder Embedder
}

// Pending is a stored file whose embedding has not been written yet.
type Pending struct {
	FileID  int64
	Content string
}

type Progress struct {
	Current int
	Total   int
	File    api.FileMeta
}

type ProgressFunc func(Progress)

// New returns an indexer over database. A nil embedder limits the index to
// inverted search.
func New(database *db.DB, embedder Embedder) *Indexer {
	return &Indexer{
		db:       database,
		embedder: embedder,
	}
}

func (idx *Indexer) DB() *db.DB {
	return idx.db
}

// Build replaces the whole index with files.
func (idx *Indexer) Build(ctx context.Context, files []api.FileMeta, contentParse bool, progress ProgressFunc) error {
	logger.Infof("index build start: files=%d content_parse=%v", len(files), contentParse)

	if err := idx.db.Clear(); err != nil {
		return fmt.Errorf("failed to reset index: %w", err)
	}

	pending := make([]Pending, 0, len(files))
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		p, err := idx.Store(f, contentParse)
		if err != nil {
			return err
		}
		pending = append(pending, p)

		if progress != nil {
			progress(Progress{Current: i + 1, Total: len(files), File: f})
		}
		if (i+1)%sampleEvery == 0 {
			logger.Infof("index sample[%d]: %s", i+1, f.FileName)
		}
	}

	if err := idx.Embed(ctx, pending); err != nil {
		return err
	}

	logger.Infof("index build done: indexed=%d", len(files))
	return nil
}

// Upsert indexes one file in place, leaving the rest of the index alone.
func (idx *Indexer) Upsert(ctx context.Context, f api.FileMeta, contentParse bool) error {
	p, err := idx.Store(f, contentParse)
	if err != nil {
		return err
	}
	return idx.Embed(ctx, []Pending{p})
}

// Store writes the metadata and postings of f. Content is parsed only for
// text-like files and only when contentParse is set.
func (idx *Indexer) Store(f api.FileMeta, contentParse bool) (Pending, error) {
	var text, summary string
	if contentParse {
		if t, ok := ParseContent(f); ok {
			text = t
			summary = strings.TrimSpace(cohere.Clip(t, summaryChars))
		}
	}

	id, err := idx.db.UpsertFile(db.File{
		Path:       f.Path,
		Name:       f.FileName,
		Ext:        f.Ext,
		Size:       f.Size,
		ModifiedTS: f.ModifiedTS,
		Summary:    summary,
		IndexedAt:  time.Now().Unix(),
	})
	if err != nil {
		return Pending{}, fmt.Errorf("failed to store %s: %w", f.Path, err)
	}

	if err := idx.db.ReplaceTerms(id, TermFrequencies(f.FileName, text)); err != nil {
		return Pending{}, fmt.Errorf("failed to store terms for %s: %w", f.Path, err)
	}

	content := f.FileName
	if text != "" {
		content += "\n\n" + text
	}
	return Pending{FileID: id, Content: content}, nil
}

// Embed writes embeddings for pending files in batches. It does nothing
// without an embedder.
func (idx *Indexer) Embed(ctx context.Context, pending []Pending) error {
	if idx.embedder == nil || len(pending) == 0 {
		return nil
	}

	totalBatches := (len(pending) + batchSize - 1) / batchSize
	for i := 0; i < len(pending); i += batchSize {
		end := min(i+batchSize, len(pending))
		batch := pending[i:end]
		batchNum := (i / batchSize) + 1

		logger.Debugf("embedding batch %d/%d (%d files)", batchNum, totalBatches, len(batch))

		texts := make([]string, len(batch))
		for j, p := range batch {
			texts[j] = p.Content
		}

		embeddings, err := idx.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to generate embeddings for batch %d: %w", batchNum, err)
		}
		if len(embeddings) != len(batch) {
			return fmt.Errorf("failed to generate embeddings for batch %d: got %d for %d files", batchNum, len(embeddings), len(batch))
		}

		for j, p := range batch {
			embBytes, err := sqlite_vec.SerializeFloat32(embeddings[j].Embedding)
			if err != nil {
				return fmt.Errorf("failed to serialize embedding: %w", err)
			}

			if err := idx.db.InsertEmbedding(p.FileID, embBytes); err != nil {
				return fmt.Errorf("failed to insert embedding: %w", err)
			}
		}
	}

	return nil
}

// ParseContent reads the start of a text-like file. Invalid UTF-8 is
// replaced rather than rejected.
func ParseContent(f api.FileMeta) (string, bool) {
	if !IsTextLike(f.Ext) {
		return "", false
	}

	file, err := os.Open(f.Path)
	if err != nil {
		return "", false
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}

	buf, err := io.ReadAll(io.LimitReader(file, maxContentBytes))
	if err != nil {
		return "", false
	}
	return strings.ToValidUTF8(string(buf), "�"), true
}
