// Package backend executes the commands the client issues and publishes the
// progress events it listens to. It owns the index handles, the scan
// pipeline and the daily auto scan.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/mordilloSan/go-logger/logger"

	"github.com/mgomes/sefind/internal/cohere"
	"github.com/mgomes/sefind/internal/config"
	"github.com/mgomes/sefind/internal/db"
	"github.com/mgomes/sefind/internal/diagnostics"
	"github.com/mgomes/sefind/internal/indexer"
	"github.com/mgomes/sefind/internal/scanner"
	"github.com/mgomes/sefind/internal/search"
)

// ErrUnknownCommand is returned by Dispatch for a name with no handler.
var ErrUnknownCommand = errors.New("unknown command")

// HandlerFunc runs one command. args is the command's JSON argument object
// and may be empty.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

type Options struct {
	Clock       clockwork.Clock
	SampleEvery int
	Probe       diagnostics.Probe
	// StatePath is the pipeline state file; empty uses config.StatePath.
	StatePath string
	// Open reveals a path in the platform file manager.
	Open func(path string) error
	// Workers bounds the fused pipeline's indexing goroutines; zero picks
	// one from the CPU count.
	Workers int
}

type Backend struct {
	hub       *Hub
	handlers  map[string]HandlerFunc
	clock     clockwork.Clock
	scanner   *scanner.Scanner
	probe     diagnostics.Probe
	statePath string
	open      func(string) error
	workers   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	autoRunning atomic.Bool

	mu      sync.Mutex
	cfg     *config.Config
	indexes map[string]*db.DB
}

// New returns a backend serving cfg. Close releases it.
func New(cfg *config.Config, opts Options) (*Backend, error) {
	if cfg == nil {
		return nil, errors.New("backend needs a config")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Probe == nil {
		opts.Probe = diagnostics.System{}
	}
	if opts.Open == nil {
		opts.Open = OpenLocation
	}
	if opts.StatePath == "" {
		p, err := config.StatePath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve state path: %w", err)
		}
		opts.StatePath = p
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Backend{
		hub:       NewHub(),
		clock:     opts.Clock,
		scanner:   scanner.New(opts.SampleEvery),
		probe:     opts.Probe,
		statePath: opts.StatePath,
		open:      opts.Open,
		workers:   opts.Workers,
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		indexes:   make(map[string]*db.DB),
	}
	b.handlers = b.registry()
	return b, nil
}

// Dispatch runs the named command and returns its JSON encoded result.
func (b *Backend) Dispatch(ctx context.Context, command string, args json.RawMessage) (out json.RawMessage, err error) {
	h, ok := b.handlers[command]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("command %s panicked: %v\n%s", command, r, debug.Stack())
			err = fmt.Errorf("%s: internal error: %v", command, r)
		}
	}()

	logger.Debugf("command %s", command)
	v, err := h(ctx, args)
	if err != nil {
		logger.Warnf("command %s failed: %v", command, err)
		return nil, err
	}
	return json.Marshal(v)
}

// Subscribe attaches fn to an event stream.
func (b *Backend) Subscribe(stream string, fn func(json.RawMessage)) func() {
	return b.hub.Subscribe(stream, fn)
}

func (b *Backend) Publish(stream string, payload any) {
	b.hub.Publish(stream, payload)
}

func (b *Backend) Hub() *Hub {
	return b.hub
}

// Config returns a copy of the configuration in use.
func (b *Backend) Config() config.Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.cfg
}

func (b *Backend) setConfig(cfg *config.Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
}

// Close stops background runs and closes every open index.
func (b *Backend) Close() error {
	b.cancel()
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeIndexesLocked()
}

func (b *Backend) closeIndexesLocked() error {
	var errs []error
	for dir, idx := range b.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close index %s: %w", dir, err))
		}
		delete(b.indexes, dir)
	}
	return errors.Join(errs...)
}

// index returns the open index for dir, opening it on first use. A blank
// dir means the configured one.
func (b *Backend) index(dir string, create bool) (*db.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if dir == "" {
		dir = b.cfg.IndexDir
	}
	if dir == "" {
		return nil, errors.New("index dir is empty")
	}
	dir = filepath.Clean(dir)

	if idx, ok := b.indexes[dir]; ok {
		return idx, nil
	}
	idx, err := db.OpenIndex(dir, b.cfg.EmbedDim, create)
	if err != nil {
		return nil, err
	}
	b.indexes[dir] = idx
	return idx, nil
}

// semantic returns the Cohere client for the current config, or nil when
// search and indexing stay inverted only.
func (b *Backend) semantic() *cohere.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cohere.FromConfig(b.cfg)
}

func (b *Backend) newIndexer(idx *db.DB) *indexer.Indexer {
	var emb indexer.Embedder
	if c := b.semantic(); c != nil {
		emb = c
	}
	return indexer.New(idx, emb)
}

func (b *Backend) newSearcher(idx *db.DB) *search.Searcher {
	var sem search.Semantic
	c := b.semantic()
	if c != nil {
		sem = c
	}
	cfg := b.Config()
	return search.New(idx, sem, cfg.SearchMode)
}
