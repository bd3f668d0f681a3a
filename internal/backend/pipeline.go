package backend

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mordilloSan/go-logger/logger"
	"golang.org/x/sync/errgroup"

	"github.com/mgomes/sefind/internal/api"
	"github.com/mgomes/sefind/internal/db"
	"github.com/mgomes/sefind/internal/indexer"
	"github.com/mgomes/sefind/internal/state"
)

const (
	// pipelineMaxFileMB caps the files the fused pipeline indexes.
	pipelineMaxFileMB int64 = 500

	ReasonManual = "manual"
	ReasonDaily  = "daily"
)

// ErrAutoScanRunning is returned when a background scan is already going.
var ErrAutoScanRunning = errors.New("auto scan already running")

// DefaultWorkers leaves two cores to the rest of the system.
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()-2)
}

// runPipeline scans the roots and indexes each file as soon as it is found.
// Existing entries are updated in place; entries under the roots that the
// scan no longer finds are dropped at the end. Every run ends with an
// index_done event, failed runs included.
func (b *Backend) runPipeline(ctx context.Context, opts api.ScanOptions, idxOpts api.IndexOptions) (err error) {
	defer func() {
		if err != nil {
			b.Publish(api.EventIndexDone, api.IndexDone{OK: false, Error: err.Error()})
		}
	}()

	idx, err := b.index(idxOpts.IndexDir, true)
	if err != nil {
		return err
	}
	ix := b.newIndexer(idx)

	maxMB := pipelineMaxFileMB
	opts.MaxFileSizeMB = &maxMB
	opts.FollowSymlinks = false
	indexDir := idxOpts.IndexDir
	if indexDir == "" {
		indexDir = b.Config().IndexDir
	}
	opts.ExcludePatterns = append(slices.Clone(opts.ExcludePatterns), filepath.Clean(indexDir)+string(filepath.Separator))

	logger.Infof("pipeline start: roots=%v index_dir=%s workers=%d", opts.Roots, indexDir, b.workers)
	if err := state.MarkStarted(b.statePath, b.clock.Now()); err != nil {
		logger.Warnf("failed to record pipeline start: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	var (
		indexed   atomic.Int64
		pendingMu sync.Mutex
		pending   []indexer.Pending
	)

	files, scanErr := b.scanner.Scan(gctx, opts, func(n int, f api.FileMeta) {
		b.Publish(api.EventScanProgress, api.ScanProgress{Current: n, Path: f.Path, Name: f.FileName})

		g.Go(func() error {
			p, err := ix.Store(f, idxOpts.EnableContentParse)
			if err != nil {
				return err
			}
			pendingMu.Lock()
			pending = append(pending, p)
			pendingMu.Unlock()

			cur := indexed.Add(1)
			b.Publish(api.EventIndexProgress, api.IndexProgress{Current: int(cur), Name: f.FileName, Path: f.Path})
			return nil
		})
	})
	if scanErr == nil {
		b.Publish(api.EventScanDone, api.ScanDone{Total: len(files)})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if scanErr != nil {
		return scanErr
	}

	if err := ix.Embed(ctx, pending); err != nil {
		return err
	}
	if err := b.prune(idx, opts.Roots, files); err != nil {
		logger.Warnf("failed to prune stale entries: %v", err)
	}

	if err := state.MarkCompleted(b.statePath, b.clock.Now()); err != nil {
		logger.Warnf("failed to record pipeline completion: %v", err)
	}
	b.Publish(api.EventIndexDone, api.IndexDone{OK: true})
	logger.Infof("pipeline done: scanned=%d indexed=%d", len(files), indexed.Load())
	return nil
}

// prune removes indexed files under roots that the scan did not return.
func (b *Backend) prune(idx *db.DB, roots []string, seen []api.FileMeta) error {
	keep := make(map[string]bool, len(seen))
	for _, f := range seen {
		keep[f.Path] = true
	}

	all, err := idx.AllFiles()
	if err != nil {
		return err
	}

	removed := 0
	for _, f := range all {
		if keep[f.Path] || !underAny(f.Path, roots) {
			continue
		}
		if _, err := idx.DeleteFile(f.Path); err != nil {
			return err
		}
		removed++
	}
	if removed > 0 {
		logger.Infof("pruned %d stale index entries", removed)
	}
	return nil
}

func underAny(path string, roots []string) bool {
	for _, root := range roots {
		root = filepath.Clean(root)
		if path == root || strings.HasPrefix(path, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// StartAutoScan announces a background pipeline run over the configured
// roots and starts it. Content parsing stays off for background runs.
func (b *Backend) StartAutoScan(reason string) error {
	if !b.autoRunning.CompareAndSwap(false, true) {
		return ErrAutoScanRunning
	}

	cfg := b.Config()
	b.Publish(api.EventAutoScanStart, api.AutoScanStart{Reason: reason})
	logger.Infof("auto scan start: reason=%s", reason)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.autoRunning.Store(false)

		opts := api.ScanOptions{Roots: cfg.ScanRoots, ExcludePatterns: cfg.ExcludePatterns}
		idxOpts := api.IndexOptions{IndexDir: cfg.IndexDir, EnableContentParse: false}
		if err := b.runPipeline(b.ctx, opts, idxOpts); err != nil {
			logger.ErrorKV("auto scan failed", "reason", reason, "error", err)
		}
	}()
	return nil
}

// MaybeAutoScan starts the daily run when auto scan is enabled and no run
// completed today. It reports whether a run was started.
func (b *Backend) MaybeAutoScan() bool {
	cfg := b.Config()
	if !cfg.AutoScan() {
		return false
	}
	st, err := state.Load(b.statePath)
	if err != nil {
		logger.Warnf("pipeline state unreadable: %v", err)
	}
	if st.DoneOn(b.clock.Now()) {
		logger.Debugf("auto scan already completed today")
		return false
	}
	return b.StartAutoScan(ReasonDaily) == nil
}
