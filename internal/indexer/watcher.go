package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/mordilloSan/go-logger/logger"

	"github.com/mgomes/sefind/internal/api"
	"github.com/mgomes/sefind/internal/scanner"
)

const (
	debounceDelay = 2 * time.Second
	pollInterval  = 500 * time.Millisecond
)

// Watcher keeps the index current while files under the scan roots change.
// A file is re-indexed once it has been quiet for debounceDelay.
type Watcher struct {
	indexer      *Indexer
	opts         api.ScanOptions
	contentParse bool
	clock        clockwork.Clock
	watcher      *fsnotify.Watcher
	pending      map[string]time.Time
	mu           sync.Mutex
	stop         chan struct{}
	stopOnce     sync.Once
	onMessage    func(string)
}

func NewWatcher(indexer *Indexer, opts api.ScanOptions, contentParse bool, clock clockwork.Clock) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Watcher{
		indexer:      indexer,
		opts:         opts,
		contentParse: contentParse,
		clock:        clock,
		watcher:      fsw,
		pending:      make(map[string]time.Time),
		stop:         make(chan struct{}),
	}, nil
}

func (w *Watcher) SetMessageHandler(fn func(string)) {
	w.onMessage = fn
}

// Start watches every scan root and blocks until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	for _, root := range w.opts.Roots {
		if err := w.addWatchRecursive(root); err != nil {
			return err
		}
	}

	go w.processEvents(ctx)
	go w.processPending(ctx)

	w.message(fmt.Sprintf("Watching %d roots for changes...", len(w.opts.Roots)))

	select {
	case <-ctx.Done():
	case <-w.stop:
	}
	return nil
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.watcher.Close() //nolint:errcheck
	})
}

func (w *Watcher) addWatchRecursive(dir string) error {
	conf := &fastwalk.Config{Follow: w.opts.FollowSymlinks}
	return fastwalk.Walk(conf, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}

		if !d.IsDir() {
			return nil
		}
		if path != dir && scanner.Excluded(path+string(filepath.Separator), w.opts.ExcludePatterns) {
			return fastwalk.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			logger.Warnf("failed to watch %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.message(fmt.Sprintf("Watch error: %v", err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name
	if scanner.Excluded(path, w.opts.ExcludePatterns) {
		return
	}

	switch {
	case event.Op&fsnotify.Write == fsnotify.Write,
		event.Op&fsnotify.Create == fsnotify.Create:
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if event.Op&fsnotify.Create == fsnotify.Create {
				if err := w.addWatchRecursive(path); err != nil {
					w.message(fmt.Sprintf("Watch error: %v", err))
				}
			}
			return
		}
		w.mu.Lock()
		w.pending[path] = w.clock.Now()
		w.mu.Unlock()
		w.message(fmt.Sprintf("Detected change: %s", path))

	case event.Op&fsnotify.Remove == fsnotify.Remove,
		event.Op&fsnotify.Rename == fsnotify.Rename:
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if ok, err := w.indexer.db.DeleteFile(path); err == nil && ok {
			w.message(fmt.Sprintf("Removed from index: %s", path))
		}
	}
}

func (w *Watcher) processPending(ctx context.Context) {
	ticker := w.clock.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.Chan():
			w.indexPendingFiles(ctx)
		}
	}
}

func (w *Watcher) indexPendingFiles(ctx context.Context) {
	w.mu.Lock()
	now := w.clock.Now()
	var toIndex []string
	for path, timestamp := range w.pending {
		if now.Sub(timestamp) >= debounceDelay {
			toIndex = append(toIndex, path)
		}
	}
	for _, path := range toIndex {
		delete(w.pending, path)
	}
	w.mu.Unlock()

	for _, path := range toIndex {
		if err := w.indexPath(ctx, path); err != nil {
			w.message(fmt.Sprintf("Error indexing %s: %v", path, err))
		}
	}
}

func (w *Watcher) indexPath(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			_, err = w.indexer.db.DeleteFile(path)
		}
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	if w.opts.MaxFileSizeMB != nil && info.Size() > *w.opts.MaxFileSizeMB*1024*1024 {
		return nil
	}

	w.message(fmt.Sprintf("Indexing: %s", path))
	if err := w.indexer.Upsert(ctx, scanner.Meta(path, info), w.contentParse); err != nil {
		return err
	}
	w.message(fmt.Sprintf("Indexed: %s", path))
	return nil
}

func (w *Watcher) message(msg string) {
	if w.onMessage != nil {
		w.onMessage(msg)
	} else {
		logger.Infof("%s", msg)
	}
}
