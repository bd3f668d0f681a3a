// Package scanner walks the configured roots and collects file metadata.
package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/mordilloSan/go-logger/logger"

	"github.com/mgomes/sefind/internal/api"
)

// DefaultSampleEvery is how many files pass between progress log lines.
const DefaultSampleEvery = 200

type Scanner struct {
	SampleEvery int
}

func New(sampleEvery int) *Scanner {
	if sampleEvery <= 0 {
		sampleEvery = DefaultSampleEvery
	}
	return &Scanner{SampleEvery: sampleEvery}
}

// Scan walks every root and returns the regular files that pass the
// exclude patterns and the size limit, sorted by path. visit, when set, is
// called once per accepted file; calls are serialized.
func (s *Scanner) Scan(ctx context.Context, opts api.ScanOptions, visit func(n int, f api.FileMeta)) ([]api.FileMeta, error) {
	logger.Infof("scan start: roots=%v", opts.Roots)

	var maxBytes int64 = -1
	if opts.MaxFileSizeMB != nil {
		maxBytes = *opts.MaxFileSizeMB * 1024 * 1024
	}

	var (
		mu      sync.Mutex
		results []api.FileMeta
	)

	conf := &fastwalk.Config{Follow: opts.FollowSymlinks}

	for _, root := range opts.Roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Debugf("scanning root: %s", root)

		err := fastwalk.Walk(conf, root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logger.Debugf("walk error at %s: %v", path, err)
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			if d.IsDir() {
				if path != root && Excluded(path+string(filepath.Separator), opts.ExcludePatterns) {
					return fastwalk.SkipDir
				}
				return nil
			}
			if Excluded(path, opts.ExcludePatterns) {
				logger.Debugf("excluded by pattern: %s", path)
				return nil
			}

			info, err := fastwalk.StatDirEntry(path, d)
			if err != nil || !info.Mode().IsRegular() {
				return nil
			}
			if maxBytes >= 0 && info.Size() > maxBytes {
				logger.Debugf("skip by size (>%d bytes): %s", maxBytes, path)
				return nil
			}

			f := Meta(path, info)

			mu.Lock()
			defer mu.Unlock()
			results = append(results, f)
			n := len(results)
			if n%s.SampleEvery == 0 {
				logger.Infof("scan sample[%d]: %s", n, path)
			}
			if visit != nil {
				visit(n, f)
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, os.ErrNotExist) {
				logger.Warnf("scan root missing: %s", root)
				continue
			}
			return nil, err
		}
	}

	slices.SortFunc(results, func(a, b api.FileMeta) int { return strings.Compare(a.Path, b.Path) })
	logger.Infof("scan done: total_files=%d", len(results))
	return results, nil
}

// Excluded reports whether path contains any of the patterns.
func Excluded(path string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(path, p) {
			return true
		}
	}
	return false
}

// Meta builds the metadata record for a file. The extension is lower-cased
// and has no leading dot.
func Meta(path string, info fs.FileInfo) api.FileMeta {
	return api.FileMeta{
		Path:       path,
		FileName:   filepath.Base(path),
		Ext:        Ext(path),
		Size:       info.Size(),
		ModifiedTS: info.ModTime().Unix(),
	}
}

func Ext(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
