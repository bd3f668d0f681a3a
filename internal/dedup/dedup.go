// Package dedup groups files that share a content hash or a file name.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mordilloSan/go-logger/logger"

	"github.com/mgomes/sefind/internal/api"
)

// Detect returns every hash group and every name group with more than one
// file. Paths that are missing or not regular files only take part in name
// grouping. Hash groups come first; within each kind groups are ordered by
// key.
func Detect(ctx context.Context, paths []string) ([]api.DupGroup, error) {
	logger.Infof("dedup start: paths=%d", len(paths))

	byName := make(map[string][]string)
	for _, p := range paths {
		name := filepath.Base(p)
		if name == "." || name == string(filepath.Separator) {
			continue
		}
		byName[name] = append(byName[name], p)
	}

	byHash := make(map[string][]string)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sum, ok, err := HashFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", p, err)
		}
		if ok {
			byHash[sum] = append(byHash[sum], p)
		}
	}

	groups := collect(api.DupHash, byHash)
	groups = append(groups, collect(api.DupName, byName)...)
	logger.Infof("dedup done: groups=%d", len(groups))
	return groups, nil
}

func collect(kind api.DupKind, m map[string][]string) []api.DupGroup {
	var out []api.DupGroup
	for key, files := range m {
		if len(files) > 1 {
			out = append(out, api.DupGroup{Kind: kind, Key: key, Files: files})
		}
	}
	slices.SortFunc(out, func(a, b api.DupGroup) int { return strings.Compare(a.Key, b.Key) })
	return out
}

// HashFile returns the hex sha256 of a regular file. ok is false when the
// path does not exist or is not a regular file.
func HashFile(path string) (sum string, ok bool, err error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close() //nolint:errcheck

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", false, err
	}
	return hex.EncodeToString(h.Sum(nil)), true, nil
}
