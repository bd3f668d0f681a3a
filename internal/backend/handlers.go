package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mordilloSan/go-logger/logger"

	"github.com/mgomes/sefind/internal/api"
	"github.com/mgomes/sefind/internal/config"
	"github.com/mgomes/sefind/internal/db"
	"github.com/mgomes/sefind/internal/dedup"
	"github.com/mgomes/sefind/internal/diagnostics"
	"github.com/mgomes/sefind/internal/indexer"
	"github.com/mgomes/sefind/internal/state"
)

type configArgs struct {
	Cfg *config.Config `json:"cfg"`
}

func (b *Backend) registry() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		api.CmdReadConfig:         b.readConfig,
		api.CmdWriteConfig:        b.writeConfig,
		api.CmdResetConfig:        b.resetConfig,
		api.CmdScanPaths:          b.scanPaths,
		api.CmdScanPathsProgress:  b.scanPathsProgress,
		api.CmdBuildIndex:         b.buildIndex,
		api.CmdBuildIndexProgress: b.buildIndexProgress,
		api.CmdScanAndIndex:       b.scanAndIndex,
		api.CmdSearchQuery:        b.searchQuery,
		api.CmdDetectDuplicates:   b.detectDuplicates,
		api.CmdDeleteFileAndIndex: b.deleteFileAndIndex,
		api.CmdOpenLocation:       b.openLocation,
		api.CmdDiagnosticsReport:  b.diagnosticsReport,
		api.CmdStartAutoScanNow:   b.startAutoScanNow,
	}
}

// Commands lists the registered command names.
func (b *Backend) Commands() []string {
	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}
	return names
}

func decode[T any](args json.RawMessage) (T, error) {
	var v T
	if len(args) == 0 || string(args) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(args, &v); err != nil {
		return v, fmt.Errorf("invalid arguments: %w", err)
	}
	return v, nil
}

func (b *Backend) readConfig(context.Context, json.RawMessage) (any, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	b.setConfig(cfg)
	return cfg, nil
}

func (b *Backend) writeConfig(_ context.Context, args json.RawMessage) (any, error) {
	a, err := decode[configArgs](args)
	if err != nil {
		return nil, err
	}
	if a.Cfg == nil {
		return nil, errors.New("missing cfg")
	}

	cfg := *a.Cfg
	cfg.ApplyDefaults()
	if err := cfg.Save(); err != nil {
		return nil, fmt.Errorf("failed to save config: %w", err)
	}
	b.setConfig(&cfg)
	logger.Infof("config written: roots=%d mode=%s", len(cfg.ScanRoots), cfg.SearchMode)
	return &cfg, nil
}

func (b *Backend) resetConfig(context.Context, json.RawMessage) (any, error) {
	logger.Warnf("reset_config: existing config will be removed")
	cfg, err := config.Reset()
	if err != nil {
		return nil, fmt.Errorf("failed to reset config: %w", err)
	}
	b.setConfig(cfg)
	return cfg, nil
}

func (b *Backend) scanPaths(ctx context.Context, args json.RawMessage) (any, error) {
	a, err := decode[api.ScanArgs](args)
	if err != nil {
		return nil, err
	}
	files, err := b.scanner.Scan(ctx, a.Opts, nil)
	if err != nil {
		return nil, err
	}
	return nonNil(files), nil
}

func (b *Backend) scanPathsProgress(ctx context.Context, args json.RawMessage) (any, error) {
	a, err := decode[api.ScanArgs](args)
	if err != nil {
		return nil, err
	}
	files, err := b.scanner.Scan(ctx, a.Opts, func(n int, f api.FileMeta) {
		b.Publish(api.EventScanProgress, api.ScanProgress{Current: n, Path: f.Path, Name: f.FileName})
	})
	if err != nil {
		return nil, err
	}
	b.Publish(api.EventScanDone, api.ScanDone{Total: len(files)})
	return nonNil(files), nil
}

func nonNil(files []api.FileMeta) []api.FileMeta {
	if files == nil {
		return []api.FileMeta{}
	}
	return files
}

func (b *Backend) buildIndex(ctx context.Context, args json.RawMessage) (any, error) {
	a, err := decode[api.BuildIndexArgs](args)
	if err != nil {
		return nil, err
	}
	return nil, b.build(ctx, a, nil)
}

func (b *Backend) buildIndexProgress(ctx context.Context, args json.RawMessage) (any, error) {
	a, err := decode[api.BuildIndexArgs](args)
	if err != nil {
		return nil, err
	}
	err = b.build(ctx, a, func(p indexer.Progress) {
		b.Publish(api.EventIndexProgress, api.IndexProgress{
			Current: p.Current,
			Total:   p.Total,
			Name:    p.File.FileName,
			Path:    p.File.Path,
		})
	})
	if err != nil {
		b.Publish(api.EventIndexDone, api.IndexDone{OK: false, Error: err.Error()})
		return nil, err
	}
	b.Publish(api.EventIndexDone, api.IndexDone{OK: true})
	return nil, nil
}

func (b *Backend) build(ctx context.Context, a api.BuildIndexArgs, progress indexer.ProgressFunc) error {
	idx, err := b.index(a.Opts.IndexDir, true)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	return b.newIndexer(idx).Build(ctx, a.Files, a.Opts.EnableContentParse, progress)
}

func (b *Backend) scanAndIndex(ctx context.Context, args json.RawMessage) (any, error) {
	a, err := decode[api.PipelineArgs](args)
	if err != nil {
		return nil, err
	}
	return nil, b.runPipeline(ctx, a.Opts, a.IndexOpts)
}

func (b *Backend) searchQuery(ctx context.Context, args json.RawMessage) (any, error) {
	a, err := decode[api.SearchArgs](args)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(a.Req.Query) == "" {
		return []api.SearchResult{}, nil
	}

	idx, err := b.index(a.Req.IndexDir, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	results, err := b.newSearcher(idx).Search(ctx, a.Req)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []api.SearchResult{}
	}
	return results, nil
}

func (b *Backend) detectDuplicates(ctx context.Context, args json.RawMessage) (any, error) {
	a, err := decode[api.DetectArgs](args)
	if err != nil {
		return nil, err
	}
	groups, err := dedup.Detect(ctx, a.Paths)
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = []api.DupGroup{}
	}
	return groups, nil
}

// deleteFileAndIndex removes the file from disk and then from the index.
// A file that is already gone still has its index entry removed.
func (b *Backend) deleteFileAndIndex(_ context.Context, args json.RawMessage) (any, error) {
	a, err := decode[api.DeleteArgs](args)
	if err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, errors.New("missing path")
	}

	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to delete %s: %w", a.Path, err)
	}

	idx, err := b.index(a.IndexDir, false)
	if errors.Is(err, db.ErrNoIndex) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	if _, err := idx.DeleteFile(a.Path); err != nil {
		return nil, fmt.Errorf("failed to remove %s from index: %w", a.Path, err)
	}
	logger.Infof("deleted %s", a.Path)
	return nil, nil
}

func (b *Backend) openLocation(_ context.Context, args json.RawMessage) (any, error) {
	a, err := decode[api.OpenLocationArgs](args)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(a.Path); err != nil {
		return nil, fmt.Errorf("failed to open location: %w", err)
	}
	return nil, b.open(a.Path)
}

func (b *Backend) diagnosticsReport(context.Context, json.RawMessage) (any, error) {
	st, err := state.Load(b.statePath)
	if err != nil {
		logger.Warnf("pipeline state unreadable: %v", err)
	}
	cfg := b.Config()
	report := diagnostics.Report(&cfg, st, b.probe)
	return &report, nil
}

func (b *Backend) startAutoScanNow(context.Context, json.RawMessage) (any, error) {
	return nil, b.StartAutoScan(ReasonManual)
}
