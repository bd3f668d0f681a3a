package diagnostics

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgomes/sefind/internal/config"
	"github.com/mgomes/sefind/internal/db"
	"github.com/mgomes/sefind/internal/state"
)

type fakeProbe struct{ fail bool }

func (p fakeProbe) CPUAverage() (float64, error) {
	if p.fail {
		return 0, errors.New("no cpu")
	}
	return 12.5, nil
}

func (p fakeProbe) Memory() (uint64, uint64, error) {
	if p.fail {
		return 0, 0, errors.New("no mem")
	}
	return 1024, 512, nil
}

func TestReportWarnings(t *testing.T) {
	cfg := &config.Config{IndexDir: filepath.Join(t.TempDir(), "missing"), EmbedDim: 4}

	r := Report(cfg, state.State{}, fakeProbe{fail: true})
	assert.Equal(t, []string{"config.scan_roots is empty", "index_dir does not exist"}, r.Warnings)
	assert.False(t, r.IndexOpenOK)
	assert.Nil(t, r.IndexDocCount)
	assert.Nil(t, r.SysCPUAvg)
	assert.Nil(t, r.SysTotalMemKiB)
	assert.True(t, r.ConfigAutoScanEnabled)

	cfg.IndexDir = " "
	r = Report(cfg, state.State{}, nil)
	assert.Contains(t, r.Warnings, "config.index_dir is empty")
}

func TestReportOpenIndexFailure(t *testing.T) {
	cfg := &config.Config{ScanRoots: []string{"/a"}, IndexDir: t.TempDir(), EmbedDim: 4}

	r := Report(cfg, state.State{}, nil)
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "open index failed:")
	assert.False(t, r.IndexOpenOK)
}

func TestReportHealthyIndex(t *testing.T) {
	dir := t.TempDir()
	idx, err := db.OpenIndex(dir, 4, true)
	require.NoError(t, err)
	_, err = idx.UpsertFile(db.File{Path: "/a/x.txt", Name: "x.txt"})
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	disabled := false
	cfg := &config.Config{ScanRoots: []string{"/a", "/b"}, IndexDir: dir, EmbedDim: 4, AutoScanEnabled: &disabled}
	st := state.State{LastDay: "2026-01-02"}

	r := Report(cfg, st, fakeProbe{})
	assert.Empty(t, r.Warnings)
	assert.True(t, r.IndexOpenOK)
	require.NotNil(t, r.IndexDocCount)
	assert.Equal(t, 1, *r.IndexDocCount)
	assert.Contains(t, r.SchemaFields, "path")
	assert.Equal(t, 2, r.ConfigScanRootsCount)
	assert.False(t, r.ConfigAutoScanEnabled)
	assert.True(t, r.PipelineStarted)
	assert.False(t, r.PipelineCompleted)
	assert.Equal(t, "2026-01-02", r.PipelineLastDay)
	assert.Equal(t, 12.5, *r.SysCPUAvg)
	assert.Equal(t, uint64(1024), *r.SysTotalMemKiB)
	assert.Equal(t, uint64(512), *r.SysFreeMemKiB)
}
