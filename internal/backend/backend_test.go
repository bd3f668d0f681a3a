package backend

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgomes/sefind/internal/api"
	"github.com/mgomes/sefind/internal/config"
	"github.com/mgomes/sefind/internal/state"
)

type fakeProbe struct{}

func (fakeProbe) CPUAverage() (float64, error) { return 5, nil }
func (fakeProbe) Memory() (uint64, uint64, error) { return 2048, 1024, nil }

type recorder struct {
	mu     sync.Mutex
	events []string
	raw    map[string][]json.RawMessage
}

func record(b *Backend, streams ...string) *recorder {
	r := &recorder{raw: make(map[string][]json.RawMessage)}
	for _, s := range streams {
		b.Subscribe(s, func(p json.RawMessage) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, s)
			r.raw[s] = append(r.raw[s], p)
		})
	}
	return r
}

func (r *recorder) count(stream string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.raw[stream])
}

func (r *recorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type env struct {
	b      *Backend
	root   string
	index  string
	state  string
	opened []string
	clock  *clockwork.FakeClock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	t.Setenv("SEFIND_CONFIG_DIR", t.TempDir())

	base := t.TempDir()
	e := &env{
		root:  filepath.Join(base, "files"),
		index: filepath.Join(base, "index"),
		state: filepath.Join(base, "state.json"),
		clock: clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 12, 0, 0, 0, time.Local)),
	}
	require.NoError(t, os.MkdirAll(e.root, 0o755))

	off := false
	cfg := &config.Config{
		SearchMode:      config.SearchModeInverted,
		ScanRoots:       []string{e.root},
		IndexDir:        e.index,
		EmbedDim:        4,
		AutoScanEnabled: &off,
	}
	b, err := New(cfg, Options{
		Clock:     e.clock,
		Probe:     fakeProbe{},
		StatePath: e.state,
		Workers:   2,
		Open: func(path string) error {
			e.opened = append(e.opened, path)
			return nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	e.b = b
	return e
}

func (e *env) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(e.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func call[T any](t *testing.T, b *Backend, cmd string, args any) T {
	t.Helper()
	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		require.NoError(t, err)
		raw = data
	}
	out, err := b.Dispatch(context.Background(), cmd, raw)
	require.NoError(t, err)

	var v T
	require.NoError(t, json.Unmarshal(out, &v))
	return v
}

func TestDispatchUnknownCommand(t *testing.T) {
	e := newEnv(t)
	_, err := e.b.Dispatch(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Len(t, e.b.Commands(), 14)
}

func TestDispatchBadArguments(t *testing.T) {
	e := newEnv(t)
	_, err := e.b.Dispatch(context.Background(), api.CmdScanPaths, json.RawMessage(`{"opts":3}`))
	assert.ErrorContains(t, err, "invalid arguments")
}

func TestConfigRoundTrip(t *testing.T) {
	e := newEnv(t)

	cfg := call[config.Config](t, e.b, api.CmdReadConfig, nil)
	assert.Equal(t, config.SearchModeInverted, cfg.SearchMode)

	cfg.ScanRoots = []string{e.root}
	cfg.SearchMode = config.SearchModeHybrid
	saved := call[config.Config](t, e.b, api.CmdWriteConfig, map[string]any{"cfg": cfg})
	assert.Equal(t, config.SearchModeHybrid, saved.SearchMode)
	assert.Equal(t, config.SearchModeHybrid, e.b.Config().SearchMode)

	again := call[config.Config](t, e.b, api.CmdReadConfig, nil)
	assert.Equal(t, []string{e.root}, again.ScanRoots)

	reset := call[config.Config](t, e.b, api.CmdResetConfig, nil)
	assert.Equal(t, config.SearchModeInverted, reset.SearchMode)

	_, err := e.b.Dispatch(context.Background(), api.CmdWriteConfig, json.RawMessage(`{}`))
	assert.ErrorContains(t, err, "missing cfg")
}

func TestScanPathsProgress(t *testing.T) {
	e := newEnv(t)
	e.write(t, "a.txt", "a")
	e.write(t, "sub/b.md", "b")
	e.write(t, "node_modules/c.js", "c")
	rec := record(e.b, api.EventScanProgress, api.EventScanDone)

	files := call[[]api.FileMeta](t, e.b, api.CmdScanPathsProgress, api.ScanArgs{Opts: api.ScanOptions{
		Roots:           []string{e.root},
		ExcludePatterns: []string{"/node_modules/"},
	}})
	require.Len(t, files, 2)
	assert.Equal(t, 2, rec.count(api.EventScanProgress))

	order := rec.order()
	assert.Equal(t, api.EventScanDone, order[len(order)-1])

	var done api.ScanDone
	require.NoError(t, json.Unmarshal(rec.raw[api.EventScanDone][0], &done))
	assert.Equal(t, 2, done.Total)
}

func TestScanPathsEmpty(t *testing.T) {
	e := newEnv(t)
	out, err := e.b.Dispatch(context.Background(), api.CmdScanPaths, json.RawMessage(`{"opts":{"roots":[]}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(out))
}

func TestBuildAndSearch(t *testing.T) {
	e := newEnv(t)
	e.write(t, "budget.txt", "quarterly numbers")
	e.write(t, "notes.md", "the budget is tight")
	rec := record(e.b, api.EventIndexProgress, api.EventIndexDone)

	files := call[[]api.FileMeta](t, e.b, api.CmdScanPaths, api.ScanArgs{Opts: api.ScanOptions{Roots: []string{e.root}}})
	require.Len(t, files, 2)

	_, err := e.b.Dispatch(context.Background(), api.CmdBuildIndexProgress, mustJSON(t, api.BuildIndexArgs{
		Files: files,
		Opts:  api.IndexOptions{IndexDir: e.index, EnableContentParse: true},
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, rec.count(api.EventIndexProgress))
	assert.Equal(t, 1, rec.count(api.EventIndexDone))

	var last api.IndexProgress
	require.NoError(t, json.Unmarshal(rec.raw[api.EventIndexProgress][1], &last))
	assert.Equal(t, 2, last.Current)
	assert.Equal(t, 2, last.Total)

	results := call[[]api.SearchResult](t, e.b, api.CmdSearchQuery, api.SearchArgs{Req: api.SearchRequest{Query: "budget", IndexDir: e.index}})
	require.Len(t, results, 2)

	results = call[[]api.SearchResult](t, e.b, api.CmdSearchQuery, api.SearchArgs{Req: api.SearchRequest{
		Query:   "budget",
		Filters: &api.SearchFilters{Ext: []string{"md"}},
	}})
	require.Len(t, results, 1)
	assert.Equal(t, "notes.md", results[0].Name)

	out, err := e.b.Dispatch(context.Background(), api.CmdSearchQuery, json.RawMessage(`{"req":{"query":"  "}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(out))
}

func TestSearchWithoutIndex(t *testing.T) {
	e := newEnv(t)
	_, err := e.b.Dispatch(context.Background(), api.CmdSearchQuery, mustJSON(t, api.SearchArgs{Req: api.SearchRequest{Query: "x"}}))
	assert.Error(t, err)
}

func TestDetectDuplicates(t *testing.T) {
	e := newEnv(t)
	a := e.write(t, "one/report.txt", "same")
	b := e.write(t, "two/report.txt", "same")

	groups := call[[]api.DupGroup](t, e.b, api.CmdDetectDuplicates, api.DetectArgs{Paths: []string{a, b}})
	require.Len(t, groups, 2)
	assert.Equal(t, api.DupHash, groups[0].Kind)
	assert.Equal(t, api.DupName, groups[1].Kind)
	assert.Equal(t, "report.txt", groups[1].Key)
}

func TestDeleteFileAndIndex(t *testing.T) {
	e := newEnv(t)
	keep := e.write(t, "keep.txt", "")
	gone := e.write(t, "gone.txt", "")

	files := call[[]api.FileMeta](t, e.b, api.CmdScanPaths, api.ScanArgs{Opts: api.ScanOptions{Roots: []string{e.root}}})
	_, err := e.b.Dispatch(context.Background(), api.CmdBuildIndex, mustJSON(t, api.BuildIndexArgs{Files: files}))
	require.NoError(t, err)

	_, err = e.b.Dispatch(context.Background(), api.CmdDeleteFileAndIndex, mustJSON(t, api.DeleteArgs{Path: gone}))
	require.NoError(t, err)
	assert.NoFileExists(t, gone)
	assert.FileExists(t, keep)

	idx, err := e.b.index("", false)
	require.NoError(t, err)
	all, err := idx.AllFiles()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, keep, all[0].Path)

	// Already deleted.
	_, err = e.b.Dispatch(context.Background(), api.CmdDeleteFileAndIndex, mustJSON(t, api.DeleteArgs{Path: gone}))
	assert.NoError(t, err)

	_, err = e.b.Dispatch(context.Background(), api.CmdDeleteFileAndIndex, json.RawMessage(`{}`))
	assert.ErrorContains(t, err, "missing path")
}

func TestDeleteWithoutIndex(t *testing.T) {
	e := newEnv(t)
	path := e.write(t, "lonely.txt", "")

	_, err := e.b.Dispatch(context.Background(), api.CmdDeleteFileAndIndex, mustJSON(t, api.DeleteArgs{Path: path}))
	require.NoError(t, err)
	assert.NoFileExists(t, path)
}

func TestOpenLocation(t *testing.T) {
	e := newEnv(t)
	path := e.write(t, "here.txt", "")

	_, err := e.b.Dispatch(context.Background(), api.CmdOpenLocation, mustJSON(t, api.OpenLocationArgs{Path: path}))
	require.NoError(t, err)
	assert.Equal(t, []string{path}, e.opened)

	_, err = e.b.Dispatch(context.Background(), api.CmdOpenLocation, mustJSON(t, api.OpenLocationArgs{Path: filepath.Join(e.root, "missing")}))
	assert.Error(t, err)
	assert.Len(t, e.opened, 1)
}

func TestPipelineEventsAndState(t *testing.T) {
	e := newEnv(t)
	e.write(t, "a.txt", "")
	e.write(t, "b/c.txt", "")
	rec := record(e.b, api.EventScanProgress, api.EventScanDone, api.EventIndexProgress, api.EventIndexDone)

	_, err := e.b.Dispatch(context.Background(), api.CmdScanAndIndex, mustJSON(t, api.PipelineArgs{
		Opts:      api.ScanOptions{Roots: []string{e.root}},
		IndexOpts: api.IndexOptions{IndexDir: e.index},
	}))
	require.NoError(t, err)

	assert.Equal(t, 2, rec.count(api.EventScanProgress))
	assert.Equal(t, 2, rec.count(api.EventIndexProgress))
	assert.Equal(t, 1, rec.count(api.EventScanDone))
	order := rec.order()
	assert.Equal(t, api.EventIndexDone, order[len(order)-1])

	st, err := state.Load(e.state)
	require.NoError(t, err)
	assert.True(t, st.DoneOn(e.clock.Now()))
}

func TestFailedPipelineStillEndsWithIndexDone(t *testing.T) {
	e := newEnv(t)
	e.write(t, "a.txt", "")
	blocked := e.write(t, "not-a-dir", "")
	rec := record(e.b, api.EventIndexDone)

	_, err := e.b.Dispatch(context.Background(), api.CmdScanAndIndex, mustJSON(t, api.PipelineArgs{
		Opts:      api.ScanOptions{Roots: []string{e.root}},
		IndexOpts: api.IndexOptions{IndexDir: filepath.Join(blocked, "index")},
	}))
	require.Error(t, err)

	require.Equal(t, 1, rec.count(api.EventIndexDone))
	var done api.IndexDone
	require.NoError(t, json.Unmarshal(rec.raw[api.EventIndexDone][0], &done))
	assert.False(t, done.OK)
	assert.Contains(t, done.Error, "index dir")
}

func TestPipelinePrunesStaleEntries(t *testing.T) {
	e := newEnv(t)
	e.write(t, "a.txt", "")
	stale := e.write(t, "old.txt", "")
	args := mustJSON(t, api.PipelineArgs{
		Opts:      api.ScanOptions{Roots: []string{e.root}},
		IndexOpts: api.IndexOptions{IndexDir: e.index},
	})

	_, err := e.b.Dispatch(context.Background(), api.CmdScanAndIndex, args)
	require.NoError(t, err)
	require.NoError(t, os.Remove(stale))

	_, err = e.b.Dispatch(context.Background(), api.CmdScanAndIndex, args)
	require.NoError(t, err)

	idx, err := e.b.index(e.index, false)
	require.NoError(t, err)
	n, err := idx.FileCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPipelineSkipsIndexDir(t *testing.T) {
	e := newEnv(t)
	e.write(t, "a.txt", "")
	inside := filepath.Join(e.root, ".index")

	_, err := e.b.Dispatch(context.Background(), api.CmdScanAndIndex, mustJSON(t, api.PipelineArgs{
		Opts:      api.ScanOptions{Roots: []string{e.root}},
		IndexOpts: api.IndexOptions{IndexDir: inside},
	}))
	require.NoError(t, err)

	idx, err := e.b.index(inside, false)
	require.NoError(t, err)
	all, err := idx.AllFiles()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a.txt", all[0].Name)
}

func TestStartAutoScanNow(t *testing.T) {
	e := newEnv(t)
	e.write(t, "a.txt", "")

	done := make(chan struct{}, 1)
	rec := record(e.b, api.EventAutoScanStart)
	e.b.Subscribe(api.EventIndexDone, func(json.RawMessage) { done <- struct{}{} })

	_, err := e.b.Dispatch(context.Background(), api.CmdStartAutoScanNow, nil)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("auto scan never finished")
	}

	require.Equal(t, 1, rec.count(api.EventAutoScanStart))
	var start api.AutoScanStart
	require.NoError(t, json.Unmarshal(rec.raw[api.EventAutoScanStart][0], &start))
	assert.Equal(t, ReasonManual, start.Reason)
}

func TestStartAutoScanWhileRunning(t *testing.T) {
	e := newEnv(t)
	e.b.autoRunning.Store(true)
	assert.ErrorIs(t, e.b.StartAutoScan(ReasonManual), ErrAutoScanRunning)
}

func TestMaybeAutoScan(t *testing.T) {
	e := newEnv(t)
	assert.False(t, e.b.MaybeAutoScan(), "disabled in config")

	on := true
	cfg := e.b.Config()
	cfg.AutoScanEnabled = &on
	e.b.setConfig(&cfg)

	require.NoError(t, state.MarkCompleted(e.state, e.clock.Now()))
	assert.False(t, e.b.MaybeAutoScan(), "already ran today")

	e.clock.Advance(24 * time.Hour)
	assert.True(t, e.b.MaybeAutoScan())
}

func TestDiagnosticsReport(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, state.MarkStarted(e.state, e.clock.Now()))

	r := call[api.DiagnosticsReport](t, e.b, api.CmdDiagnosticsReport, nil)
	assert.True(t, r.PipelineStarted)
	assert.False(t, r.PipelineCompleted)
	assert.Contains(t, r.Warnings, "index_dir does not exist")
	require.NotNil(t, r.SysTotalMemKiB)
	assert.EqualValues(t, 2048, *r.SysTotalMemKiB)
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub()
	var got []string
	off := h.Subscribe("s", func(p json.RawMessage) { got = append(got, string(p)) })
	assert.Equal(t, 1, h.Subscribers("s"))

	h.Publish("s", 1)
	off()
	off()
	h.Publish("s", 2)

	assert.Equal(t, []string{"1"}, got)
	assert.Equal(t, 0, h.Subscribers("s"))
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
