package tui

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jonboulle/clockwork"

	"github.com/mgomes/sefind/internal/api"
	"github.com/mgomes/sefind/internal/config"
	"github.com/mgomes/sefind/internal/invoke"
	"github.com/mgomes/sefind/internal/query"
	"github.com/mgomes/sefind/internal/transport"
)

// fakeBackend answers commands from a table and records what was called.
type fakeBackend struct {
	mu      sync.Mutex
	results map[string]any
	calls   []string
	args    map[string]any
}

func (f *fakeBackend) Call(_ context.Context, command string, payload any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, command)
	f.args[command] = payload
	v, ok := f.results[command]
	if !ok {
		return json.RawMessage("null"), nil
	}
	if err, isErr := v.(error); isErr {
		return nil, &transport.RemoteError{Command: command, Message: err.Error()}
	}
	return json.Marshal(v)
}

func (f *fakeBackend) Listen(context.Context, string, transport.Handler) (func(), error) {
	return func() {}, nil
}

func (f *fakeBackend) called(command string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == command {
			return true
		}
	}
	return false
}

func testConfig() *config.Config {
	return &config.Config{
		SearchMode: config.SearchModeInverted,
		ScanRoots:  []string{"/data"},
		IndexDir:   "/idx",
		PathMaxLen: 80,
	}
}

func newTestApp(t *testing.T, results map[string]any) (*App, *fakeBackend, *clockwork.FakeClock) {
	t.Helper()
	fb := &fakeBackend{results: results, args: make(map[string]any)}
	clock := clockwork.NewFakeClock()
	client := invoke.NewClient(invoke.New(fb, invoke.WithClock(clock)))
	app := NewApp(Deps{
		Client:      client,
		Transport:   fb,
		Clock:       clock,
		ValidateKey: func(context.Context, config.Config) error { return nil },
	})
	t.Cleanup(app.Close)

	// Deliver the loaded config the way Init would.
	msg := app.loadConfig()()
	app.Update(msg)
	return app, fb, clock
}

func keys(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestConfigLoadedIntoPages(t *testing.T) {
	app, _, _ := newTestApp(t, map[string]any{api.CmdReadConfig: testConfig()})

	if app.cfg.IndexDir != "/idx" {
		t.Fatalf("expected config to be applied, got %+v", app.cfg)
	}
	if !strings.Contains(app.settings.View(), "inverted") {
		t.Error("expected settings to show the search mode")
	}
}

func TestTypingSchedulesDebouncedSearch(t *testing.T) {
	app, fb, clock := newTestApp(t, map[string]any{
		api.CmdReadConfig:  testConfig(),
		api.CmdSearchQuery: []api.SearchResult{{Path: "/data/report.pdf", Name: "report.pdf", Score: 1}},
	})

	app.Update(keys("rep"))
	if app.query.View().Input.Query != "rep" {
		t.Fatalf("expected input to reach the coordinator, got %q", app.query.View().Input.Query)
	}
	if fb.called(api.CmdSearchQuery) {
		t.Fatal("search sent before the quiet period")
	}

	clock.Advance(300 * time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for len(app.query.View().Results) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	v := app.query.View()
	if len(v.Results) != 1 || v.Selected != "/data/report.pdf" {
		t.Fatalf("expected one selected result, got %+v", v)
	}

	fb.mu.Lock()
	args := fb.args[api.CmdSearchQuery].(api.SearchArgs)
	fb.mu.Unlock()
	if args.Req.IndexDir != "/idx" {
		t.Errorf("expected configured index dir, got %q", args.Req.IndexDir)
	}
	if !strings.Contains(app.View(), "report.pdf") {
		t.Error("expected result in view")
	}
}

func TestPageSwitching(t *testing.T) {
	app, fb, _ := newTestApp(t, map[string]any{
		api.CmdReadConfig:        testConfig(),
		api.CmdDiagnosticsReport: api.DiagnosticsReport{IndexDir: "/idx", Warnings: []string{"index_dir does not exist"}},
	})

	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyF4})
	if app.page != PageDiagnostics {
		t.Fatalf("expected diagnostics page, got %d", app.page)
	}
	if cmd == nil {
		t.Fatal("expected diagnostics to load on first visit")
	}
	app.Update(cmd())
	if !fb.called(api.CmdDiagnosticsReport) {
		t.Error("expected diagnostics command")
	}
	if !strings.Contains(app.View(), "index_dir does not exist") {
		t.Error("expected warning in view")
	}

	app.Update(keys("2"))
	if app.page != PageIndex {
		t.Errorf("expected index page, got %d", app.page)
	}
}

func TestIndexPageStartsPipeline(t *testing.T) {
	app, fb, _ := newTestApp(t, map[string]any{api.CmdReadConfig: testConfig()})
	app.Update(tea.KeyMsg{Type: tea.KeyF2})
	app.Update(keys("c"))

	_, cmd := app.Update(keys("s"))
	if cmd == nil {
		t.Fatal("expected pipeline command")
	}
	msg := cmd().(pipelineDoneMsg)
	if msg.err != nil {
		t.Fatalf("pipeline failed: %v", msg.err)
	}

	fb.mu.Lock()
	args := fb.args[api.CmdScanAndIndex].(api.PipelineArgs)
	fb.mu.Unlock()
	if !args.IndexOpts.EnableContentParse || args.IndexOpts.IndexDir != "/idx" {
		t.Errorf("unexpected index options %+v", args.IndexOpts)
	}
	if args.Opts.Roots[0] != "/data" {
		t.Errorf("unexpected scan options %+v", args.Opts)
	}
	if !strings.Contains(app.View(), "completed") {
		t.Error("expected completed state in view")
	}
}

func TestDuplicatesDeleteFlow(t *testing.T) {
	app, fb, _ := newTestApp(t, map[string]any{
		api.CmdReadConfig: testConfig(),
		api.CmdScanPaths:  []api.FileMeta{{Path: "/data/a/x.txt"}, {Path: "/data/b/x.txt"}},
		api.CmdDetectDuplicates: []api.DupGroup{
			{Kind: api.DupName, Key: "x.txt", Files: []string{"/data/a/x.txt", "/data/b/x.txt"}},
		},
	})
	app.Update(tea.KeyMsg{Type: tea.KeyF3})

	_, cmd := app.Update(keys("d"))
	app.Update(cmd())
	if rows := app.dupRows(); len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	app.Update(keys("j"))
	_, cmd = app.Update(keys("x"))
	msg := cmd().(deletedMsg)
	if msg.path != "/data/b/x.txt" || msg.err != nil {
		t.Fatalf("unexpected delete result %+v", msg)
	}
	app.Update(msg)

	if rows := app.dupRows(); len(rows) != 0 {
		t.Errorf("expected group to be pruned, got %d rows", len(rows))
	}
	if !fb.called(api.CmdDeleteFileAndIndex) {
		t.Error("expected delete command")
	}
}

func TestSettingsSaveValidatesKey(t *testing.T) {
	app, fb, _ := newTestApp(t, map[string]any{
		api.CmdReadConfig:  testConfig(),
		api.CmdWriteConfig: testConfig(),
	})
	app.validateKey = func(context.Context, config.Config) error { return errors.New("unauthorized") }

	cfg := *testConfig()
	cfg.CohereAPIKey = "bad"
	msg := app.saveConfig(SettingsSubmitMsg{Config: cfg, KeyChanged: true})()
	if e, ok := msg.(SettingsErrorMsg); !ok || !strings.Contains(e.Error, "unauthorized") {
		t.Fatalf("expected validation error, got %#v", msg)
	}
	if fb.called(api.CmdWriteConfig) {
		t.Error("config written despite invalid key")
	}

	cfg.CohereAPIKey = ""
	msg = app.saveConfig(SettingsSubmitMsg{Config: cfg})()
	app.Update(msg)
	if !fb.called(api.CmdWriteConfig) {
		t.Error("expected config to be written")
	}
	if app.status != "settings saved" {
		t.Errorf("unexpected status %q", app.status)
	}
}

func TestSettingsRequiresKeyForSemanticModes(t *testing.T) {
	s := NewSettingsModel().Load(*testConfig())
	s, _ = s.Update(tea.KeyMsg{Type: tea.KeyCtrlE})
	if s.mode != config.SearchModeHybrid {
		t.Fatalf("expected hybrid, got %s", s.mode)
	}
	s, cmd := s.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil || !strings.Contains(s.error, "needs a Cohere API key") {
		t.Errorf("expected key error, got %q", s.error)
	}
}

func TestSearchInputCarriesFilters(t *testing.T) {
	app, _, _ := newTestApp(t, map[string]any{api.CmdReadConfig: testConfig()})
	app.Update(tea.KeyMsg{Type: tea.KeyTab})
	app.Update(keys("pdf"))
	app.Update(tea.KeyMsg{Type: tea.KeyTab})
	app.Update(keys("5"))

	want := query.Input{Ext: "pdf", MinMB: "5"}
	if got := app.query.View().Input; got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}
