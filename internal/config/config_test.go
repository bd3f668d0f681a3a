package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.SearchMode != SearchModeInverted {
		t.Errorf("expected search mode 'inverted', got '%s'", cfg.SearchMode)
	}

	if cfg.PathMaxLen != 80 {
		t.Errorf("expected path max len 80, got %d", cfg.PathMaxLen)
	}

	if !cfg.AutoScan() {
		t.Error("expected auto scan enabled by default")
	}

	if len(cfg.ScanRoots) == 0 {
		t.Error("expected at least one scan root")
	}

	if len(cfg.ExcludePatterns) == 0 {
		t.Error("expected default exclude patterns")
	}

	if cfg.EmbedDim != 1024 {
		t.Errorf("expected embed dim 1024, got %d", cfg.EmbedDim)
	}
}

func TestConfigSaveLoad(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "sefind-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	t.Setenv("SEFIND_CONFIG_DIR", tmpDir)

	off := false
	cfg := &Config{
		SearchMode:      SearchModeHybrid,
		ScanRoots:       []string{"/data"},
		ExcludePatterns: []string{"/tmp/"},
		IndexDir:        filepath.Join(tmpDir, "index"),
		AutoScanEnabled: &off,
		CohereAPIKey:    "test-api-key",
	}

	if err := cfg.Save(); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if loaded.SearchMode != SearchModeHybrid {
		t.Errorf("expected search mode 'hybrid', got '%s'", loaded.SearchMode)
	}

	if len(loaded.ScanRoots) != 1 || loaded.ScanRoots[0] != "/data" {
		t.Errorf("expected scan roots [/data], got %v", loaded.ScanRoots)
	}

	if loaded.AutoScan() {
		t.Error("expected auto scan disabled after round trip")
	}

	if loaded.CohereAPIKey != "test-api-key" {
		t.Errorf("expected API key 'test-api-key', got '%s'", loaded.CohereAPIKey)
	}

	if loaded.PathMaxLen != 80 {
		t.Errorf("expected defaults applied on save, got path max len %d", loaded.PathMaxLen)
	}
}

func TestLoadCreatesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SEFIND_CONFIG_DIR", tmpDir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.SearchMode != SearchModeInverted {
		t.Errorf("expected default search mode, got '%s'", cfg.SearchMode)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, "config.json")); err != nil {
		t.Errorf("expected config file to be written: %v", err)
	}
}

func TestReset(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SEFIND_CONFIG_DIR", tmpDir)

	cfg := &Config{SearchMode: SearchModeVector, PathMaxLen: 40}
	if err := cfg.Save(); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	reset, err := Reset()
	if err != nil {
		t.Fatalf("failed to reset config: %v", err)
	}

	if reset.SearchMode != SearchModeInverted {
		t.Errorf("expected reset search mode 'inverted', got '%s'", reset.SearchMode)
	}

	if reset.PathMaxLen != 80 {
		t.Errorf("expected reset path max len 80, got %d", reset.PathMaxLen)
	}
}

func TestConfigDefaultsApplied(t *testing.T) {
	cfg := &Config{
		CohereAPIKey: "key",
		SearchMode:   "  ",
	}

	cfg.ApplyDefaults()

	if cfg.SearchMode != SearchModeInverted {
		t.Errorf("expected blank search mode replaced, got '%s'", cfg.SearchMode)
	}

	if cfg.IndexDir == "" {
		t.Error("expected default index dir")
	}

	if cfg.RerankModel != "rerank-v3.5" {
		t.Errorf("expected default rerank model, got '%s'", cfg.RerankModel)
	}
}

func TestRelativeIndexDirRedirected(t *testing.T) {
	cfg := &Config{IndexDir: "index"}
	cfg.ApplyDefaults()

	if !filepath.IsAbs(cfg.IndexDir) {
		t.Errorf("expected relative index dir replaced, got '%s'", cfg.IndexDir)
	}
}

func TestLoadRuntime(t *testing.T) {
	t.Setenv("SEFIND_INVOKE_TIMEOUT_MS", "1500")
	t.Setenv("SEFIND_INVOKE_RETRIES", "2")

	rt, err := LoadRuntime()
	if err != nil {
		t.Fatalf("failed to load runtime: %v", err)
	}

	if rt.InvokeTimeout().Milliseconds() != 1500 {
		t.Errorf("expected 1500ms timeout, got %v", rt.InvokeTimeout())
	}

	if rt.InvokeRetries != 2 {
		t.Errorf("expected 2 retries, got %d", rt.InvokeRetries)
	}
}

func TestLoadRuntimeFallsBack(t *testing.T) {
	t.Setenv("SEFIND_INVOKE_TIMEOUT_MS", "0")
	t.Setenv("SEFIND_INVOKE_RETRIES", "-3")

	rt, err := LoadRuntime()
	if err != nil {
		t.Fatalf("failed to load runtime: %v", err)
	}

	if rt.InvokeTimeoutMS != 60000 {
		t.Errorf("expected fallback timeout 60000, got %d", rt.InvokeTimeoutMS)
	}

	if rt.InvokeRetries != 0 {
		t.Errorf("expected fallback retries 0, got %d", rt.InvokeRetries)
	}
}
