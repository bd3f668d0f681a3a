package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mordilloSan/go-logger/logger"
)

const (
	SearchModeInverted = "inverted"
	SearchModeHybrid   = "hybrid"
	SearchModeVector   = "vector"
)

type Config struct {
	SearchMode      string   `json:"search_mode"`
	ScanRoots       []string `json:"scan_roots"`
	ExcludePatterns []string `json:"exclude_patterns"`
	IndexDir        string   `json:"index_dir"`
	PathMaxLen      int      `json:"path_max_len"`
	AutoScanEnabled *bool    `json:"auto_scan_enabled,omitempty"`
	CohereAPIKey    string   `json:"cohere_api_key,omitempty"`
	EmbedModel      string   `json:"embed_model"`
	RerankModel     string   `json:"rerank_model"`
	EmbedDim        int      `json:"embed_dim"`
}

// AutoScan reports whether the daily background scan is enabled. Unset means enabled.
func (c *Config) AutoScan() bool {
	return c.AutoScanEnabled == nil || *c.AutoScanEnabled
}

func ConfigDir() (string, error) {
	if dir := os.Getenv("SEFIND_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "sefind"), nil
}

func configPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// StatePath is where the backend records the last pipeline run.
func StatePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "scan_state.json"), nil
}

// Load reads the config file. A missing file yields the defaults, which are
// written back so the next run finds them.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := defaultConfig()
		if err := cfg.Save(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every blank field with its default.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.SearchMode) == "" {
		c.SearchMode = SearchModeInverted
	}
	if len(c.ScanRoots) == 0 {
		c.ScanRoots = defaultScanRoots()
	}
	if len(c.ExcludePatterns) == 0 {
		c.ExcludePatterns = defaultExcludePatterns()
	}
	if strings.TrimSpace(c.IndexDir) == "" {
		c.IndexDir = defaultIndexDir()
	} else if !filepath.IsAbs(c.IndexDir) {
		// A relative index would move with the working directory.
		logger.Warnf("index_dir %q is not absolute, using the default index directory", c.IndexDir)
		c.IndexDir = defaultIndexDir()
	}
	if c.PathMaxLen == 0 {
		c.PathMaxLen = 80
	}
	if c.EmbedModel == "" {
		c.EmbedModel = "embed-v4.0"
	}
	if c.RerankModel == "" {
		c.RerankModel = "rerank-v3.5"
	}
	if c.EmbedDim == 0 {
		c.EmbedDim = 1024
	}
}

func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	path, err := configPath()
	if err != nil {
		return err
	}

	fixed := *c
	fixed.ApplyDefaults()

	data, err := json.MarshalIndent(&fixed, "", "  ")
	if err != nil {
		return err
	}

	data = append(data, '\n')
	return os.WriteFile(path, data, 0600)
}

// Reset removes the config file and returns freshly generated defaults.
func Reset() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return Load()
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func defaultScanRoots() []string {
	if runtime.GOOS == "windows" {
		var drives []string
		for c := 'A'; c <= 'Z'; c++ {
			d := string(c) + ":/"
			if _, err := os.Stat(d); err == nil {
				drives = append(drives, d)
			}
		}
		if len(drives) == 0 {
			return []string{"C:/"}
		}
		return drives
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return []string{"."}
	}
	return []string{home}
}

func defaultExcludePatterns() []string {
	if runtime.GOOS == "windows" {
		return []string{
			`\Windows`,
			`\Program Files`,
			`\Program Files (x86)`,
			`\AppData`,
			`\ProgramData`,
			`\Temp`,
			`\$Recycle.Bin`,
			`\System Volume Information`,
			`\node_modules`,
		}
	}
	return []string{"/.git/", "/node_modules/", "/.cache/", "/.Trash/"}
}

func defaultIndexDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".sefind", "index")
	}
	return filepath.Join(home, ".sefind", "index")
}
