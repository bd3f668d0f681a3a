package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mgomes/sefind/internal/config"
	"github.com/mgomes/sefind/internal/query"
)

const (
	fieldAPIKey = iota
	fieldRoots
	fieldExcludes
	fieldIndexDir
	fieldCount
)

var fieldLabels = [fieldCount]string{
	"Cohere API Key (optional):",
	"Scan roots (comma separated):",
	"Exclude patterns (comma separated):",
	"Index directory:",
}

var searchModes = []string{config.SearchModeInverted, config.SearchModeHybrid, config.SearchModeVector}

// SettingsModel edits the persisted configuration.
type SettingsModel struct {
	inputs   [fieldCount]textinput.Model
	focus    int
	loaded   config.Config
	mode     string
	autoScan bool
	error    string
}

func NewSettingsModel() SettingsModel {
	var m SettingsModel
	for i := range m.inputs {
		in := textinput.New()
		in.Width = 60
		m.inputs[i] = in
	}
	m.inputs[fieldAPIKey].Placeholder = "Paste your Cohere API key here..."
	m.inputs[fieldAPIKey].EchoMode = textinput.EchoPassword
	m.inputs[fieldAPIKey].EchoCharacter = '•'
	m.inputs[fieldRoots].Placeholder = "/home/me, /mnt/data"
	m.inputs[fieldExcludes].Placeholder = "/.git/, /node_modules/"
	m.inputs[fieldIndexDir].Placeholder = "/home/me/.sefind/index"
	m.inputs[fieldAPIKey].Focus()
	m.mode = config.SearchModeInverted
	m.autoScan = true
	return m
}

// Load fills the form from cfg.
func (m SettingsModel) Load(cfg config.Config) SettingsModel {
	m.loaded = cfg
	m.inputs[fieldAPIKey].SetValue(cfg.CohereAPIKey)
	m.inputs[fieldRoots].SetValue(strings.Join(cfg.ScanRoots, ", "))
	m.inputs[fieldExcludes].SetValue(strings.Join(cfg.ExcludePatterns, ", "))
	m.inputs[fieldIndexDir].SetValue(cfg.IndexDir)
	m.mode = cfg.SearchMode
	m.autoScan = cfg.AutoScan()
	m.error = ""
	return m
}

func (m SettingsModel) setFocus(i int) SettingsModel {
	m.inputs[m.focus].Blur()
	m.focus = (i + fieldCount) % fieldCount
	m.inputs[m.focus].Focus()
	return m
}

func (m SettingsModel) Update(msg tea.Msg) (SettingsModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "tab", "down":
			return m.setFocus(m.focus + 1), nil

		case "shift+tab", "up":
			return m.setFocus(m.focus - 1), nil

		case "ctrl+e":
			m.mode = nextMode(m.mode)
			return m, nil

		case "ctrl+a":
			m.autoScan = !m.autoScan
			return m, nil

		case "enter":
			cfg, err := m.config()
			if err != nil {
				m.error = err.Error()
				return m, nil
			}
			m.error = ""
			keyChanged := cfg.CohereAPIKey != m.loaded.CohereAPIKey
			return m, func() tea.Msg {
				return SettingsSubmitMsg{Config: cfg, KeyChanged: keyChanged}
			}
		}

		m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)

	case SettingsErrorMsg:
		m.error = msg.Error

	default:
		m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	}

	return m, cmd
}

// config builds the configuration the form describes on top of the loaded
// one, so fields the form does not show are kept.
func (m SettingsModel) config() (config.Config, error) {
	cfg := m.loaded
	cfg.CohereAPIKey = strings.TrimSpace(m.inputs[fieldAPIKey].Value())
	cfg.ScanRoots = query.ParseCSV(m.inputs[fieldRoots].Value())
	cfg.ExcludePatterns = query.ParseCSV(m.inputs[fieldExcludes].Value())
	cfg.IndexDir = strings.TrimSpace(m.inputs[fieldIndexDir].Value())
	cfg.SearchMode = m.mode
	auto := m.autoScan
	cfg.AutoScanEnabled = &auto

	if len(cfg.ScanRoots) == 0 {
		return cfg, fmt.Errorf("at least one scan root is required")
	}
	if cfg.SearchMode != config.SearchModeInverted && cfg.CohereAPIKey == "" {
		return cfg, fmt.Errorf("%s search needs a Cohere API key", cfg.SearchMode)
	}
	return cfg, nil
}

func nextMode(mode string) string {
	for i, m := range searchModes {
		if m == mode {
			return searchModes[(i+1)%len(searchModes)]
		}
	}
	return searchModes[0]
}

func (m SettingsModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Settings") + "\n\n")
	b.WriteString("Semantic search modes need a Cohere API key from " +
		activeStyle.Render("https://dashboard.cohere.com/api-keys") + "\n\n")

	for i, label := range fieldLabels {
		if i == m.focus {
			label = activeStyle.Render("> " + label)
		} else {
			label = "  " + label
		}
		b.WriteString(label + "\n")
		b.WriteString(inputBoxStyle.Render(m.inputs[i].View()) + "\n")
	}

	auto := "off"
	if m.autoScan {
		auto = "on"
	}
	b.WriteString(fmt.Sprintf("\n  Search mode: %s   Daily auto scan: %s\n",
		activeStyle.Render(m.mode), activeStyle.Render(auto)))

	if m.error != "" {
		b.WriteString("\n" + errorStyle.Render("Error: "+m.error) + "\n")
	}

	b.WriteString("\n" + helpStyle.Render("tab switch field  ctrl+e search mode  ctrl+a auto scan  enter save  ctrl+r reset"))

	return b.String()
}
