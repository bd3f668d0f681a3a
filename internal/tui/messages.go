package tui

import (
	"github.com/mgomes/sefind/internal/api"
	"github.com/mgomes/sefind/internal/config"
)

// changedMsg means a coordinator has a new snapshot.
type changedMsg struct{}

type SettingsSubmitMsg struct {
	Config config.Config
	// KeyChanged is set when the API key differs from the loaded one.
	KeyChanged bool
}

type SettingsErrorMsg struct {
	Error string
}

type configMsg struct {
	cfg   *config.Config
	saved bool
	err   error
}

type pipelineDoneMsg struct {
	err error
}

type autoScanMsg struct {
	err error
}

type dupesDoneMsg struct {
	err error
}

type deletedMsg struct {
	path string
	err  error
}

type openedMsg struct {
	path string
	err  error
}

type diagMsg struct {
	report *api.DiagnosticsReport
	err    error
}
