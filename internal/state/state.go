// Package state records the last scan pipeline run so a daily auto scan
// runs at most once per day and diagnostics can report on it.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const dayLayout = "2006-01-02"

type State struct {
	LastDay   string `json:"last_day,omitempty"`
	Completed bool   `json:"completed"`
}

// Started reports a run that began but never finished.
func (s State) Started() bool {
	return s.LastDay != "" && !s.Completed
}

// DoneOn reports whether a run completed on the local day of t.
func (s State) DoneOn(t time.Time) bool {
	return s.Completed && s.LastDay == Day(t)
}

func Day(t time.Time) string {
	return t.Local().Format(dayLayout)
}

// Load reads the state file. A missing file is the zero State.
func Load(path string) (State, error) {
	var st State
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("failed to read pipeline state: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("failed to parse pipeline state: %w", err)
	}
	return st, nil
}

func MarkStarted(path string, now time.Time) error {
	return save(path, State{LastDay: Day(now), Completed: false})
}

func MarkCompleted(path string, now time.Time) error {
	return save(path, State{LastDay: Day(now), Completed: true})
}

func save(path string, st State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write pipeline state: %w", err)
	}
	return nil
}
