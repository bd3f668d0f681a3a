package backend

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/mordilloSan/go-logger/logger"
)

// OpenLocation reveals path in the platform file manager. It returns once the
// file manager has been launched.
func OpenLocation(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("explorer", "/select,"+path)
	case "darwin":
		cmd = exec.Command("open", "-R", path)
	default:
		cmd = exec.Command("xdg-open", filepath.Dir(path))
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open location: %w", err)
	}
	go func() {
		// explorer exits non-zero even when it succeeds.
		if err := cmd.Wait(); err != nil {
			logger.Debugf("file manager exited: %v", err)
		}
	}()
	return nil
}
