package invoke

import (
	"time"

	"github.com/mgomes/sefind/internal/api"
)

const (
	DefaultTimeout = 60 * time.Second
	DefaultRetries = 0
)

// InheritRetries in a table entry takes the gateway's default retry count.
const InheritRetries = -1

// Budget is the timeout and retry allowance of one command.
type Budget struct {
	Timeout time.Duration
	Retries int
}

func timeout(d time.Duration) Budget {
	return Budget{Timeout: d, Retries: InheritRetries}
}

// DefaultTable sizes each command's timeout to the work it does. Index
// builds and the fused pipeline walk whole disks and get far more room than
// config reads. Only search carries its own retry count; everything else
// follows the gateway default.
func DefaultTable() map[string]Budget {
	return map[string]Budget{
		api.CmdReadConfig:         timeout(30 * time.Second),
		api.CmdWriteConfig:        timeout(30 * time.Second),
		api.CmdResetConfig:        timeout(30 * time.Second),
		api.CmdScanPaths:          timeout(120 * time.Second),
		api.CmdScanPathsProgress:  timeout(120 * time.Second),
		api.CmdBuildIndex:         timeout(300 * time.Second),
		api.CmdBuildIndexProgress: timeout(300 * time.Second),
		api.CmdScanAndIndex:       timeout(600 * time.Second),
		api.CmdSearchQuery:        {Timeout: 60 * time.Second, Retries: 1},
		api.CmdDetectDuplicates:   timeout(300 * time.Second),
		api.CmdDeleteFileAndIndex: timeout(30 * time.Second),
		api.CmdOpenLocation:       timeout(30 * time.Second),
		api.CmdDiagnosticsReport:  timeout(45 * time.Second),
		api.CmdStartAutoScanNow:   timeout(60 * time.Second),
	}
}
