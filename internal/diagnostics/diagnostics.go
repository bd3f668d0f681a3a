// Package diagnostics builds the health report: configuration sanity, index
// status, pipeline state and a system snapshot.
package diagnostics

import (
	"fmt"
	"os"
	"strings"

	"github.com/mordilloSan/go-logger/logger"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/mgomes/sefind/internal/api"
	"github.com/mgomes/sefind/internal/config"
	"github.com/mgomes/sefind/internal/db"
	"github.com/mgomes/sefind/internal/state"
)

// Probe samples the host.
type Probe interface {
	CPUAverage() (float64, error)
	Memory() (totalKiB, freeKiB uint64, err error)
}

// System reads the host through gopsutil.
type System struct{}

func (System) CPUAverage() (float64, error) {
	percent, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percent) == 0 {
		return 0, fmt.Errorf("no cpu samples")
	}
	return percent[0], nil
}

func (System) Memory() (uint64, uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return vm.Total / 1024, vm.Free / 1024, nil
}

// Report never fails: problems become warnings and unknown values are left
// out.
func Report(cfg *config.Config, st state.State, probe Probe) api.DiagnosticsReport {
	r := api.DiagnosticsReport{
		IndexDir:              cfg.IndexDir,
		ConfigScanRootsCount:  len(cfg.ScanRoots),
		ConfigAutoScanEnabled: cfg.AutoScan(),
		PipelineStarted:       st.Started(),
		PipelineCompleted:     st.Completed,
		PipelineLastDay:       st.LastDay,
		Warnings:              []string{},
	}

	if len(cfg.ScanRoots) == 0 {
		r.Warnings = append(r.Warnings, "config.scan_roots is empty")
	}
	if strings.TrimSpace(cfg.IndexDir) == "" {
		r.Warnings = append(r.Warnings, "config.index_dir is empty")
	}

	if _, err := os.Stat(cfg.IndexDir); err != nil {
		r.Warnings = append(r.Warnings, "index_dir does not exist")
	} else {
		inspectIndex(cfg, &r)
	}

	if probe != nil {
		if avg, err := probe.CPUAverage(); err == nil {
			r.SysCPUAvg = &avg
		} else {
			logger.Debugf("cpu sample failed: %v", err)
		}
		if total, free, err := probe.Memory(); err == nil {
			r.SysTotalMemKiB = &total
			r.SysFreeMemKiB = &free
		} else {
			logger.Debugf("memory sample failed: %v", err)
		}
	}

	logger.Infof("diagnostics report generated: warnings=%d", len(r.Warnings))
	return r
}

func inspectIndex(cfg *config.Config, r *api.DiagnosticsReport) {
	idx, err := db.OpenIndex(cfg.IndexDir, cfg.EmbedDim, false)
	if err != nil {
		r.Warnings = append(r.Warnings, fmt.Sprintf("open index failed: %v", err))
		return
	}
	defer idx.Close() //nolint:errcheck

	r.IndexOpenOK = true
	if fields, err := idx.SchemaFields(); err == nil {
		r.SchemaFields = fields
	}
	if n, err := idx.FileCount(); err == nil {
		r.IndexDocCount = &n
	}
}
