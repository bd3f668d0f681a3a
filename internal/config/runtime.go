package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Runtime holds process knobs read from the environment rather than the
// config file.
type Runtime struct {
	InvokeTimeoutMS    int    `env:"SEFIND_INVOKE_TIMEOUT_MS" envDefault:"60000"`
	InvokeRetries      int    `env:"SEFIND_INVOKE_RETRIES" envDefault:"0"`
	ListenAddr         string `env:"SEFIND_LISTEN_ADDR" envDefault:"127.0.0.1:7717"`
	Verbose            bool   `env:"SEFIND_VERBOSE"`
	ScanLogSampleEvery int    `env:"SEFIND_SCAN_LOG_SAMPLE_EVERY" envDefault:"200"`
}

// LoadRuntime parses the environment. Out of range values fall back to the
// defaults instead of failing.
func LoadRuntime() (Runtime, error) {
	var rt Runtime
	if err := env.Parse(&rt); err != nil {
		return Runtime{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if rt.InvokeTimeoutMS <= 0 {
		rt.InvokeTimeoutMS = 60000
	}
	if rt.InvokeRetries < 0 {
		rt.InvokeRetries = 0
	}
	if rt.ScanLogSampleEvery <= 0 {
		rt.ScanLogSampleEvery = 200
	}
	return rt, nil
}

func (r Runtime) InvokeTimeout() time.Duration {
	return time.Duration(r.InvokeTimeoutMS) * time.Millisecond
}
