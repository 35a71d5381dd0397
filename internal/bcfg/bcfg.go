// Package bcfg resolves fbuild's configuration by layering, in
// increasing priority: built-in defaults, an optional config file,
// environment variables, and finally command-line flags. It generalizes
// the env-var-with-a-default pattern used elsewhere in this codebase to
// the handful of paths and tuning knobs a build needs.
package bcfg

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/xerrors"
)

// Config is fbuild's resolved configuration. Zero-value fields are filled
// in by Load from defaults, a config file, and the environment, in that
// order, each later source overriding the former.
type Config struct {
	CachePath      string `json:"cache_path"`
	BrokeragePath  string `json:"brokerage_path"`
	TempPath       string `json:"temp_path"`
	NumWorkers     int    `json:"num_workers"`
	CacheReadable  bool   `json:"cache_readable"`
	CacheWritable  bool   `json:"cache_writable"`
	WorkerAddr     string `json:"worker_addr"`
}

// Default returns the built-in defaults, the lowest-priority layer.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		CachePath:     filepath.Join(home, ".cache", "fbuild"),
		BrokeragePath: filepath.Join(home, ".cache", "fbuild", "brokerage"),
		TempPath:      os.TempDir(),
		NumWorkers:    runtime.NumCPU() - 1,
		CacheReadable: true,
		CacheWritable: true,
		WorkerAddr:    "localhost:31264",
	}
}

// Load resolves a Config: defaults, then configPath (if non-empty and it
// exists), then environment variables. CLI flags are applied by the
// caller afterward (cmd/fbuild copies its parsed flag values onto the
// returned Config, so there is nothing for bcfg itself to do for that
// layer).
func Load(configPath string) (Config, error) {
	cfg := Default()

	if configPath != "" {
		b, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, xerrors.Errorf("bcfg: reading %s: %w", configPath, err)
			}
		} else if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, xerrors.Errorf("bcfg: parsing %s: %w", configPath, err)
		}
	}

	applyEnv(&cfg)

	if cfg.NumWorkers < 1 {
		cfg.NumWorkers = 1
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FBUILD_CACHE_PATH"); v != "" {
		cfg.CachePath = v
	}
	if v := os.Getenv("FBUILD_BROKERAGE_PATH"); v != "" {
		cfg.BrokeragePath = v
	}
	if v := os.Getenv("FBUILD_TEMP_PATH"); v != "" {
		cfg.TempPath = v
	}
	if v := os.Getenv("FBUILD_WORKER_ADDR"); v != "" {
		cfg.WorkerAddr = v
	}
}
