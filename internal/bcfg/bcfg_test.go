package bcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenNoConfigFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotEmpty(t, cfg.CachePath, "CachePath should have a default")
	require.GreaterOrEqual(t, cfg.NumWorkers, 1)
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fbuild.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cache_path":"/srv/fbuild-cache","num_workers":7}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/srv/fbuild-cache", cfg.CachePath)
	require.Equal(t, 7, cfg.NumWorkers)
}

func TestEnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fbuild.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cache_path":"/from-file"}`), 0644))
	t.Setenv("FBUILD_CACHE_PATH", "/from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/from-env", cfg.CachePath)
}

func TestLoadMissingConfigFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	require.NotEmpty(t, cfg.CachePath, "expected defaults to apply when the config file is absent")
}
