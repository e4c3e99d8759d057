package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thetaauto/internal/errors"
)

var envKeys = []string{
	"THETA_WORKDIR", "THETA_CACHEDIR", "REPORT_FILE", "THETA_BIN", "THETA_ARGS",
	"THETA_PARALLEL", "THETA_PLUGINS", "THETA_TIMEOUT", "RESULTS_DRIVER",
	"ARCHIVE_DATABASE_URL", "PORT", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./analysis", cfg.Paths.WorkDir)
	assert.Equal(t, filepath.Join("./analysis", "cache"), cfg.Paths.CacheDir)
	assert.Equal(t, "index.html", cfg.Paths.ReportFile)
	assert.Equal(t, "theta", cfg.Engine.Binary)
	assert.Equal(t, []string{"--redirect-io=false"}, cfg.Engine.Args)
	assert.Equal(t, 1, cfg.Engine.Parallelism)
	assert.Equal(t, []string{"$THETA_DIR/lib/core-plugins.so"}, cfg.Engine.PluginFiles)
	assert.Zero(t, cfg.Engine.Timeout)
	assert.Equal(t, "sqlite", cfg.Results.Driver)
	assert.False(t, cfg.Archive.Enabled())
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestSetWorkDir(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Paths.SetWorkDir("/data/other")
	assert.Equal(t, "/data/other", cfg.Paths.WorkDir)
	assert.Equal(t, filepath.Join("/data/other", "cache"), cfg.Paths.CacheDir)

	t.Setenv("THETA_CACHEDIR", "/scratch/cache")
	cfg, err = Load()
	require.NoError(t, err)
	cfg.Paths.SetWorkDir("/data/other")
	assert.Equal(t, "/data/other", cfg.Paths.WorkDir)
	assert.Equal(t, "/scratch/cache", cfg.Paths.CacheDir)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("THETA_WORKDIR", "/data/ana")
	t.Setenv("THETA_ARGS", "-q  --nice")
	t.Setenv("THETA_PARALLEL", "4")
	t.Setenv("THETA_PLUGINS", "a.so, b.so,")
	t.Setenv("THETA_TIMEOUT", "90s")
	t.Setenv("RESULTS_DRIVER", "postgres")
	t.Setenv("ARCHIVE_DATABASE_URL", "postgres://localhost/archive")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/ana/cache", cfg.Paths.CacheDir)
	assert.Equal(t, []string{"-q", "--nice"}, cfg.Engine.Args)
	assert.Equal(t, 4, cfg.Engine.Parallelism)
	assert.Equal(t, []string{"a.so", "b.so"}, cfg.Engine.PluginFiles)
	assert.Equal(t, 90*time.Second, cfg.Engine.Timeout)
	assert.Equal(t, "postgres", cfg.Results.Driver)
	assert.True(t, cfg.Archive.Enabled())
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string][2]string{
		"parallel zero":  {"THETA_PARALLEL", "0"},
		"parallel text":  {"THETA_PARALLEL", "many"},
		"bad timeout":    {"THETA_TIMEOUT", "soon"},
		"unknown driver": {"RESULTS_DRIVER", "mysql"},
		"blank workdir":  {"THETA_WORKDIR", "   "},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			require.Error(t, err)
			assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
		})
	}
}
