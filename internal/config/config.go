package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"thetaauto/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Paths   PathConfig
	Engine  EngineConfig
	Results ResultsConfig
	Archive ArchiveConfig
	Server  ServerConfig
	Log     LogConfig
}

// PathConfig holds file system paths
type PathConfig struct {
	WorkDir    string
	CacheDir   string
	ReportFile string

	cacheDirSet bool
}

// SetWorkDir replaces the work directory. The cache directory follows it
// unless THETA_CACHEDIR was given.
func (p *PathConfig) SetWorkDir(dir string) {
	p.WorkDir = dir
	if !p.cacheDirSet {
		p.CacheDir = filepath.Join(dir, "cache")
	}
}

// EngineConfig holds settings of the external engine executable
type EngineConfig struct {
	Binary      string
	Args        []string
	Parallelism int
	PluginFiles []string
	// Timeout bounds a single run; zero means no limit
	Timeout time.Duration
}

// ResultsConfig selects the driver used to read result databases
type ResultsConfig struct {
	Driver string
}

// ArchiveConfig enables the summary archive when URL is set
type ArchiveConfig struct {
	URL string
}

// Enabled reports whether summaries are archived
func (a ArchiveConfig) Enabled() bool { return a.URL != "" }

// ServerConfig holds web server settings
type ServerConfig struct {
	Port string
}

// LogConfig holds the log level name
type LogConfig struct {
	Level string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Paths:   loadPathConfig(),
		Engine:  loadEngineConfig(),
		Results: ResultsConfig{Driver: getEnvOrDefault("RESULTS_DRIVER", "sqlite")},
		Archive: ArchiveConfig{URL: os.Getenv("ARCHIVE_DATABASE_URL")},
		Server:  ServerConfig{Port: getEnvOrDefault("PORT", "8080")},
		Log:     LogConfig{Level: getEnvOrDefault("LOG_LEVEL", "INFO")},
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

func loadPathConfig() PathConfig {
	workDir := getEnvOrDefault("THETA_WORKDIR", "./analysis")
	return PathConfig{
		WorkDir:     workDir,
		CacheDir:    getEnvOrDefault("THETA_CACHEDIR", filepath.Join(workDir, "cache")),
		ReportFile:  getEnvOrDefault("REPORT_FILE", "index.html"),
		cacheDirSet: os.Getenv("THETA_CACHEDIR") != "",
	}
}

func loadEngineConfig() EngineConfig {
	return EngineConfig{
		Binary:      getEnvOrDefault("THETA_BIN", "theta"),
		Args:        strings.Fields(getEnvOrDefault("THETA_ARGS", "--redirect-io=false")),
		Parallelism: getEnvIntOrDefault("THETA_PARALLEL", 1),
		PluginFiles: splitList(getEnvOrDefault("THETA_PLUGINS", "$THETA_DIR/lib/core-plugins.so")),
		Timeout:     getEnvDurationOrDefault("THETA_TIMEOUT", 0),
	}
}

func validateConfig(config *Config) error {
	if strings.TrimSpace(config.Paths.WorkDir) == "" {
		return errors.ConfigInvalid("work directory is required")
	}
	if config.Engine.Binary == "" {
		return errors.ConfigInvalid("engine binary is required")
	}
	if config.Engine.Parallelism < 1 {
		return errors.ConfigInvalid("THETA_PARALLEL must be at least 1")
	}
	if config.Engine.Timeout < 0 {
		return errors.ConfigInvalid("THETA_TIMEOUT must not be negative")
	}
	switch config.Results.Driver {
	case "sqlite", "postgres":
	default:
		return errors.ConfigInvalid("unknown RESULTS_DRIVER '" + config.Results.Driver + "'")
	}
	return nil
}

// splitList splits a comma separated list, dropping empty entries
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault keeps malformed values visible to validation as -1
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.Atoi(value)
		if err != nil {
			return -1
		}
		return intValue
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return -1
		}
		return duration
	}
	return defaultValue
}
