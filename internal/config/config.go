// Package config loads annexmig settings from ANNEXMIG_* environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix shared by every environment variable read here.
	EnvPrefix = "ANNEXMIG_"

	defaultGitBinary   = "git"
	defaultRenameLimit = 10000
	defaultCacheFile   = "unused-cache.db"
	defaultAuthorName  = "annexmig"
	defaultAuthorEmail = "annexmig@localhost"
)

// LogFormat represents the log output format.
type LogFormat string

const (
	// LogFormatText is the human-readable text format (default).
	LogFormatText LogFormat = "text"
	// LogFormatJSON is the JSON-formatted structured logs.
	LogFormatJSON LogFormat = "json"
)

// Config holds process-wide settings.
type Config struct {
	// GitBinary is the git executable used for every subprocess (ANNEXMIG_GIT_BIN).
	GitBinary string `koanf:"git_bin"`
	// LogFormat selects the slog handler (ANNEXMIG_LOG_FORMAT).
	LogFormat LogFormat `koanf:"log_format"`
	// AuthorName and AuthorEmail are used for commits when the repository has no user configured.
	AuthorName  string `koanf:"git_user"`
	AuthorEmail string `koanf:"git_email"`
	// RenameLimit widens git's rename detection when a history search reports it was skipped.
	RenameLimit int `koanf:"rename_limit"`
	// CacheFile is the unused cache file name, created under <gitdir>/annex/.
	CacheFile string `koanf:"cache_file"`
}

// Default returns the configuration used when no variable is set.
func Default() *Config {
	return &Config{
		GitBinary:   defaultGitBinary,
		LogFormat:   LogFormatText,
		AuthorName:  defaultAuthorName,
		AuthorEmail: defaultAuthorEmail,
		RenameLimit: defaultRenameLimit,
		CacheFile:   defaultCacheFile,
	}
}

// Load reads the environment on top of the defaults.
func Load() (*Config, error) {
	konfig := koanf.New(".")

	provider := env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
		},
	})
	if err := konfig.Load(provider, nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := konfig.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.LogFormat = LogFormat(strings.ToLower(string(cfg.LogFormat)))
	if cfg.GitBinary == "" {
		cfg.GitBinary = defaultGitBinary
	}
	if cfg.RenameLimit <= 0 {
		cfg.RenameLimit = defaultRenameLimit
	}
	if cfg.CacheFile == "" {
		cfg.CacheFile = defaultCacheFile
	}

	return cfg, nil
}

// ValidLogFormat reports whether the configured log format is known.
func (c *Config) ValidLogFormat() bool {
	return c.LogFormat == LogFormatText || c.LogFormat == LogFormatJSON
}
