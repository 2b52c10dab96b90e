package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// SuppressionWindowMs is how long a just-deactivated capability is forced
	// absent from the presented state, regardless of what the remote reports.
	SuppressionWindowMs int `json:"suppression_window_ms"`

	// SyncCooldownMs is the minimum spacing between remote-mutating sync actions.
	SyncCooldownMs int `json:"sync_cooldown_ms"`

	// PollInterval is the refresh schedule for watched assistants, in
	// robfig/cron "@every" duration syntax (e.g. "15s"). Empty disables polling.
	PollInterval string `json:"poll_interval,omitempty"`

	// RetryMaxAttempts bounds attempts per remote call (1 = no retry).
	RetryMaxAttempts int `json:"retry_max_attempts"`

	// RetryInitialBackoffMs is the wait before the second attempt; it doubles
	// per attempt up to RetryMaxBackoffMs.
	RetryInitialBackoffMs int `json:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs     int `json:"retry_max_backoff_ms"`

	// RemoteBaseURL points at the remote platform adapter. Empty selects the
	// in-memory remote (useful for local demos only).
	RemoteBaseURL string `json:"remote_base_url,omitempty"`

	// RemoteTimeoutMs is the per-request HTTP timeout for the remote adapter.
	RemoteTimeoutMs int `json:"remote_timeout_ms"`

	// WatchedAssistants are polled on PollInterval.
	WatchedAssistants []string `json:"watched_assistants,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of type names to disable entirely.
	// Known types: "capability", "link", "notice".
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SuppressionWindowMs:   30000,
		SyncCooldownMs:        5000,
		PollInterval:          "15s",
		RetryMaxAttempts:      3,
		RetryInitialBackoffMs: 500,
		RetryMaxBackoffMs:     4000,
		RemoteTimeoutMs:       10000,
	}
}

// SuppressionWindow returns the suppression duration.
func (c *Config) SuppressionWindow() time.Duration {
	return time.Duration(c.SuppressionWindowMs) * time.Millisecond
}

// SyncCooldown returns the mutation cooldown.
func (c *Config) SyncCooldown() time.Duration {
	return time.Duration(c.SyncCooldownMs) * time.Millisecond
}

// RemoteTimeout returns the remote HTTP timeout.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.RemoteTimeoutMs) * time.Millisecond
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.switchboard.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.switchboard) and repo (.switchboard) directories.
// Repo config is found by walking upward from startDir to find the nearest .switchboard/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	// Apply defaults, then global, then repo
	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .switchboard/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".switchboard", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		SuppressionWindowMs:   pickInt(overlay.SuppressionWindowMs, base.SuppressionWindowMs),
		SyncCooldownMs:        pickInt(overlay.SyncCooldownMs, base.SyncCooldownMs),
		RetryMaxAttempts:      pickInt(overlay.RetryMaxAttempts, base.RetryMaxAttempts),
		RetryInitialBackoffMs: pickInt(overlay.RetryInitialBackoffMs, base.RetryInitialBackoffMs),
		RetryMaxBackoffMs:     pickInt(overlay.RetryMaxBackoffMs, base.RetryMaxBackoffMs),
		RemoteTimeoutMs:       pickInt(overlay.RemoteTimeoutMs, base.RemoteTimeoutMs),
		DBMaxOpenConns:        pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:        pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
		PollInterval:          pickString(overlay.PollInterval, base.PollInterval),
		RemoteBaseURL:         pickString(overlay.RemoteBaseURL, base.RemoteBaseURL),
	}

	// Arrays: merge and deduplicate
	result.WatchedAssistants = mergeStringSlice(base.WatchedAssistants, overlay.WatchedAssistants)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

// pickInt returns overlay if non-zero, else base.
func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// pickString returns overlay if non-blank, else base.
func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return strings.TrimSpace(overlay)
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
