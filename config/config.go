// Package config loads and persists claude-in-a-box's application-level
// configuration, distinct from the per-session state kept by the
// persistence store.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/log"
)

const (
	ConfigFileName = "config.json"
	defaultProgram = "claude"

	// MultiplexerTag prefixes every multiplexer session name this tool
	// creates, so listing can be filtered to sessions we own.
	MultiplexerTag = "ciab_"
)

// GetConfigDir returns the path to claude-in-a-box's configuration directory.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config home directory: %w", err)
	}
	return filepath.Join(homeDir, ".claude-in-a-box"), nil
}

// GetWorktreesDir returns the root directory under which the worktree store
// keeps its by-session/by-name dual lookup.
func GetWorktreesDir() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "worktrees"), nil
}

// GetSessionsDir returns the directory holding one JSON file per persisted
// session.
func GetSessionsDir() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sessions"), nil
}

// GetLogsDir returns the directory holding rotating run logs.
func GetLogsDir() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// Config represents the application-level configuration.
type Config struct {
	// DefaultProgram is the program launched in new Interactive-mode sessions.
	DefaultProgram string `json:"default_program"`
	// BranchPrefix is the configured branch-name prefix. No component reads
	// it: a session's branch is the name given in its create request.
	BranchPrefix string `json:"branch_prefix"`
	// PassthroughEnv lists host environment variables forwarded into new
	// sessions in addition to the caller-supplied env map.
	PassthroughEnv []string `json:"passthrough_env"`
	// PreviewIntervalMillis is the Preview Service's capture tick.
	PreviewIntervalMillis int `json:"preview_interval_millis"`
	// LogRingBufferSize is the configured size of the UI's log ring buffer.
	// No component reads it: the UI has no log view and discards every
	// LogEntry it drains.
	LogRingBufferSize int `json:"log_ring_buffer_size"`
	// GlobalSessionLimit is the configured maximum session count. No
	// component reads it: the registry holds any number of sessions.
	GlobalSessionLimit int `json:"global_session_limit"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultProgram: defaultProgram,
		BranchPrefix: func() string {
			u, err := user.Current()
			if err != nil || u == nil || u.Username == "" {
				log.ErrorLog.Printf("failed to get current user: %v", err)
				return "claude/"
			}
			return fmt.Sprintf("claude/%s/", strings.ToLower(sanitizeUsername(u.Username)))
		}(),
		PassthroughEnv:        []string{"HOME", "PATH", "TERM"},
		PreviewIntervalMillis: 1000,
		LogRingBufferSize:     20000,
		GlobalSessionLimit:    100,
	}
}

func sanitizeUsername(u string) string {
	// Windows domain usernames look like DOMAIN\user; keep only the account part.
	if idx := strings.LastIndexByte(u, '\\'); idx >= 0 {
		return u[idx+1:]
	}
	return u
}

// LoadConfig reads the configuration from disk, writing and returning
// defaults on first run, and falling back to defaults (after backing up the
// unreadable file) on a parse error.
func LoadConfig() *Config {
	configDir, err := GetConfigDir()
	if err != nil {
		log.ErrorLog.Printf("failed to get config directory: %v", err)
		return DefaultConfig()
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			defaultCfg := DefaultConfig()
			if saveErr := SaveConfig(defaultCfg); saveErr != nil {
				log.WarningLog.Printf("failed to save default config: %v", saveErr)
			}
			return defaultCfg
		}
		log.WarningLog.Printf("failed to read config file: %v", err)
		return DefaultConfig()
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.ErrorLog.Printf("failed to parse config file at %s: %v", configPath, err)
		backupPath := configPath + ".corrupt." + time.Now().Format("20060102-150405")
		if backupErr := os.WriteFile(backupPath, data, 0644); backupErr == nil {
			log.InfoLog.Printf("backed up corrupted config to: %s", backupPath)
		}
		return DefaultConfig()
	}

	return &cfg
}

// SaveConfig writes the configuration to disk.
func SaveConfig(cfg *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(configPath, data, 0644)
}
