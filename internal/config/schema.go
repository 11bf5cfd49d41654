// Package config provides configuration loading and validation for tgdog.
// It supports TOML and YAML configuration files with environment variable
// expansion, default values, and validation.
//
// Configuration structure:
//   - profiles: named Telegram account profiles (credentials + optional proxy)
//   - default_profile: profile used when a request names none
//   - daemon: socket path, session directory, optional metrics listener
//   - logging: level, format, and output
//   - backoff: rate-limit retry ceiling
//   - workers: bounded pool for local disk writes
//   - plugins: plugin directory and enable-state file
//   - tasks: cron-triggered scheduled actions
//
// Environment variables can be referenced as ${VAR} or ${VAR:default},
// for example: api_hash = "${TGDOG_API_HASH}".
package config

import "path/filepath"

// Config is the root of the application configuration.
type Config struct {
	// Top-level credential fallbacks merged into profiles that omit them.
	APIID   int64  `toml:"api_id" yaml:"api_id"`
	APIHash string `toml:"api_hash" yaml:"api_hash"`
	Proxy   string `toml:"proxy" yaml:"proxy"`

	DefaultProfile string             `toml:"default_profile" yaml:"default_profile"`
	Profiles       map[string]Profile `toml:"profiles" yaml:"profiles"`

	Daemon  DaemonConfig  `toml:"daemon" yaml:"daemon"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
	Backoff BackoffConfig `toml:"backoff" yaml:"backoff"`
	Workers WorkersConfig `toml:"workers" yaml:"workers"`
	Plugins PluginsConfig `toml:"plugins" yaml:"plugins"`

	Tasks []Task `toml:"tasks" yaml:"tasks"`
}

// Profile is one logical Telegram account. Resolved once at load time and
// immutable for the process lifetime.
type Profile struct {
	APIID       int64  `toml:"api_id" yaml:"api_id"`
	APIHash     string `toml:"api_hash" yaml:"api_hash"`
	PhoneNumber string `toml:"phone_number" yaml:"phone_number"`
	Proxy       string `toml:"proxy" yaml:"proxy"`
}

// DaemonConfig holds daemon socket and session settings.
type DaemonConfig struct {
	Socket      string `toml:"socket" yaml:"socket"`
	SessionDir  string `toml:"session_dir" yaml:"session_dir"`
	StateDir    string `toml:"state_dir" yaml:"state_dir"`
	MetricsAddr string `toml:"metrics_addr" yaml:"metrics_addr"`
}

// SchedulerStatePath locates the scheduler's last-fire state file inside
// the state directory.
func (d DaemonConfig) SchedulerStatePath() string {
	return filepath.Join(d.StateDir, "scheduler.json")
}

// LoggingConfig mirrors logger.Config.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
	Output string `toml:"output" yaml:"output"`
}

// BackoffConfig bounds rate-limit retries. Zero means retry forever.
type BackoffConfig struct {
	MaxRetries int `toml:"max_retries" yaml:"max_retries"`
}

// WorkersConfig sizes the disk-write worker pool.
type WorkersConfig struct {
	PoolSize  int `toml:"pool_size" yaml:"pool_size"`
	QueueSize int `toml:"queue_size" yaml:"queue_size"`
}

// PluginsConfig locates executable plugins and their enable-state file.
type PluginsConfig struct {
	Dir       string `toml:"dir" yaml:"dir"`
	StateFile string `toml:"state_file" yaml:"state_file"`
}

// Task is one cron-triggered scheduled action. Loaded once at startup and
// immutable thereafter.
type Task struct {
	TriggerTime string         `toml:"trigger_time" yaml:"trigger_time"`
	ActionType  string         `toml:"action_type" yaml:"action_type"`
	Target      string         `toml:"target" yaml:"target"`
	Payload     map[string]any `toml:"payload" yaml:"payload"`
	Profile     string         `toml:"profile" yaml:"profile"`
}
