package config

import "path/filepath"

// Defaults applied after decoding, before validation.
const (
	DefaultSocket     = "daemon.sock"
	DefaultSessionDir = "sessions"
	DefaultStateDir   = "data"
	DefaultPluginsDir = "plugins"

	DefaultWorkerPoolSize  = 4
	DefaultWorkerQueueSize = 64
)

func applyDefaults(cfg *Config) {
	if cfg.Daemon.Socket == "" {
		cfg.Daemon.Socket = DefaultSocket
	}
	if cfg.Daemon.SessionDir == "" {
		cfg.Daemon.SessionDir = DefaultSessionDir
	}
	if cfg.Daemon.StateDir == "" {
		cfg.Daemon.StateDir = DefaultStateDir
	}
	if cfg.Plugins.Dir == "" {
		cfg.Plugins.Dir = DefaultPluginsDir
	}
	if cfg.Plugins.StateFile == "" {
		cfg.Plugins.StateFile = filepath.Join(cfg.Daemon.StateDir, "plugins.json")
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Workers.PoolSize == 0 {
		cfg.Workers.PoolSize = DefaultWorkerPoolSize
	}
	if cfg.Workers.QueueSize == 0 {
		cfg.Workers.QueueSize = DefaultWorkerQueueSize
	}
}
