package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load reads, expands and decodes the configuration file at path. The
// decoder is chosen by extension: .toml uses TOML, .yaml/.yml use YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnv(string(data))

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Validate checks the configuration and returns all problems found.
func (c *Config) Validate() []error {
	var errs []error

	if len(c.Profiles) == 0 {
		errs = append(errs, fmt.Errorf("config must contain a non-empty 'profiles' mapping"))
	}

	if c.DefaultProfile != "" {
		if _, ok := c.Profiles[c.DefaultProfile]; !ok {
			errs = append(errs, fmt.Errorf("'default_profile' does not match any profile in config"))
		}
	}

	for name := range c.Profiles {
		merged := c.mergedProfile(c.Profiles[name])
		if err := validateProfile(name, merged); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Daemon.Socket == "" {
		errs = append(errs, fmt.Errorf("daemon.socket is required"))
	}

	if c.Logging.Level != "" {
		valid := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !valid[strings.ToLower(c.Logging.Level)] {
			errs = append(errs, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
		}
	}
	if c.Logging.Format != "" {
		valid := map[string]bool{"json": true, "text": true}
		if !valid[strings.ToLower(c.Logging.Format)] {
			errs = append(errs, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
		}
	}

	if c.Backoff.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("backoff.max_retries cannot be negative"))
	}
	if c.Workers.PoolSize < 0 || c.Workers.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("workers pool_size and queue_size cannot be negative"))
	}

	return errs
}

func validateProfile(name string, p Profile) error {
	if p.APIID <= 0 {
		return fmt.Errorf("profile '%s' has invalid 'api_id'", name)
	}
	if strings.TrimSpace(p.APIHash) == "" {
		return fmt.Errorf("profile '%s' has invalid 'api_hash'", name)
	}
	if strings.TrimSpace(p.PhoneNumber) == "" {
		return fmt.Errorf("profile '%s' has invalid 'phone_number'", name)
	}
	return nil
}

// ResolveProfile picks a profile by name, falling back to default_profile
// and then to the first configured profile. Top-level api_id/api_hash/proxy
// are merged into profiles that omit them.
func (c *Config) ResolveProfile(name string) (string, Profile, error) {
	if len(c.Profiles) == 0 {
		return "", Profile{}, fmt.Errorf("config must contain a non-empty 'profiles' mapping")
	}

	if name != "" {
		p, ok := c.Profiles[name]
		if !ok {
			return "", Profile{}, fmt.Errorf("profile '%s' not found in config", name)
		}
		return c.finishResolve(name, p)
	}

	if c.DefaultProfile != "" {
		p, ok := c.Profiles[c.DefaultProfile]
		if !ok {
			return "", Profile{}, fmt.Errorf("'default_profile' does not match any profile in config")
		}
		return c.finishResolve(c.DefaultProfile, p)
	}

	first := firstProfileName(c.Profiles)
	return c.finishResolve(first, c.Profiles[first])
}

func (c *Config) finishResolve(name string, p Profile) (string, Profile, error) {
	merged := c.mergedProfile(p)
	if err := validateProfile(name, merged); err != nil {
		return "", Profile{}, err
	}
	return name, merged, nil
}

func (c *Config) mergedProfile(p Profile) Profile {
	if p.APIID == 0 {
		p.APIID = c.APIID
	}
	if p.APIHash == "" {
		p.APIHash = c.APIHash
	}
	if p.Proxy == "" {
		p.Proxy = c.Proxy
	}
	return p
}

// firstProfileName returns the lexicographically smallest profile name so
// the fallback profile is stable across runs (Go map order is not).
func firstProfileName(profiles map[string]Profile) string {
	var first string
	for name := range profiles {
		if first == "" || name < first {
			first = name
		}
	}
	return first
}
