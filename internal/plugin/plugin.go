// Package plugin runs external plugin executables. A plugin lives in its
// own directory under the plugins root as an executable named "plugin";
// the registry tracks each executable's modification time and logs a
// reload when it changes on disk.
//
// Two calling modes exist. Code mode feeds the invocation context to the
// plugin as JSON on stdin and parses its stdout as a JSON result. CLI mode
// hands the plugin the daemon's own stdio and passes the context through
// environment variables.
package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"tgdog/internal/config"
	"tgdog/internal/logger"
)

const executableName = "plugin"

// Error is a plugin-level failure surfaced to the caller as a business
// error. It never crashes the daemon.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

func errorf(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// Context is the invocation context handed to a plugin.
type Context struct {
	ProfileName string         `json:"profile_name"`
	Profile     config.Profile `json:"profile"`
	SessionDir  string         `json:"session_dir"`
	SocketPath  string         `json:"socket_path"`
	Args        []string       `json:"args"`
}

type cacheEntry struct {
	path    string
	modTime time.Time
}

// Registry locates, gates and executes plugins.
type Registry struct {
	root      string
	statePath string
	logger    *logger.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewRegistry builds a registry over root, persisting enable state at
// statePath.
func NewRegistry(root, statePath string, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	return &Registry{
		root:      root,
		statePath: statePath,
		logger:    log,
		cache:     make(map[string]cacheEntry),
	}
}

// List returns the names of every installed plugin, sorted.
func (r *Registry) List() []string {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.root, entry.Name(), executableName)); err == nil {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names
}

// resolve locates the plugin executable, refreshing the cached handle when
// the file changed on disk.
func (r *Registry) resolve(name string) (string, error) {
	path := filepath.Join(r.root, name, executableName)
	info, err := os.Stat(path)
	if err != nil {
		return "", errorf("Plugin '%s' not found in %s", name, r.root)
	}
	if info.Mode()&0o111 == 0 {
		return "", errorf("Plugin '%s' is not executable", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cached, ok := r.cache[name]
	if ok && !cached.modTime.Equal(info.ModTime()) {
		r.logger.Info("plugin changed on disk, reloading",
			logger.Field{Key: "plugin", Value: name})
	}
	r.cache[name] = cacheEntry{path: path, modTime: info.ModTime()}
	return path, nil
}

// RunCode executes the plugin in code mode and returns its decoded stdout.
// Output that is not valid JSON is returned as a raw string.
func (r *Registry) RunCode(ctx context.Context, name string, pctx Context, args []string) (any, error) {
	if !r.Enabled(name) {
		return nil, errorf("Plugin '%s' is disabled", name)
	}
	path, err := r.resolve(name)
	if err != nil {
		return nil, err
	}

	pctx.Args = args
	input, err := json.Marshal(pctx)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plugin context: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Env = append(os.Environ(), r.contextEnv(pctx)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, errorf("Plugin '%s' failed: %s", name, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, errorf("Plugin '%s' failed: %v", name, err)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(out, &decoded); err != nil {
		return string(out), nil
	}
	return decoded, nil
}

// RunCLI executes the plugin with the caller's stdio attached.
func (r *Registry) RunCLI(ctx context.Context, name string, pctx Context, args []string) error {
	if !r.Enabled(name) {
		return errorf("Plugin '%s' is disabled", name)
	}
	path, err := r.resolve(name)
	if err != nil {
		return err
	}

	pctx.Args = args
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), r.contextEnv(pctx)...)

	if err := cmd.Run(); err != nil {
		return errorf("Plugin '%s' failed: %v", name, err)
	}
	return nil
}

func (r *Registry) contextEnv(pctx Context) []string {
	return []string{
		"TGDOG_PROFILE=" + pctx.ProfileName,
		"TGDOG_SESSION_DIR=" + pctx.SessionDir,
		"TGDOG_SOCKET=" + pctx.SocketPath,
	}
}
