package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgdog/internal/action"
	"tgdog/internal/config"
	"tgdog/internal/ipc"
)

func testDaemonConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DefaultProfile: "work",
		Profiles: map[string]config.Profile{
			"work": {APIID: 1, APIHash: "h", PhoneNumber: "+1"},
		},
		Daemon: config.DaemonConfig{
			Socket:     filepath.Join(dir, "daemon.sock"),
			SessionDir: filepath.Join(dir, "sessions"),
			StateDir:   filepath.Join(dir, "data"),
		},
		Plugins: config.PluginsConfig{
			Dir:       filepath.Join(dir, "plugins"),
			StateFile: filepath.Join(dir, "data", "plugins.json"),
		},
	}
}

func startDaemon(t *testing.T, cfg *config.Config) (*Daemon, context.CancelFunc, chan error) {
	t.Helper()
	d := New(cfg, nil)
	d.Registry = prometheus.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx); close(done) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop within deadline")
		}
	})
	return d, cancel, done
}

func TestDaemonAnswersPing(t *testing.T) {
	cfg := testDaemonConfig(t)
	d, _, _ := startDaemon(t, cfg)

	require.Eventually(t, func() bool {
		return ipc.Reachable(cfg.Daemon.Socket, time.Second)
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, StateRunning, d.State())

	resp, err := ipc.Request(cfg.Daemon.Socket, action.Request{Action: "ping"}, time.Second)
	require.NoError(t, err)
	assert.True(t, resp.OK)
}

func TestDaemonShutdownRemovesSocket(t *testing.T) {
	cfg := testDaemonConfig(t)
	d, cancel, done := startDaemon(t, cfg)

	require.Eventually(t, func() bool {
		return ipc.Reachable(cfg.Daemon.Socket, time.Second)
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, StateStopped, d.State())
	_, err := os.Stat(cfg.Daemon.Socket)
	assert.True(t, os.IsNotExist(err))
}

func TestSecondDaemonAborts(t *testing.T) {
	cfg := testDaemonConfig(t)
	startDaemon(t, cfg)

	require.Eventually(t, func() bool {
		return ipc.Reachable(cfg.Daemon.Socket, time.Second)
	}, 5*time.Second, 20*time.Millisecond)

	second := New(cfg, nil)
	second.Registry = prometheus.NewRegistry()

	err := second.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestDaemonReplacesStaleSocket(t *testing.T) {
	cfg := testDaemonConfig(t)

	// Leave an orphaned socket file behind, as a crashed predecessor would.
	listener, err := net.Listen("unix", cfg.Daemon.Socket)
	require.NoError(t, err)
	listener.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, listener.Close())
	_, err = os.Stat(cfg.Daemon.Socket)
	require.NoError(t, err)

	startDaemon(t, cfg)

	assert.Eventually(t, func() bool {
		return ipc.Reachable(cfg.Daemon.Socket, time.Second)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDaemonRejectsUnknownAction(t *testing.T) {
	cfg := testDaemonConfig(t)
	startDaemon(t, cfg)

	require.Eventually(t, func() bool {
		return ipc.Reachable(cfg.Daemon.Socket, time.Second)
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := ipc.Request(cfg.Daemon.Socket, action.Request{Action: "bogus"}, time.Second)
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Equal(t, "Unknown action_type 'bogus'", resp.Error)
}
