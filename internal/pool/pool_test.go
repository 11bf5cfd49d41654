package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgdog/internal/config"
	"tgdog/internal/telegram"
)

type fakeConn struct {
	mu            sync.Mutex
	connected     bool
	authorized    bool
	connectCalls  int
	disconnectErr error
}

func (c *fakeConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectCalls++
	c.connected = true
	return nil
}

func (c *fakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) Authorized(ctx context.Context) (bool, error) {
	return c.authorized, nil
}

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return c.disconnectErr
}

func (c *fakeConn) SendMessage(ctx context.Context, target, text string) error { return nil }

func (c *fakeConn) SendAndWait(ctx context.Context, target, text string, timeout time.Duration) (string, bool, error) {
	return "", false, nil
}

func (c *fakeConn) Messages(target string, q telegram.MessageQuery) telegram.MessageIter {
	return &telegram.SliceMessageIter{}
}

func (c *fakeConn) Dialogs(limit int) telegram.DialogIter {
	return &telegram.SliceDialogIter{}
}

func (c *fakeConn) Download(ctx context.Context, fileID string) ([]byte, error) {
	return nil, nil
}

type fakeDialer struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
	dials int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(map[string]*fakeConn)}
}

func (d *fakeDialer) Dial(profileKey string, profile config.Profile) telegram.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	conn, ok := d.conns[profileKey]
	if !ok {
		conn = &fakeConn{authorized: true}
		d.conns[profileKey] = conn
	}
	return conn
}

func testConfig() *config.Config {
	return &config.Config{
		DefaultProfile: "work",
		Profiles: map[string]config.Profile{
			"work":     {APIID: 1, APIHash: "h", PhoneNumber: "+1"},
			"personal": {APIID: 2, APIHash: "h", PhoneNumber: "+2"},
		},
	}
}

func TestRunDialsOncePerProfile(t *testing.T) {
	dialer := newFakeDialer()
	p := New(testConfig(), dialer, nil)
	defer p.Close()

	for i := 0; i < 3; i++ {
		err := p.Run(context.Background(), "work", func(conn telegram.Conn) error { return nil })
		require.NoError(t, err)
	}

	assert.Equal(t, 1, dialer.dials)
	assert.Equal(t, 1, dialer.conns["work"].connectCalls)
}

func TestRunReconnectsDroppedConnection(t *testing.T) {
	dialer := newFakeDialer()
	p := New(testConfig(), dialer, nil)
	defer p.Close()

	require.NoError(t, p.Run(context.Background(), "work", func(conn telegram.Conn) error { return nil }))

	// Simulate a dropped connection between requests.
	dialer.conns["work"].Disconnect()

	require.NoError(t, p.Run(context.Background(), "work", func(conn telegram.Conn) error { return nil }))
	assert.Equal(t, 2, dialer.conns["work"].connectCalls)
	assert.Equal(t, 1, dialer.dials)
}

func TestRunRejectsUnauthorizedProfile(t *testing.T) {
	dialer := newFakeDialer()
	dialer.conns["work"] = &fakeConn{authorized: false}
	p := New(testConfig(), dialer, nil)
	defer p.Close()

	err := p.Run(context.Background(), "work", func(conn telegram.Conn) error {
		t.Fatal("operation must not run for an unauthorized profile")
		return nil
	})

	var notAuth *ErrNotAuthorized
	require.ErrorAs(t, err, &notAuth)
	assert.Equal(t, "work", notAuth.Profile)
}

func TestRunEmptyProfileUsesDefault(t *testing.T) {
	dialer := newFakeDialer()
	p := New(testConfig(), dialer, nil)
	defer p.Close()

	require.NoError(t, p.Run(context.Background(), "", func(conn telegram.Conn) error { return nil }))
	assert.Contains(t, dialer.conns, "work")
}

type window struct {
	start, end time.Time
}

// runWindows submits concurrent operations and records each one's
// execution window.
func runWindows(t *testing.T, p *Pool, profiles []string, hold time.Duration) []window {
	t.Helper()
	var mu sync.Mutex
	windows := make([]window, 0, len(profiles))

	var wg sync.WaitGroup
	for _, profile := range profiles {
		wg.Add(1)
		go func(profile string) {
			defer wg.Done()
			err := p.Run(context.Background(), profile, func(conn telegram.Conn) error {
				w := window{start: time.Now()}
				time.Sleep(hold)
				w.end = time.Now()
				mu.Lock()
				windows = append(windows, w)
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}(profile)
	}
	wg.Wait()
	return windows
}

func overlaps(a, b window) bool {
	return a.start.Before(b.end) && b.start.Before(a.end)
}

func TestSameProfileOperationsNeverOverlap(t *testing.T) {
	p := New(testConfig(), newFakeDialer(), nil)
	defer p.Close()

	windows := runWindows(t, p, []string{"work", "work"}, 100*time.Millisecond)

	require.Len(t, windows, 2)
	assert.False(t, overlaps(windows[0], windows[1]),
		"second operation started before the first finished")
}

func TestDifferentProfilesRunConcurrently(t *testing.T) {
	p := New(testConfig(), newFakeDialer(), nil)
	defer p.Close()

	windows := runWindows(t, p, []string{"work", "personal"}, 150*time.Millisecond)

	require.Len(t, windows, 2)
	assert.True(t, overlaps(windows[0], windows[1]),
		"operations for different profiles were serialized")
}

func TestCloseSwallowsDisconnectErrors(t *testing.T) {
	dialer := newFakeDialer()
	dialer.conns["work"] = &fakeConn{authorized: true, disconnectErr: errors.New("flaky")}
	p := New(testConfig(), dialer, nil)

	require.NoError(t, p.Run(context.Background(), "work", func(conn telegram.Conn) error { return nil }))
	require.NoError(t, p.Run(context.Background(), "personal", func(conn telegram.Conn) error { return nil }))

	// One bad connection must not block teardown of the rest.
	p.Close()
	assert.False(t, dialer.conns["personal"].Connected())
}

func TestRunAfterCloseFails(t *testing.T) {
	p := New(testConfig(), newFakeDialer(), nil)
	p.Close()

	err := p.Run(context.Background(), "work", func(conn telegram.Conn) error { return nil })
	assert.Error(t, err)
}

func TestRunUnknownProfileFails(t *testing.T) {
	p := New(testConfig(), newFakeDialer(), nil)
	defer p.Close()

	err := p.Run(context.Background(), "ghost", func(conn telegram.Conn) error { return nil })
	assert.Error(t, err)
}
