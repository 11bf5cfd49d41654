package action

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgdog/internal/backoff"
	"tgdog/internal/config"
	"tgdog/internal/logger"
	"tgdog/internal/plugin"
	"tgdog/internal/pool"
	"tgdog/internal/telegram"
)

type fakeConn struct {
	mu sync.Mutex

	sent          []string
	rateLimits    int // sends failing with a rate limit before success
	reply         string
	replyOK       bool
	messages      []telegram.Message
	dialogs       []telegram.Dialog
	downloadBytes []byte
}

func (c *fakeConn) Connect(ctx context.Context) error            { return nil }
func (c *fakeConn) Connected() bool                              { return true }
func (c *fakeConn) Authorized(ctx context.Context) (bool, error) { return true, nil }
func (c *fakeConn) Disconnect() error                            { return nil }

func (c *fakeConn) SendMessage(ctx context.Context, target, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rateLimits > 0 {
		c.rateLimits--
		return &backoff.RateLimitError{RetryAfter: time.Second}
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeConn) SendAndWait(ctx context.Context, target, text string, timeout time.Duration) (string, bool, error) {
	if err := c.SendMessage(ctx, target, text); err != nil {
		return "", false, err
	}
	return c.reply, c.replyOK, nil
}

func (c *fakeConn) Messages(target string, q telegram.MessageQuery) telegram.MessageIter {
	items := c.messages
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return &telegram.SliceMessageIter{Items: items}
}

func (c *fakeConn) Dialogs(limit int) telegram.DialogIter {
	return &telegram.SliceDialogIter{Items: c.dialogs}
}

func (c *fakeConn) Download(ctx context.Context, fileID string) ([]byte, error) {
	return c.downloadBytes, nil
}

type fakeDialer struct {
	conn *fakeConn
}

func (d *fakeDialer) Dial(profileKey string, profile config.Profile) telegram.Conn {
	return d.conn
}

func testDispatcher(t *testing.T, conn *fakeConn) *Dispatcher {
	t.Helper()
	cfg := &config.Config{
		DefaultProfile: "work",
		Profiles: map[string]config.Profile{
			"work": {APIID: 1, APIHash: "h", PhoneNumber: "+1"},
		},
		Daemon: config.DaemonConfig{
			Socket:     filepath.Join(t.TempDir(), "daemon.sock"),
			SessionDir: t.TempDir(),
		},
	}
	p := pool.New(cfg, &fakeDialer{conn: conn}, nil)
	t.Cleanup(p.Close)

	plugins := plugin.NewRegistry(t.TempDir(), filepath.Join(t.TempDir(), "plugins.json"), logger.NewNop())
	return New(cfg, p, backoff.New(0, nil), plugins, nil, logger.NewNop())
}

func TestDispatchSend(t *testing.T) {
	conn := &fakeConn{}
	d := testDispatcher(t, conn)

	result, err := d.Dispatch(context.Background(), Request{
		Action:  "send",
		Profile: "work",
		Target:  "@alice",
		Payload: map[string]any{"text": "hi"},
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "sent"}, result)
	assert.Equal(t, []string{"hi"}, conn.sent)
}

func TestDispatchSendAlias(t *testing.T) {
	conn := &fakeConn{}
	d := testDispatcher(t, conn)

	_, err := d.Dispatch(context.Background(), Request{
		Action:  "SEND_MSG",
		Target:  "@alice",
		Payload: map[string]any{"message": "legacy"},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"legacy"}, conn.sent)
}

func TestDispatchUnknownAction(t *testing.T) {
	d := testDispatcher(t, &fakeConn{})

	_, err := d.Dispatch(context.Background(), Request{Action: "bogus"})

	var actionErr *Error
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, "Unknown action_type 'bogus'", err.Error())
}

func TestDispatchValidation(t *testing.T) {
	d := testDispatcher(t, &fakeConn{})

	tests := []struct {
		name    string
		req     Request
		wantErr string
	}{
		{"send without target", Request{Action: "send", Payload: map[string]any{"text": "x"}}, "Missing target"},
		{"send without text", Request{Action: "send", Target: "@a"}, "send action requires payload.text"},
		{"interactive_send without text", Request{Action: "interactive_send", Target: "@a"}, "interactive_send requires payload.text"},
		{"download without target", Request{Action: "download"}, "Missing target"},
		{"list without target", Request{Action: "list"}, "Missing target"},
		{"export without target", Request{Action: "export"}, "Missing target"},
		{"plugin without name", Request{Action: "plugin"}, "plugin action requires payload.plugin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Dispatch(context.Background(), tt.req)
			var actionErr *Error
			require.ErrorAs(t, err, &actionErr)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestDispatchSendAbsorbsRateLimit(t *testing.T) {
	// One rate-limit signal with a suggested wait: the send must pause,
	// retry and produce exactly one delivered message.
	conn := &fakeConn{rateLimits: 1}
	d := testDispatcher(t, conn)

	start := time.Now()
	result, err := d.Dispatch(context.Background(), Request{
		Action:  "send",
		Target:  "@alice",
		Payload: map[string]any{"text": "hi"},
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "sent"}, result)
	assert.Equal(t, []string{"hi"}, conn.sent)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestDispatchList(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	conn := &fakeConn{messages: []telegram.Message{
		{ID: 2, Date: now, SenderID: 42, Text: "second\nline"},
		{ID: 1, Date: now.Add(-time.Hour), SenderID: 42, Text: "first"},
	}}
	d := testDispatcher(t, conn)

	result, err := d.Dispatch(context.Background(), Request{
		Action:  "list",
		Target:  "@alice",
		Payload: map[string]any{"limit": float64(10)},
	})

	require.NoError(t, err)
	messages := result.(map[string]any)["messages"].([]map[string]any)
	require.Len(t, messages, 2)
	assert.Equal(t, int64(2), messages[0]["id"])
	assert.Equal(t, "second line", messages[0]["snippet"])
	assert.Equal(t, "2026-08-24T12:00:00Z", messages[0]["date"])
}

func TestDispatchListDialogs(t *testing.T) {
	conn := &fakeConn{dialogs: []telegram.Dialog{
		{ID: 7, Name: "Alice", Username: "alice", Kind: "user", Target: "@alice"},
	}}
	d := testDispatcher(t, conn)

	result, err := d.Dispatch(context.Background(), Request{Action: "dialogs"})

	require.NoError(t, err)
	dialogs := result.(map[string]any)["dialogs"].([]map[string]any)
	require.Len(t, dialogs, 1)
	assert.Equal(t, "@alice", dialogs[0]["target"])
	assert.Equal(t, "user", dialogs[0]["kind"])
}

func TestDispatchInteractiveSendWithoutReply(t *testing.T) {
	conn := &fakeConn{replyOK: false}
	d := testDispatcher(t, conn)

	result, err := d.Dispatch(context.Background(), Request{
		Action:  "interactive_send",
		Target:  "@alice",
		Payload: map[string]any{"text": "ready?", "timeout": float64(1)},
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"response_text": nil}, result)
}

func TestDispatchInteractiveSendWithReply(t *testing.T) {
	conn := &fakeConn{reply: "yes", replyOK: true}
	d := testDispatcher(t, conn)

	result, err := d.Dispatch(context.Background(), Request{
		Action:  "interactive_send",
		Target:  "@alice",
		Payload: map[string]any{"text": "ready?"},
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"response_text": "yes"}, result)
}

func TestDispatchDownloadFilters(t *testing.T) {
	dir := t.TempDir()
	conn := &fakeConn{
		downloadBytes: []byte("data"),
		messages: []telegram.Message{
			{ID: 1, File: &telegram.FileInfo{FileID: "f1", Name: "big.bin", Size: 5000, Kind: "document"}},
			{ID: 2, File: &telegram.FileInfo{FileID: "f2", Name: "small.bin", Size: 10, Kind: "document"}},
			{ID: 3}, // no media
		},
	}
	d := testDispatcher(t, conn)

	result, err := d.Dispatch(context.Background(), Request{
		Action: "download",
		Target: "@alice",
		Payload: map[string]any{
			"limit":      float64(10),
			"min_size":   float64(100),
			"output_dir": dir,
		},
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"downloaded": 1}, result)

	data, err := os.ReadFile(filepath.Join(dir, "big.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)
}

func TestHandleShapesErrors(t *testing.T) {
	d := testDispatcher(t, &fakeConn{})

	resp := d.Handle(context.Background(), Request{Action: "bogus"})
	assert.False(t, resp.OK)
	assert.Equal(t, "Unknown action_type 'bogus'", resp.Error)

	resp = d.Handle(context.Background(), Request{
		Action:  "send",
		Target:  "@alice",
		Payload: map[string]any{"text": "ok"},
	})
	assert.True(t, resp.OK)
	assert.Empty(t, resp.Error)
}
