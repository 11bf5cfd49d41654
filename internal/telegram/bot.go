package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	telegoapi "github.com/mymmrac/telego/telegoapi"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpproxy"

	"tgdog/internal/backoff"
	"tgdog/internal/config"
	"tgdog/internal/logger"
)

const (
	longPollTimeout = 30 // seconds, passed to getUpdates
	historyPerChat  = 500
	dialTimeout     = 10 * time.Second
)

// BotDialer builds Telego-backed connections. Session metadata is kept
// under SessionDir, one file per profile key.
type BotDialer struct {
	SessionDir string
	Logger     *logger.Logger
}

// NewBotDialer returns a dialer writing sessions below sessionDir.
func NewBotDialer(sessionDir string, log *logger.Logger) *BotDialer {
	if log == nil {
		log = logger.NewNop()
	}
	return &BotDialer{SessionDir: sessionDir, Logger: log}
}

// Dial implements Dialer. The returned Conn is not yet connected.
func (d *BotDialer) Dial(profileKey string, profile config.Profile) Conn {
	return &botConn{
		profileKey:  profileKey,
		profile:     profile,
		sessionPath: filepath.Join(d.SessionDir, profileKey+".session.json"),
		logger:      d.Logger.With(logger.Field{Key: "profile", Value: profileKey}),
		waiters:     make(map[string]chan string),
	}
}

// session is the durable authorization state written after a successful
// non-interactive authorization check.
type session struct {
	BotID        int64     `json:"bot_id"`
	Username     string    `json:"username"`
	AuthorizedAt time.Time `json:"authorized_at"`
}

// botConn drives one profile through the Bot API.
//
// The Bot API exposes no history fetch, so listings are served from an
// update log accumulated over the connection's lifetime: a long-polling
// pump appends every incoming message to a per-chat ring and records the
// chats it has seen as dialogs.
type botConn struct {
	profileKey  string
	profile     config.Profile
	sessionPath string
	logger      *logger.Logger

	mu        sync.Mutex
	bot       *telego.Bot
	self      *telego.User
	connected bool
	cancel    context.CancelFunc

	history *updateLog
	waiters map[string]chan string // chat key -> pending reply waiter
}

func (c *botConn) token() string {
	return fmt.Sprintf("%d:%s", c.profile.APIID, c.profile.APIHash)
}

// Connect builds the underlying bot client, verifies the token and starts
// the update pump.
func (c *botConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	opts := []telego.BotOption{telego.WithDiscardLogger()}
	if c.profile.Proxy != "" {
		opts = append(opts, telego.WithFastHTTPClient(&fasthttp.Client{
			Dial: fasthttpproxy.FasthttpHTTPDialerTimeout(c.profile.Proxy, dialTimeout),
		}))
	}

	bot, err := telego.NewBot(c.token(), opts...)
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	updates, err := bot.UpdatesViaLongPolling(pumpCtx, &telego.GetUpdatesParams{
		Timeout: longPollTimeout,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start update polling: %w", rateLimited(err))
	}

	c.bot = bot
	c.cancel = cancel
	c.connected = true
	if c.history == nil {
		c.history = newUpdateLog(historyPerChat)
	}
	go c.pump(pumpCtx, updates)

	c.logger.Debug("connected")
	return nil
}

// Connected implements Conn.
func (c *botConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Authorized checks that the stored credentials work without interaction
// and refreshes the session file on success. A 401 from the API means the
// session cannot authorize; any other failure is reported as an error.
func (c *botConn) Authorized(ctx context.Context) (bool, error) {
	c.mu.Lock()
	bot := c.bot
	c.mu.Unlock()
	if bot == nil {
		return false, fmt.Errorf("not connected")
	}

	self, err := bot.GetMe(ctx)
	if err != nil {
		var apiErr *telegoapi.Error
		if errors.As(err, &apiErr) && apiErr.ErrorCode == 401 {
			return false, nil
		}
		return false, rateLimited(err)
	}

	c.mu.Lock()
	c.self = self
	c.mu.Unlock()

	if err := c.writeSession(self); err != nil {
		c.logger.Warn("failed to write session file",
			logger.Field{Key: "path", Value: c.sessionPath},
			logger.Field{Key: "error", Value: err})
	}
	return true, nil
}

func (c *botConn) writeSession(self *telego.User) error {
	if err := os.MkdirAll(filepath.Dir(c.sessionPath), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(session{
		BotID:        self.ID,
		Username:     self.Username,
		AuthorizedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(c.sessionPath, data, 0o600)
}

// Disconnect stops the update pump and drops the client.
func (c *botConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.cancel()
	c.bot = nil
	c.cancel = nil
	c.connected = false
	c.logger.Debug("disconnected")
	return nil
}

// SendMessage implements Conn.
func (c *botConn) SendMessage(ctx context.Context, target, text string) error {
	bot, err := c.client()
	if err != nil {
		return err
	}
	chatID, err := ParseTarget(target)
	if err != nil {
		return err
	}
	_, err = bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	return rateLimited(err)
}

// SendAndWait sends text and blocks until the target chat produces a
// message or the timeout expires.
func (c *botConn) SendAndWait(ctx context.Context, target, text string, timeout time.Duration) (string, bool, error) {
	key, err := chatKey(target)
	if err != nil {
		return "", false, err
	}

	replyCh := make(chan string, 1)
	c.mu.Lock()
	c.waiters[key] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, key)
		c.mu.Unlock()
	}()

	if err := c.SendMessage(ctx, target, text); err != nil {
		return "", false, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-replyCh:
		return reply, true, nil
	case <-timer.C:
		return "", false, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// Messages implements Conn, serving from the update log.
func (c *botConn) Messages(target string, q MessageQuery) MessageIter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.history == nil {
		return &SliceMessageIter{}
	}
	return &SliceMessageIter{Items: c.history.messages(target, q)}
}

// Dialogs implements Conn, serving from the update log.
func (c *botConn) Dialogs(limit int) DialogIter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.history == nil {
		return &SliceDialogIter{}
	}
	return &SliceDialogIter{Items: c.history.dialogs(limit)}
}

// Download resolves fileID and fetches its contents.
func (c *botConn) Download(ctx context.Context, fileID string) ([]byte, error) {
	bot, err := c.client()
	if err != nil {
		return nil, err
	}

	file, err := bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, rateLimited(err)
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("file %s has no download path", fileID)
	}

	status, body, err := (&fasthttp.Client{}).Get(nil, bot.FileDownloadURL(file.FilePath))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch file: %w", err)
	}
	if status != fasthttp.StatusOK {
		if status == fasthttp.StatusTooManyRequests {
			return nil, &backoff.RateLimitError{RetryAfter: time.Second}
		}
		return nil, fmt.Errorf("failed to fetch file: HTTP %d", status)
	}
	return body, nil
}

func (c *botConn) client() (*telego.Bot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.bot == nil {
		return nil, fmt.Errorf("not connected")
	}
	return c.bot, nil
}

// pump consumes updates until the connection is torn down.
func (c *botConn) pump(ctx context.Context, updates <-chan telego.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				c.mu.Lock()
				c.connected = false
				c.mu.Unlock()
				return
			}
			if update.Message == nil {
				continue
			}
			c.record(update.Message)
		}
	}
}

func (c *botConn) record(msg *telego.Message) {
	converted := convertMessage(msg)

	c.mu.Lock()
	c.history.add(msg.Chat, converted)
	waiter := c.waiters[strconv.FormatInt(msg.Chat.ID, 10)]
	if waiter == nil && msg.Chat.Username != "" {
		waiter = c.waiters["@"+strings.ToLower(msg.Chat.Username)]
	}
	c.mu.Unlock()

	if waiter != nil {
		select {
		case waiter <- converted.Text:
		default:
		}
	}
}

func convertMessage(msg *telego.Message) Message {
	out := Message{
		ID:   int64(msg.MessageID),
		Date: time.Unix(msg.Date, 0).UTC(),
		Text: msg.Text,
	}
	if out.Text == "" {
		out.Text = msg.Caption
	}
	if msg.From != nil {
		out.SenderID = msg.From.ID
	}

	switch {
	case msg.Document != nil:
		out.File = &FileInfo{
			Name:     msg.Document.FileName,
			MimeType: msg.Document.MimeType,
			Size:     int64(msg.Document.FileSize),
			FileID:   msg.Document.FileID,
			Kind:     "document",
		}
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		out.File = &FileInfo{
			Size:   int64(largest.FileSize),
			FileID: largest.FileID,
			Kind:   "photo",
		}
	case msg.Video != nil:
		out.File = &FileInfo{
			Name:     msg.Video.FileName,
			MimeType: msg.Video.MimeType,
			Size:     int64(msg.Video.FileSize),
			FileID:   msg.Video.FileID,
			Kind:     "video",
		}
	case msg.Audio != nil:
		out.File = &FileInfo{
			Name:     msg.Audio.FileName,
			MimeType: msg.Audio.MimeType,
			Size:     int64(msg.Audio.FileSize),
			FileID:   msg.Audio.FileID,
			Kind:     "audio",
		}
	case msg.Voice != nil:
		out.File = &FileInfo{
			MimeType: msg.Voice.MimeType,
			Size:     int64(msg.Voice.FileSize),
			FileID:   msg.Voice.FileID,
			Kind:     "voice",
		}
	}
	return out
}

// rateLimited converts a Bot API 429 into the signal the backoff executor
// retries on. Other errors pass through unchanged.
func rateLimited(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) && apiErr.ErrorCode == 429 {
		retryAfter := 0
		if apiErr.Parameters != nil {
			retryAfter = apiErr.Parameters.RetryAfter
		}
		return &backoff.RateLimitError{RetryAfter: time.Duration(retryAfter) * time.Second}
	}
	return err
}

// chatKey canonicalizes a target for waiter lookup.
func chatKey(target string) (string, error) {
	chatID, err := ParseTarget(target)
	if err != nil {
		return "", err
	}
	if chatID.Username != "" {
		return strings.ToLower(chatID.Username), nil
	}
	return strconv.FormatInt(chatID.ID, 10), nil
}
