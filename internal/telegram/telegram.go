// Package telegram defines the remote-service contract the rest of the
// daemon is written against, and provides the Telego-backed implementation
// of it. Everything above this package sees only Conn and Dialer; tests
// substitute fakes.
package telegram

import (
	"context"
	"time"

	"tgdog/internal/config"
)

// Message is one remote message, normalized for listing, download and
// export.
type Message struct {
	ID       int64
	Date     time.Time
	SenderID int64
	Text     string
	File     *FileInfo
}

// FileInfo describes the media attached to a message.
type FileInfo struct {
	Name     string
	MimeType string
	Size     int64
	FileID   string
	Kind     string // photo, video, document, audio, voice
}

// Dialog is one conversation the account participates in.
type Dialog struct {
	ID       int64
	Name     string
	Username string
	Kind     string // user, group, channel, bot
	Target   string // value usable as a request target
}

// MessageQuery filters a message listing.
type MessageQuery struct {
	Limit     int
	MediaType string // photo, video, document, audio, voice, any
	FromUser  string
	IDs       []int64
	Reverse   bool // oldest first
}

// MessageIter yields messages one step at a time. Each Next may be one
// remote call and may fail with a backoff.RateLimitError; callers retry the
// step without restarting the iteration.
type MessageIter interface {
	Next(ctx context.Context) (Message, bool, error)
}

// DialogIter is MessageIter for dialogs.
type DialogIter interface {
	Next(ctx context.Context) (Dialog, bool, error)
}

// Conn is the single authenticated connection bound to one profile. At most
// one operation drives a Conn at any instant; the connection pool enforces
// that.
type Conn interface {
	// Connect dials and binds the underlying client. Safe to call again
	// after a disconnect.
	Connect(ctx context.Context) error
	// Connected reports whether the underlying client is currently usable.
	Connected() bool
	// Authorized reports whether the stored session can authorize without
	// user interaction.
	Authorized(ctx context.Context) (bool, error)
	// Disconnect tears the connection down. Best effort at shutdown.
	Disconnect() error

	SendMessage(ctx context.Context, target, text string) error
	// SendAndWait sends text and waits up to timeout for a reply from the
	// target. A missing reply is (_, false, nil), not an error.
	SendAndWait(ctx context.Context, target, text string, timeout time.Duration) (string, bool, error)
	Messages(target string, q MessageQuery) MessageIter
	Dialogs(limit int) DialogIter
	// Download fetches the contents of the file behind fileID. Writing
	// them to disk is the caller's concern, normally offloaded to the
	// write worker pool.
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// Dialer constructs an unconnected Conn for a profile. The pool owns the
// returned Conn's lifecycle.
type Dialer interface {
	Dial(profileKey string, profile config.Profile) Conn
}

// SliceMessageIter iterates a pre-fetched slice. Used for ID-addressed
// exports and by test fakes.
type SliceMessageIter struct {
	Items []Message
	pos   int
}

func (it *SliceMessageIter) Next(ctx context.Context) (Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, false, err
	}
	if it.pos >= len(it.Items) {
		return Message{}, false, nil
	}
	m := it.Items[it.pos]
	it.pos++
	return m, true, nil
}

// SliceDialogIter is SliceMessageIter for dialogs.
type SliceDialogIter struct {
	Items []Dialog
	pos   int
}

func (it *SliceDialogIter) Next(ctx context.Context) (Dialog, bool, error) {
	if err := ctx.Err(); err != nil {
		return Dialog{}, false, err
	}
	if it.pos >= len(it.Items) {
		return Dialog{}, false, nil
	}
	d := it.Items[it.pos]
	it.pos++
	return d, true, nil
}
