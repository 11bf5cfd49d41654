package telegram

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
)

// updateLog accumulates incoming messages per chat, capped to the newest N
// entries each, and remembers every chat it has seen as a dialog. The
// owning botConn serializes access; updateLog itself is not safe for
// concurrent use.
type updateLog struct {
	perChat int
	chats   map[int64]*chatLog
}

type chatLog struct {
	meta     telego.Chat
	lastSeen time.Time
	messages []Message // oldest first
}

func newUpdateLog(perChat int) *updateLog {
	return &updateLog{
		perChat: perChat,
		chats:   make(map[int64]*chatLog),
	}
}

func (l *updateLog) add(chat telego.Chat, msg Message) {
	entry := l.chats[chat.ID]
	if entry == nil {
		entry = &chatLog{}
		l.chats[chat.ID] = entry
	}
	entry.meta = chat
	entry.lastSeen = msg.Date
	entry.messages = append(entry.messages, msg)
	if len(entry.messages) > l.perChat {
		entry.messages = entry.messages[len(entry.messages)-l.perChat:]
	}
}

// messages returns the logged messages for target, filtered by q. The
// default order is newest first; q.Reverse flips it.
func (l *updateLog) messages(target string, q MessageQuery) []Message {
	entry := l.find(target)
	if entry == nil {
		return nil
	}

	var wantIDs map[int64]bool
	if len(q.IDs) > 0 {
		wantIDs = make(map[int64]bool, len(q.IDs))
		for _, id := range q.IDs {
			wantIDs[id] = true
		}
	}

	var fromID int64
	if q.FromUser != "" {
		fromID, _ = strconv.ParseInt(q.FromUser, 10, 64)
	}

	out := make([]Message, 0, len(entry.messages))
	for _, m := range entry.messages {
		if wantIDs != nil && !wantIDs[m.ID] {
			continue
		}
		if q.FromUser != "" && (fromID == 0 || m.SenderID != fromID) {
			continue
		}
		if !matchMedia(m, q.MediaType) {
			continue
		}
		out = append(out, m)
	}

	if !q.Reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// dialogs returns the seen chats, most recently active first.
func (l *updateLog) dialogs(limit int) []Dialog {
	entries := make([]*chatLog, 0, len(l.chats))
	for _, entry := range l.chats {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastSeen.After(entries[j].lastSeen)
	})

	out := make([]Dialog, 0, len(entries))
	for _, entry := range entries {
		out = append(out, convertDialog(entry.meta))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (l *updateLog) find(target string) *chatLog {
	chatID, err := ParseTarget(target)
	if err != nil {
		return nil
	}
	if chatID.Username == "" {
		return l.chats[chatID.ID]
	}
	handle := strings.TrimPrefix(strings.ToLower(chatID.Username), "@")
	for _, entry := range l.chats {
		if strings.ToLower(entry.meta.Username) == handle {
			return entry
		}
	}
	return nil
}

func matchMedia(m Message, mediaType string) bool {
	switch mediaType {
	case "":
		return true
	case "any":
		return m.File != nil
	default:
		return m.File != nil && m.File.Kind == mediaType
	}
}

func convertDialog(chat telego.Chat) Dialog {
	d := Dialog{
		ID:       chat.ID,
		Username: chat.Username,
		Name:     chat.Title,
	}
	if d.Name == "" {
		d.Name = strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	}

	switch chat.Type {
	case telego.ChatTypePrivate:
		d.Kind = "user"
	case telego.ChatTypeGroup, telego.ChatTypeSupergroup:
		d.Kind = "group"
	case telego.ChatTypeChannel:
		d.Kind = "channel"
	default:
		d.Kind = chat.Type
	}

	if d.Username != "" {
		d.Target = "@" + d.Username
	} else {
		d.Target = strconv.FormatInt(d.ID, 10)
	}
	return d
}
