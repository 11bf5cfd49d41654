package action

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tgdog/internal/backoff"
	"tgdog/internal/logger"
	"tgdog/internal/telegram"
	"tgdog/internal/workers"
)

const snippetMax = 80

func (d *Dispatcher) send(ctx context.Context, conn telegram.Conn, target, text string) (any, error) {
	err := d.exec.Do(ctx, func() error {
		return conn.SendMessage(ctx, target, text)
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "sent"}, nil
}

func (d *Dispatcher) interactiveSend(ctx context.Context, conn telegram.Conn, target, text string, timeout time.Duration) (any, error) {
	type reply struct {
		text string
		ok   bool
	}
	r, err := backoff.DoValue(ctx, d.exec, func() (reply, error) {
		text, ok, err := conn.SendAndWait(ctx, target, text, timeout)
		return reply{text: text, ok: ok}, err
	})
	if err != nil {
		return nil, err
	}

	// A missing reply is a null response_text, not a failure.
	if !r.ok {
		d.logger.Warn("no response received",
			logger.Field{Key: "target", Value: target})
		return map[string]any{"response_text": nil}, nil
	}
	return map[string]any{"response_text": r.text}, nil
}

// nextMessage advances an iterator by one step with its own backoff, so a
// mid-stream rate limit retries just that step and iteration position is
// preserved.
func (d *Dispatcher) nextMessage(ctx context.Context, iter telegram.MessageIter) (telegram.Message, bool, error) {
	type step struct {
		msg telegram.Message
		ok  bool
	}
	s, err := backoff.DoValue(ctx, d.exec, func() (step, error) {
		msg, ok, err := iter.Next(ctx)
		return step{msg: msg, ok: ok}, err
	})
	return s.msg, s.ok, err
}

func (d *Dispatcher) nextDialog(ctx context.Context, iter telegram.DialogIter) (telegram.Dialog, bool, error) {
	type step struct {
		dlg telegram.Dialog
		ok  bool
	}
	s, err := backoff.DoValue(ctx, d.exec, func() (step, error) {
		dlg, ok, err := iter.Next(ctx)
		return step{dlg: dlg, ok: ok}, err
	})
	return s.dlg, s.ok, err
}

func (d *Dispatcher) listMessages(ctx context.Context, conn telegram.Conn, target string, limit int) (any, error) {
	iter := conn.Messages(target, telegram.MessageQuery{Limit: limit})

	messages := []map[string]any{}
	for {
		msg, ok, err := d.nextMessage(ctx, iter)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		messages = append(messages, map[string]any{
			"id":        msg.ID,
			"date":      formatDate(msg.Date),
			"sender_id": msg.SenderID,
			"snippet":   snippet(msg.Text),
		})
	}
	return map[string]any{"messages": messages}, nil
}

func (d *Dispatcher) listDialogs(ctx context.Context, conn telegram.Conn, limit int) (any, error) {
	iter := conn.Dialogs(limit)

	dialogs := []map[string]any{}
	for {
		dlg, ok, err := d.nextDialog(ctx, iter)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		dialogs = append(dialogs, map[string]any{
			"id":       dlg.ID,
			"name":     dlg.Name,
			"username": dlg.Username,
			"kind":     dlg.Kind,
			"target":   dlg.Target,
		})
	}
	return map[string]any{"dialogs": dialogs}, nil
}

func (d *Dispatcher) download(ctx context.Context, conn telegram.Conn, target string, payload map[string]any) (any, error) {
	limit := payloadInt(payload, "limit", 5)
	mediaType := payloadString(payload, "media_type")
	if mediaType == "" {
		mediaType = "any"
	}
	outputDir := payloadString(payload, "output_dir")
	if outputDir == "" {
		outputDir = "downloads"
	}
	minSize, hasMin := payloadSize(payload, "min_size")
	maxSize, hasMax := payloadSize(payload, "max_size")

	iter := conn.Messages(target, telegram.MessageQuery{Limit: limit, MediaType: mediaType})

	downloaded := 0
	for {
		msg, ok, err := d.nextMessage(ctx, iter)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if msg.File == nil {
			continue
		}
		if hasMin && msg.File.Size < minSize {
			continue
		}
		if hasMax && msg.File.Size > maxSize {
			continue
		}

		data, err := backoff.DoValue(ctx, d.exec, func() ([]byte, error) {
			return conn.Download(ctx, msg.File.FileID)
		})
		if err != nil {
			d.logger.Error("failed to download media", err,
				logger.Field{Key: "message_id", Value: msg.ID})
			continue
		}

		name := msg.File.Name
		if name == "" {
			name = strconv.FormatInt(msg.ID, 10)
		}
		d.writeFile(ctx, "download", filepath.Join(outputDir, name), data)
		downloaded++
	}
	return map[string]any{"downloaded": downloaded}, nil
}

// writeFile hands a finished payload to the write pool when one is wired,
// keeping disk I/O off the request path. Without a pool the write happens
// inline.
func (d *Dispatcher) writeFile(ctx context.Context, kind, dest string, data []byte) {
	if d.writers != nil {
		d.writers.Submit(workers.Task{
			Type:    kind,
			Dest:    dest,
			Data:    data,
			Context: ctx,
		})
		return
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		d.logger.Error("failed to write file", err,
			logger.Field{Key: "dest", Value: dest})
		return
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		d.logger.Error("failed to write file", err,
			logger.Field{Key: "dest", Value: dest})
	}
}

func snippet(text string) string {
	value := strings.ReplaceAll(strings.TrimSpace(text), "\n", " ")
	runes := []rune(value)
	if len(runes) > snippetMax {
		return string(runes[:snippetMax-3]) + "..."
	}
	return value
}

func formatDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}
