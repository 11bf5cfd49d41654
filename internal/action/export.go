package action

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"tgdog/internal/backoff"
	"tgdog/internal/logger"
	"tgdog/internal/telegram"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// exportLayout describes where one export run writes its files.
type exportLayout struct {
	perMessage     bool
	outputFile     string // single mode only
	baseDir        string
	attachmentsDir string
}

func (d *Dispatcher) export(ctx context.Context, conn telegram.Conn, target string, payload map[string]any) (any, error) {
	mode := strings.ToLower(payloadString(payload, "mode"))
	if mode == "" {
		mode = "single"
	}
	if mode != "single" && mode != "per_message" {
		return nil, Errorf("mode must be 'single' or 'per_message'")
	}

	output := payloadString(payload, "output")
	if output == "" {
		output = "exports"
	}

	layout, err := buildLayout(mode, output, target, payloadString(payload, "attachments_dir"))
	if err != nil {
		return nil, err
	}

	messages, err := d.exportMessages(ctx, conn, target, payload)
	if err != nil {
		return nil, err
	}

	converter := md.NewConverter("", true, nil)

	var single strings.Builder
	exported := 0
	for _, msg := range messages {
		attachments := d.exportAttachment(ctx, conn, msg, layout)
		content := formatMessageMarkdown(msg, attachments, converter)

		if layout.perMessage {
			dest := filepath.Join(layout.baseDir, strconv.FormatInt(msg.ID, 10)+".md")
			d.writeFile(ctx, "export", dest, []byte(content))
		} else {
			single.WriteString(content)
		}
		exported++
	}

	outputPath := layout.baseDir
	if !layout.perMessage {
		d.writeFile(ctx, "export", layout.outputFile, []byte(single.String()))
		outputPath = layout.outputFile
	}
	return map[string]any{"exported": exported, "output": outputPath}, nil
}

func buildLayout(mode, output, target, attachmentsDir string) (exportLayout, error) {
	layout := exportLayout{perMessage: mode == "per_message"}

	if layout.perMessage {
		layout.baseDir = output
	} else if strings.EqualFold(filepath.Ext(output), ".md") {
		layout.outputFile = output
		layout.baseDir = filepath.Dir(output)
	} else {
		layout.baseDir = output
		layout.outputFile = filepath.Join(output, safeFilename(target)+".md")
	}

	layout.attachmentsDir = attachmentsDir
	if layout.attachmentsDir == "" {
		layout.attachmentsDir = filepath.Join(layout.baseDir, "attachments")
	}
	if err := os.MkdirAll(layout.attachmentsDir, 0o755); err != nil {
		return exportLayout{}, err
	}
	return layout, nil
}

// exportMessages resolves which messages the export covers: an explicit
// ID list sorted by date, or an oldest-first listing.
func (d *Dispatcher) exportMessages(ctx context.Context, conn telegram.Conn, target string, payload map[string]any) ([]telegram.Message, error) {
	query := telegram.MessageQuery{
		Limit:    payloadInt(payload, "limit", 0),
		FromUser: payloadString(payload, "from_user"),
		Reverse:  true,
	}
	ids := payloadIDs(payload, "message_ids")
	if len(ids) > 0 {
		query = telegram.MessageQuery{IDs: ids}
	}

	iter := conn.Messages(target, query)
	var messages []telegram.Message
	for {
		msg, ok, err := d.nextMessage(ctx, iter)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		messages = append(messages, msg)
	}

	if len(ids) > 0 {
		sort.Slice(messages, func(i, j int) bool {
			return messages[i].Date.Before(messages[j].Date)
		})
	}
	return messages, nil
}

// exportAttachment downloads a message's media next to the export and
// returns its path relative to the export base. A failed download is
// logged and the message exports without its attachment.
func (d *Dispatcher) exportAttachment(ctx context.Context, conn telegram.Conn, msg telegram.Message, layout exportLayout) []string {
	if msg.File == nil {
		return nil
	}

	name := msg.File.Name
	if name == "" {
		ext := ""
		if msg.File.MimeType != "" {
			if exts, err := mime.ExtensionsByType(msg.File.MimeType); err == nil && len(exts) > 0 {
				ext = exts[0]
			}
		}
		name = strconv.FormatInt(msg.ID, 10) + ext
	}
	dest := filepath.Join(layout.attachmentsDir, fmt.Sprintf("%d_%s", msg.ID, name))

	data, err := backoff.DoValue(ctx, d.exec, func() ([]byte, error) {
		return conn.Download(ctx, msg.File.FileID)
	})
	if err != nil {
		d.logger.Error("failed to download attachment", err,
			logger.Field{Key: "message_id", Value: msg.ID})
		return nil
	}
	d.writeFile(ctx, "export", dest, data)

	rel, err := filepath.Rel(layout.baseDir, dest)
	if err != nil {
		rel = dest
	}
	return []string{filepath.ToSlash(rel)}
}

func formatMessageMarkdown(msg telegram.Message, attachments []string, converter *md.Converter) string {
	date := ""
	if !msg.Date.IsZero() {
		date = msg.Date.Format("2006-01-02T15:04:05Z07:00")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### %s | id=%d | from=%d\n\n", date, msg.ID, msg.SenderID)

	text := strings.TrimSpace(msg.Text)
	if looksLikeHTML(text) {
		if converted, err := converter.ConvertString(text); err == nil {
			text = strings.TrimSpace(converted)
		}
	}
	if text == "" {
		text = "_(no text)_"
	}
	b.WriteString(text)
	b.WriteString("\n\n")

	if len(attachments) > 0 {
		b.WriteString("Attachments:\n")
		for _, item := range attachments {
			if imageExtensions[strings.ToLower(filepath.Ext(item))] {
				fmt.Fprintf(&b, "- ![](%s)\n", item)
			} else {
				fmt.Fprintf(&b, "- [%s](%s)\n", item, item)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func looksLikeHTML(text string) bool {
	open := strings.IndexByte(text, '<')
	return open >= 0 && strings.IndexByte(text[open:], '>') > 0
}

// safeFilename keeps letters, digits, '-' and '_', replacing the rest.
func safeFilename(value string) string {
	var b strings.Builder
	for _, ch := range value {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
			b.WriteRune(ch)
		default:
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "export"
	}
	return name
}
