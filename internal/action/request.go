package action

import (
	"strconv"
	"strings"
)

// Request is the structured body of one IPC request. The same shape is
// used by the CLI's in-process fallback path.
type Request struct {
	Action  string         `json:"action"`
	Profile string         `json:"profile,omitempty"`
	Target  string         `json:"target,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	Args    []string       `json:"args,omitempty"`
	Mode    string         `json:"mode,omitempty"` // "code" (default) or "cli"
}

// Response is the structured body of one IPC response.
type Response struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// payloadString returns the first non-empty string found under keys.
func payloadString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := payload[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

// payloadInt reads an integer field, tolerating the float64 that JSON
// decoding produces and numeric strings. Missing or unusable values
// yield def.
func payloadInt(payload map[string]any, key string, def int) int {
	switch value := payload[key].(type) {
	case float64:
		return int(value)
	case int:
		return value
	case string:
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return def
}

// payloadSize reads an optional byte-size bound. The second return is
// false when the field is absent.
func payloadSize(payload map[string]any, key string) (int64, bool) {
	switch value := payload[key].(type) {
	case float64:
		return int64(value), true
	case int:
		return int64(value), true
	case string:
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// payloadIDs reads message_ids as either a JSON array or a comma-joined
// string.
func payloadIDs(payload map[string]any, key string) []int64 {
	var out []int64
	switch value := payload[key].(type) {
	case []any:
		for _, item := range value {
			switch id := item.(type) {
			case float64:
				out = append(out, int64(id))
			case string:
				if parsed, err := strconv.ParseInt(id, 10, 64); err == nil {
					out = append(out, parsed)
				}
			}
		}
	case string:
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if parsed, err := strconv.ParseInt(part, 10, 64); err == nil {
				out = append(out, parsed)
			}
		}
	}
	return out
}

// payloadArgs reads plugin arguments as either an array or a single
// string.
func payloadArgs(payload map[string]any, key string) []string {
	switch value := payload[key].(type) {
	case []any:
		var out []string
		for _, item := range value {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{value}
	}
	return nil
}
