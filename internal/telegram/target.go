package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
)

// ParseTarget turns a request target into a telego chat reference. Numeric
// strings (with an optional leading '-') are chat IDs; anything else is
// treated as a username handle.
func ParseTarget(target string) (telego.ChatID, error) {
	value := strings.TrimSpace(target)
	if value == "" {
		return telego.ChatID{}, fmt.Errorf("target is empty")
	}

	if id, err := strconv.ParseInt(value, 10, 64); err == nil {
		return telego.ChatID{ID: id}, nil
	}

	if !strings.HasPrefix(value, "@") {
		value = "@" + value
	}
	return telego.ChatID{Username: value}, nil
}
