// Package action maps normalized action identifiers to the operations
// that implement them. The set of actions is closed; a request naming
// anything else is rejected before any remote work happens.
package action

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Type identifies one supported action.
type Type string

const (
	TypeSend            Type = "send"
	TypeInteractiveSend Type = "interactive_send"
	TypeDownload        Type = "download"
	TypeList            Type = "list"
	TypeListDialogs     Type = "list_dialogs"
	TypeExport          Type = "export"
	TypePlugin          Type = "plugin"
	TypePluginCLI       Type = "plugin_cli"
)

// aliases maps legacy action names onto their current form.
var aliases = map[string]Type{
	"send_msg": TypeSend,
	"dialogs":  TypeListDialogs,
}

var supported = map[Type]bool{
	TypeSend:            true,
	TypeInteractiveSend: true,
	TypeDownload:        true,
	TypeList:            true,
	TypeListDialogs:     true,
	TypeExport:          true,
	TypePlugin:          true,
	TypePluginCLI:       true,
}

var folder = cases.Fold()

// Normalize case-folds raw and resolves aliases. The result is not
// guaranteed to be a supported type; callers match it against the closed
// set and reject the rest.
func Normalize(raw string) Type {
	value := folder.String(strings.TrimSpace(raw))
	if alias, ok := aliases[value]; ok {
		return alias
	}
	return Type(value)
}

// Supported reports whether t belongs to the closed action set.
func Supported(t Type) bool {
	return supported[t]
}

// Error is a request-level failure: an unknown action or a missing
// required field. It becomes an {ok:false, error} response; the daemon
// keeps serving.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

// Errorf builds an Error from a format string.
func Errorf(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}
