// Package ipc implements the daemon's local control socket: length-framed
// JSON over a unix socket, one request and one response per connection.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single message. Anything larger is treated as a
// malformed frame, not a request.
const MaxFrameSize = 16 << 20

// ErrNoResponse reports a peer that closed (or timed out) before a single
// complete frame arrived. Distinct from FrameError: the peer said nothing,
// as opposed to saying something broken.
var ErrNoResponse = errors.New("no response")

// FrameError reports a truncated or malformed frame. The server closes
// the connection without a response when it sees one.
type FrameError struct {
	reason string
	cause  error
}

func (e *FrameError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("incomplete message: %s: %v", e.reason, e.cause)
	}
	return fmt.Sprintf("incomplete message: %s", e.reason)
}

func (e *FrameError) Unwrap() error { return e.cause }

// WriteFrame encodes v as JSON and writes it with a 4-byte big-endian
// length prefix.
func WriteFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(body))
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed frame and returns its body. A clean
// close before any byte arrives yields ErrNoResponse; a close mid-frame
// yields a FrameError.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	n, err := io.ReadFull(r, header[:])
	if err != nil {
		if n == 0 {
			return nil, ErrNoResponse
		}
		return nil, &FrameError{reason: "truncated header", cause: err}
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, &FrameError{reason: fmt.Sprintf("frame length %d exceeds limit", length)}
	}
	if length == 0 {
		return nil, nil
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, &FrameError{reason: "truncated body", cause: err}
	}
	return body, nil
}

// DecodeFrame unmarshals a frame body into v. The zero-length frame
// decodes as an empty object.
func DecodeFrame(body []byte, v any) error {
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &FrameError{reason: "malformed payload", cause: err}
	}
	return nil
}
