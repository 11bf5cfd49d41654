package ipc

import (
	"errors"
	"net"
	"os"
	"time"

	"tgdog/internal/action"
)

// DefaultTimeout bounds one whole request/response exchange.
const DefaultTimeout = 30 * time.Second

// Request sends one framed request to the daemon and reads the response.
// An expired read deadline, like a clean close, is reported as
// ErrNoResponse: the daemon said nothing, which callers must not confuse
// with a business-level error response.
func Request(socketPath string, req action.Request, timeout time.Duration) (action.Response, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return action.Response{}, err
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return action.Response{}, err
	}

	if err := WriteFrame(conn, req); err != nil {
		return action.Response{}, err
	}

	body, err := ReadFrame(conn)
	if err != nil {
		if isTimeout(err) {
			return action.Response{}, ErrNoResponse
		}
		return action.Response{}, err
	}

	var resp action.Response
	if err := DecodeFrame(body, &resp); err != nil {
		return action.Response{}, err
	}
	return resp, nil
}

// Reachable reports whether a daemon currently answers on socketPath.
func Reachable(socketPath string, timeout time.Duration) bool {
	resp, err := Request(socketPath, action.Request{Action: "ping"}, timeout)
	return err == nil && resp.OK
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
