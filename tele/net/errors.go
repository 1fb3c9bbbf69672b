package telenet

import (
	"context"
	"fmt"
	"net"

	"github.com/juju/errors"
)

var (
	ErrClosing           = fmt.Errorf("closing")
	ErrHandshakeTimeout  = fmt.Errorf("handshake timeout")
	ErrHandshakeRejected = fmt.Errorf("handshake rejected")
)

// WriteFailure isolates one client during broadcast.
type WriteFailure struct {
	Conn Conn
	Err  error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("write failure conn=%s: %v", e.Conn.ID(), e.Err)
}
func (e *WriteFailure) Unwrap() error { return e.Err }

// ListenerError is fatal for the server, returned from Server.Close().
type ListenerError struct {
	Addr string
	Err  error
}

func (e *ListenerError) Error() string { return fmt.Sprintf("listener addr=%s: %v", e.Addr, e.Err) }
func (e *ListenerError) Unwrap() error { return e.Err }

// isTimeout looks through annotations and FramingError for net timeout.
func isTimeout(err error) bool {
	cause := errors.Cause(err)
	if fe, ok := cause.(*FramingError); ok {
		cause = fe.Err
	}
	if cause == context.DeadlineExceeded {
		return true
	}
	neterr, ok := cause.(net.Error)
	return ok && neterr.Timeout()
}
