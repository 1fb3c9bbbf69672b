package telenet

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/temoto/carrotview/log2"
)

const (
	DefaultNetworkTimeout = 30 * time.Second
	DefaultReadLimit      = 64 << 10
)

type Conn interface {
	Close() error
	Closed() bool
	ConnectedAt() time.Time
	ID() string
	Options() *ConnOptions
	Receive(context.Context) (Frame, error)
	RemoteAddr() net.Addr
	// Send writes complete encoded frame.
	Send(context.Context, []byte) error
	SendJSON(context.Context, interface{}) error
	SinceLastSend() time.Duration
	Stat() *ConnStat
	State() AuthState
	String() string

	die(error) error
	setState(AuthState)
}

type ConnOptions struct {
	Log            *log2.Log
	NetworkTimeout time.Duration
	ReadLimit      uint32
	TCPUserTimeout time.Duration
}

// DialContext opens tcp:// or ws:// stream. Handshake is not performed here.
func DialContext(ctx context.Context, dialer net.Dialer, url string, opt ConnOptions) (Conn, error) {
	if dialer.Timeout == 0 {
		dialer.Timeout = opt.NetworkTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if timeout := time.Until(deadline); timeout <= 0 {
			return nil, context.DeadlineExceeded
		} else if dialer.Timeout == 0 || timeout < dialer.Timeout {
			dialer.Timeout = timeout
		}
	}

	scheme, hostport, _, err := parseURI(url)
	if err != nil {
		return nil, err
	}

	var conn net.Conn
	switch scheme {
	case "tcp":
		conn, err = dialer.DialContext(ctx, "tcp", hostport)

	case "ws":
		wsd := websocket.Dialer{
			NetDialContext:   dialer.DialContext,
			HandshakeTimeout: dialer.Timeout,
		}
		var ws *websocket.Conn
		ws, _, err = wsd.DialContext(ctx, url, nil)
		if err == nil {
			conn = newWebsocketConn(ws)
		}

	default:
		err = fmt.Errorf("unknown protocol=%s", scheme)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "dial url=%s", url)
	}
	return NewStreamConn(conn, opt), nil
}
