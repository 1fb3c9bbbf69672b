//go:build linux
// +build linux

package telenet

import (
	"net"
	"time"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

// setTCPUserTimeout bounds how long unacknowledged data may stay in flight,
// so writes to vanished peer fail instead of filling socket buffer.
func setTCPUserTimeout(conn *net.TCPConn, d time.Duration) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return errors.Annotate(err, "SyscallConn")
	}
	var serr error
	err = raw.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, int(d/time.Millisecond))
	})
	if err != nil {
		return errors.Annotate(err, "Control")
	}
	return errors.Annotate(serr, "setsockopt TCP_USER_TIMEOUT")
}
