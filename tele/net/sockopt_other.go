//go:build !linux
// +build !linux

package telenet

import (
	"net"
	"time"
)

func setTCPUserTimeout(conn *net.TCPConn, d time.Duration) error { return nil }
