//go:build linux

package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// trySetKeepalive enables keepalive probing on conn with explicit idle,
// interval and retry count.
func trySetKeepalive(conn *net.TCPConn, ka keepaliveSettings) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("keepalive: %w", err)
	}

	var sockErr error
	err = raw.Control(func(fd uintptr) {
		s := int(fd)
		opts := []struct {
			level, name, value int
			label              string
		}{
			{unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1, "SO_KEEPALIVE"},
			{unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, seconds(ka.Idle), "TCP_KEEPIDLE"},
			{unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, seconds(ka.Interval), "TCP_KEEPINTVL"},
			{unix.IPPROTO_TCP, unix.TCP_KEEPCNT, max(ka.Retries, 1), "TCP_KEEPCNT"},
		}
		for _, o := range opts {
			if err := unix.SetsockoptInt(s, o.level, o.name, o.value); err != nil {
				sockErr = fmt.Errorf("keepalive: set %s: %w", o.label, err)
				return
			}
		}
	})
	if err != nil {
		return fmt.Errorf("keepalive: %w", err)
	}
	return sockErr
}
