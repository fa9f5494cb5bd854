//go:build !linux

package transport

import (
	"fmt"
	"net"
)

// trySetKeepalive applies what the standard library can set portably.
// Platforms that reject part of the config report ErrKeepaliveUnsupported.
func trySetKeepalive(conn *net.TCPConn, ka keepaliveSettings) error {
	err := conn.SetKeepAliveConfig(net.KeepAliveConfig{
		Enable:   true,
		Idle:     ka.Idle,
		Interval: ka.Interval,
		Count:    ka.Retries,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeepaliveUnsupported, err)
	}
	return nil
}
