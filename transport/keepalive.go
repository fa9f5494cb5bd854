package transport

import (
	"errors"
	"time"
)

// ErrKeepaliveUnsupported is returned when the platform cannot apply the
// requested keepalive settings. Callers log it and carry on.
var ErrKeepaliveUnsupported = errors.New("transport: tcp keepalive tuning unsupported")

// keepaliveSettings are the probe parameters applied to accepted sockets.
type keepaliveSettings struct {
	Idle     time.Duration
	Interval time.Duration
	Retries  int
}

func seconds(d time.Duration) int {
	s := int(d / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
