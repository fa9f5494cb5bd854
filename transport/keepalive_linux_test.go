//go:build linux

package transport

import (
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestTrySetKeepalive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			defer c.Close()
			time.Sleep(500 * time.Millisecond)
		}
	}()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	tcp := conn.(*net.TCPConn)

	ka := keepaliveSettings{Idle: 45 * time.Second, Interval: 7 * time.Second, Retries: 5}
	if err := trySetKeepalive(tcp, ka); err != nil {
		t.Fatalf("trySetKeepalive: %v", err)
	}

	raw, err := tcp.SyscallConn()
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]int{}
	raw.Control(func(fd uintptr) {
		s := int(fd)
		got["keepalive"], _ = unix.GetsockoptInt(s, unix.SOL_SOCKET, unix.SO_KEEPALIVE)
		got["idle"], _ = unix.GetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE)
		got["interval"], _ = unix.GetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL)
		got["count"], _ = unix.GetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_KEEPCNT)
	})

	want := map[string]int{"keepalive": 1, "idle": 45, "interval": 7, "count": 5}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %d, want %d", k, got[k], v)
		}
	}
}

func TestSeconds(t *testing.T) {
	if got := seconds(500 * time.Millisecond); got != 1 {
		t.Errorf("seconds(500ms) = %d, want 1 (floor at one)", got)
	}
	if got := seconds(90 * time.Second); got != 90 {
		t.Errorf("seconds(90s) = %d", got)
	}
}
