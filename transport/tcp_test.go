package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/zhubert/memory-mcp/mcp"
)

// stateRecorder collects ConnStateHook calls.
type stateRecorder struct {
	mu     sync.Mutex
	states []ConnState
	closed chan struct{}
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{closed: make(chan struct{}, 16)}
}

func (r *stateRecorder) hook(peer string, state ConnState) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
	if state == StateClosedNormal || state == StateClosedError {
		r.closed <- struct{}{}
	}
}

func (r *stateRecorder) waitClosed(t *testing.T) []ConnState {
	t.Helper()
	select {
	case <-r.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("connection never reached a closed state")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnState(nil), r.states...)
}

func startTCP(t *testing.T, opts TCPOptions, options ...TCPServerOption) (*TCPServer, context.CancelFunc) {
	t.Helper()
	s := NewTCPServer(newTestHandler(), opts, options...)
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	})
	return s, cancel
}

func defaultTCPOptions() TCPOptions {
	return TCPOptions{
		NoDelay:           true,
		Keepalive:         true,
		KeepaliveIdle:     60 * time.Second,
		KeepaliveInterval: 10 * time.Second,
		KeepaliveRetries:  3,
	}
}

func TestConnState_String(t *testing.T) {
	tests := []struct {
		state ConnState
		want  string
	}{
		{StateAccepted, "accepted"},
		{StateTuned, "tuned"},
		{StateServing, "serving"},
		{StateClosedNormal, "closed"},
		{StateClosedError, "closed-error"},
		{ConnState(42), "ConnState(42)"},
	}
	for _, tc := range tests {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("%d.String() = %q, want %q", int(tc.state), got, tc.want)
		}
	}
}

func TestTCPServer_ListenBindError(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer occupied.Close()

	s := NewTCPServer(newTestHandler(), defaultTCPOptions())
	err = s.Listen(occupied.Addr().String())

	var bindErr *BindError
	if !errors.As(err, &bindErr) {
		t.Fatalf("Listen = %v, want *BindError", err)
	}
	if bindErr.Transport != "tcp" || bindErr.Addr != occupied.Addr().String() {
		t.Errorf("BindError = %+v", bindErr)
	}
}

func TestTCPServer_ServeBeforeListen(t *testing.T) {
	s := NewTCPServer(newTestHandler(), defaultTCPOptions())
	if err := s.Serve(context.Background()); err == nil {
		t.Fatal("Serve without Listen should fail")
	}
}

func TestTCPServer_RequestResponse(t *testing.T) {
	rec := newStateRecorder()
	s, _ := startTCP(t, defaultTCPOptions(), WithConnStateHook(rec.hook))

	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	fmt.Fprintln(conn, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"x":"y"}}}`)
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var resp struct {
		ID     int                `json:"id"`
		Result mcp.ToolCallResult `json:"result"`
	}
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID != 1 || len(resp.Result.Content) != 1 || resp.Result.Content[0].Text != `{"x":"y"}` {
		t.Errorf("response = %s", line)
	}

	conn.Close()
	states := rec.waitClosed(t)
	want := []ConnState{StateAccepted, StateTuned, StateServing, StateClosedNormal}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestTCPServer_ConcurrentClientsNoInterleaving(t *testing.T) {
	s, _ := startTCP(t, defaultTCPOptions())

	const clients = 16
	const requests = 25

	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- runClient(s.Addr().String(), c, requests)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
}

func runClient(addr string, client, requests int) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	reader := bufio.NewReader(conn)

	for i := range requests {
		id := client*1000 + i
		msg := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":"echo","arguments":{"client":%d,"seq":%d}}}`, id, client, i)
		if _, err := fmt.Fprintln(conn, msg); err != nil {
			return fmt.Errorf("client %d write: %w", client, err)
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("client %d read: %w", client, err)
		}
		var resp struct {
			ID     int                `json:"id"`
			Result mcp.ToolCallResult `json:"result"`
		}
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			return fmt.Errorf("client %d got malformed line %q: %w", client, line, err)
		}
		if resp.ID != id {
			return fmt.Errorf("client %d got id %d, want %d", client, resp.ID, id)
		}
		want := fmt.Sprintf(`{"client":%d,"seq":%d}`, client, i)
		if len(resp.Result.Content) != 1 || resp.Result.Content[0].Text != want {
			return fmt.Errorf("client %d got %s, want %s", client, line, want)
		}
	}
	return nil
}

func TestTCPServer_MidMessageCloseIsConnectionError(t *testing.T) {
	rec := newStateRecorder()
	s, _ := startTCP(t, defaultTCPOptions(), WithConnStateHook(rec.hook))

	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(conn, `{"jsonrpc":"2.0","id":1,"method":"tools/ca`)
	conn.Close()

	states := rec.waitClosed(t)
	if last := states[len(states)-1]; last != StateClosedError {
		t.Errorf("final state = %v, want %v", last, StateClosedError)
	}
}

func TestServeConn_MidMessageClose(t *testing.T) {
	client, server := net.Pipe()
	s := NewTCPServer(newTestHandler(), defaultTCPOptions())

	go func() {
		io.WriteString(client, `{"jsonrpc":"2.0","id":1,"meth`)
		client.Close()
	}()

	err := s.serveConn(context.Background(), server)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("serveConn = %v, want *ConnectionError", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("error should wrap io.ErrUnexpectedEOF: %v", err)
	}
}

func TestServeConn_CleanClose(t *testing.T) {
	client, server := net.Pipe()
	s := NewTCPServer(newTestHandler(), defaultTCPOptions())

	go func() {
		r := bufio.NewReader(client)
		io.WriteString(client, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")
		r.ReadString('\n')
		client.Close()
	}()

	if err := s.serveConn(context.Background(), server); err != nil {
		t.Fatalf("serveConn = %v, want nil", err)
	}
}

func TestTCPServer_ShutdownClosesConnections(t *testing.T) {
	rec := newStateRecorder()
	s, cancel := startTCP(t, defaultTCPOptions(), WithConnStateHook(rec.hook))

	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Wait until the handler is serving before cancelling.
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	fmt.Fprintln(conn, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	reader := bufio.NewReader(conn)
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatal(err)
	}

	cancel()

	if _, err := reader.ReadString('\n'); err == nil {
		t.Error("connection should be closed by shutdown")
	}
	states := rec.waitClosed(t)
	if last := states[len(states)-1]; last != StateClosedNormal {
		t.Errorf("shutdown close state = %v, want %v", last, StateClosedNormal)
	}
}

func TestTCPServer_KeepaliveDisabled(t *testing.T) {
	opts := defaultTCPOptions()
	opts.Keepalive = false
	opts.NoDelay = false
	s, _ := startTCP(t, opts)

	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	fmt.Fprintln(conn, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if _, err := bufio.NewReader(conn).ReadString('\n'); err != nil {
		t.Fatalf("untuned connection should still serve: %v", err)
	}
}

// flakyListener fails the first failures calls to Accept.
type flakyListener struct {
	net.Listener
	mu       sync.Mutex
	failures int
	failed   int
}

func (l *flakyListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if l.failed < l.failures {
		l.failed++
		l.mu.Unlock()
		return nil, errors.New("accept: too many open files")
	}
	l.mu.Unlock()
	return l.Listener.Accept()
}

func (l *flakyListener) failedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed
}

func TestTCPServer_AcceptErrorsAreRetried(t *testing.T) {
	s := NewTCPServer(newTestHandler(), defaultTCPOptions())
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	flaky := &flakyListener{Listener: s.listener, failures: 3}
	s.listener = flaky

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	fmt.Fprintln(conn, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read after accept errors: %v", err)
	}
	var resp mcp.JSONRPCResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != nil || resp.ID != float64(1) {
		t.Errorf("response = %s", line)
	}
	if got := flaky.failedCount(); got != 3 {
		t.Errorf("accept failed %d times, want 3", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil after accept errors", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
