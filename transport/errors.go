package transport

import "fmt"

// BindError reports a listener that could not bind. It is fatal for that
// transport only.
type BindError struct {
	Transport string
	Addr      string
	Err       error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%s: bind %s: %v", e.Transport, e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// ConnectionError reports a connection that ended abnormally: reset by the
// peer, closed inside a message, or failed on write.
type ConnectionError struct {
	Peer string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Peer, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
