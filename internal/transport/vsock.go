package transport

import (
	"fmt"

	mdvsock "github.com/mdlayher/vsock"
)

// Dial connects to an AF_VSOCK listener and returns a Stream transport
// running the packet protocol over the kernel vsock connection. Useful for
// exercising the socket layer between two real processes.
func Dial(cid, port uint32) (*Stream, error) {
	conn, err := mdvsock.Dial(cid, port, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial vsock %d:%d: %w", cid, port, err)
	}
	return NewStream(conn), nil
}

// Listener accepts AF_VSOCK connections and wraps them in Stream transports.
type Listener struct {
	inner *mdvsock.Listener
}

// Listen starts an AF_VSOCK listener on the given port.
func Listen(port uint32) (*Listener, error) {
	l, err := mdvsock.Listen(port, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: listen vsock port %d: %w", port, err)
	}
	return &Listener{inner: l}, nil
}

// Accept waits for the next connection and returns it as a Stream transport.
func (l *Listener) Accept() (*Stream, error) {
	conn, err := l.inner.Accept()
	if err != nil {
		return nil, fmt.Errorf("transport: accept vsock: %w", err)
	}
	return NewStream(conn), nil
}

// Close stops the listener.
func (l *Listener) Close() error {
	return l.inner.Close()
}
