// Package vsock provides a connection-oriented stream socket over a
// virtio-vsock style packet transport, for a guest talking to its host over
// a virtual-machine socket device. It implements connection establishment,
// credit-based flow control, fragmentation and reassembly, and teardown on
// top of any packet Transport.
package vsock

import (
	"io"

	"github.com/tinyrange/vsock/internal/packet"
	"github.com/tinyrange/vsock/internal/socket"
	"github.com/tinyrange/vsock/internal/transport"
)

// -----------------------------------------------------------------------------
// Type Aliases - These re-export types from the internal packages
// -----------------------------------------------------------------------------

// Socket is an established connection with exact-length read and write
// semantics.
type Socket = socket.Socket

// Connector performs the active open of a connection.
type Connector = socket.Connector

// Listener performs the passive open of a connection.
type Listener = socket.Listener

// ConnectionState is the state of a socket's connection.
type ConnectionState = socket.ConnectionState

// FatalError reports API misuse or an unrecoverable protocol desync. See the
// package documentation of internal/socket for the recovery contract.
type FatalError = socket.FatalError

// Transport is the packet transport a socket runs over.
type Transport = transport.Transport

// Filter selects packets on a transport's receive side.
type Filter = transport.Filter

// Loopback is an in-memory transport endpoint, useful for tests and local
// wiring.
type Loopback = transport.Loopback

// Stream frames packets over any reliable byte stream.
type Stream = transport.Stream

// Packet is a single vsock packet.
type Packet = packet.Packet

// Op is a vsock connection operation code.
type Op = packet.Op

// Connection states.
const (
	StateConnected    = socket.StateConnected
	StateDisconnected = socket.StateDisconnected
)

// Size constants of the packet layer.
const (
	HeaderSize     = packet.HeaderSize
	DataBufferSize = packet.DataBufferSize
	QueueSize      = packet.QueueSize
	MaxPayloadSize = packet.MaxPayloadSize
)

// Recoverable sentinel errors.
var (
	ErrPeerBufferFull   = socket.ErrPeerBufferFull
	ErrUnexpectedPacket = socket.ErrUnexpectedPacket
	ErrAlreadyConsumed  = socket.ErrAlreadyConsumed
	ErrTransportClosed  = socket.ErrTransportClosed
)

// Causes carried by FatalError.
var (
	ErrDisconnected      = socket.ErrDisconnected
	ErrProtocolViolation = socket.ErrProtocolViolation
)

// NewConnector builds a connector that dials from localPort to the host's
// hostPort over the given transport, taking ownership of the transport.
func NewConnector(tr Transport, hostPort, localPort uint32) *Connector {
	return socket.NewConnector(tr, hostPort, localPort)
}

// NewListener builds a listener on the given local port, taking ownership of
// the transport.
func NewListener(tr Transport, localPort uint32) *Listener {
	return socket.NewListener(tr, localPort)
}

// NewLoopbackPair returns two connected in-memory transport endpoints.
func NewLoopbackPair() (*Loopback, *Loopback) {
	return transport.NewLoopbackPair()
}

// NewStream wraps a byte-stream carrier in a packet transport.
func NewStream(carrier io.ReadWriteCloser) *Stream {
	return transport.NewStream(carrier)
}

// DialVsock connects to an AF_VSOCK listener and runs the packet protocol
// over the kernel vsock connection.
func DialVsock(cid, port uint32) (*Stream, error) {
	return transport.Dial(cid, port)
}
