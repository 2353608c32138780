package socket

import "errors"

// Recoverable errors. The caller may retry the failed operation (or a later
// one) at its own discretion; no retry policy lives in this package.
var (
	// ErrPeerBufferFull is returned by a write when the peer's advertised
	// buffer cannot hold the next chunk. The write fails immediately; bytes
	// of the failed chunk are not accounted as sent.
	ErrPeerBufferFull = errors.New("peer stream buffer is full")

	// ErrUnexpectedPacket is returned when a handshake receives a packet
	// with an operation other than the one it is waiting for.
	ErrUnexpectedPacket = errors.New("unexpected packet operation")

	// ErrAlreadyConsumed is returned when a one-shot Connect or Accept is
	// called a second time.
	ErrAlreadyConsumed = errors.New("endpoint already consumed")

	// ErrTransportClosed is returned when the transport shuts down while a
	// handshake is waiting for a packet.
	ErrTransportClosed = errors.New("transport closed")
)

// Causes carried by FatalError.
var (
	// ErrDisconnected indicates a data operation on a socket that has
	// already transitioned to StateDisconnected.
	ErrDisconnected = errors.New("socket disconnected")

	// ErrProtocolViolation indicates the peer sent a packet that is never
	// valid on an established connection.
	ErrProtocolViolation = errors.New("protocol violation")
)

// FatalError reports misuse of the API or an unrecoverable protocol desync.
// Unlike the recoverable errors above, the connection state is undefined
// after a FatalError: continuing to use the socket is unsafe. Deployments
// that prefer the fail-stop behavior of the device layer can panic when
// errors.As reports one; it must never be treated as retryable.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
