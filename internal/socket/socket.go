// Package socket implements a connection-oriented stream socket on top of a
// vsock packet transport: connection establishment, credit-based flow
// control, fragmentation and reassembly across the fixed packet payload
// size, and teardown.
//
// The model is single-threaded and synchronous. Connect, Accept, and
// ReadExact block until a matching packet arrives, with no timeout or
// cancellation; WriteAll never waits, it either transmits immediately or
// fails immediately. One transport carries exactly one connection, so no
// locking is needed anywhere in this package.
package socket

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/smallnest/ringbuffer"
	"github.com/tinyrange/vsock/internal/packet"
)

const (
	// streamBufferLength is the receive buffer size advertised to the peer.
	// There is no fixed local limit, so the maximum representable value is
	// advertised to keep credit update traffic low.
	streamBufferLength = math.MaxUint32

	// creditUpdateLimit triggers an unsolicited credit update. When the
	// peer's view of our free buffer space drops below one full queue's
	// worth of packets, we re-advertise before the peer can misjudge us as
	// full and stall.
	creditUpdateLimit = uint32(packet.DataBufferSize * packet.QueueSize)
)

// ConnectionState is the state of a socket's connection.
type ConnectionState int

const (
	StateConnected ConnectionState = iota
	StateDisconnected
)

// Socket is an established connection. It is created by Connector.Connect or
// Listener.Accept and consumed by Shutdown.
//
// All flow-control counters are free-running uint32 values; differences
// between them are taken with wrap-around arithmetic and measure in-flight
// bytes, exactly as they appear on the wire.
type Socket struct {
	config *config
	state  ConnectionState

	// processedBytes counts payload bytes delivered to the caller.
	processedBytes uint32
	// previousProcessedBytes is the processedBytes value most recently
	// advertised to the peer in an outgoing packet header.
	previousProcessedBytes uint32
	// sentBytes counts payload bytes handed to the transport.
	sentBytes uint32
	// peerProcessedBytes is the peer's advertised fwd_cnt.
	peerProcessedBytes uint32
	// peerBufferSize is the peer's advertised buf_alloc.
	peerBufferSize uint32

	// pending holds leftover payload from a data packet the caller has not
	// fully consumed yet. Whenever it is consulted it is non-empty.
	pending *ringbuffer.RingBuffer
}

func newSocket(cfg *config, peerBufAlloc, peerFwdCnt uint32) *Socket {
	return &Socket{
		config:             cfg,
		state:              StateConnected,
		peerBufferSize:     peerBufAlloc,
		peerProcessedBytes: peerFwdCnt,
	}
}

// State returns the connection state.
func (s *Socket) State() ConnectionState {
	return s.state
}

// ReadExact fills data completely before returning. It blocks until enough
// payload has arrived; there is no timeout. If the peer terminates the
// connection before any byte is delivered it returns io.EOF; if termination
// arrives after a partial fill it returns io.ErrUnexpectedEOF. Peer
// termination is not a failure of the stream, only its end.
func (s *Socket) ReadExact(data []byte) error {
	count := 0
	for count < len(data) {
		n, err := s.readPartial(data[count:])
		if err != nil {
			if errors.Is(err, io.EOF) && count > 0 {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		count += n
	}

	s.processedBytes += uint32(count)

	if s.mustSendCreditUpdate() {
		if err := s.sendControlPacket(packet.OpCreditUpdate); err != nil {
			return err
		}
	}
	return nil
}

// WriteAll sends all of data, splitting it into packets of at most
// MaxPayloadSize payload bytes. Every chunk is transmitted synchronously;
// there is no internal buffering. If the peer's advertised buffer cannot
// take the next chunk the call fails immediately with ErrPeerBufferFull,
// with no blocking and no accounting for the failed chunk. Chunks already
// sent stay sent.
func (s *Socket) WriteAll(data []byte) error {
	for start := 0; start < len(data); {
		end := min(start+packet.MaxPayloadSize, len(data))
		if err := s.sendDataPacket(data[start:end]); err != nil {
			return err
		}
		start = end
	}
	return nil
}

// Flush is a no-op: every write is fully transmitted synchronously.
func (s *Socket) Flush() error {
	return nil
}

// Shutdown notifies the peer that no further data will be sent or received
// from this side and releases the connection. On an already-disconnected
// socket it is a no-op. The transport carries a single connection, so no
// further connections are possible through it afterwards.
func (s *Socket) Shutdown() error {
	if s.state != StateConnected {
		return nil
	}
	p, err := packet.NewControl(s.config.localPort, s.config.hostPort, packet.OpShutdown)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	p.SetFlags(packet.FlagsAll)
	s.setCreditInfo(p)
	s.config.tr.WritePacket(p)
	s.state = StateDisconnected
	if closer, ok := s.config.tr.(io.Closer); ok {
		closer.Close()
	}
	slog.Debug("vsock: shutdown", "local", s.config.localPort, "host", s.config.hostPort)
	return nil
}

// mustSendCreditUpdate reports whether the peer's last-known view of our
// free buffer space has drifted to within creditUpdateLimit of exhaustion.
func (s *Socket) mustSendCreditUpdate() bool {
	return streamBufferLength-(s.processedBytes-s.previousProcessedBytes) < creditUpdateLimit
}

// setCreditInfo stamps the current flow-control counters onto an outgoing
// packet and records that the peer has seen them.
func (s *Socket) setCreditInfo(p *packet.Packet) {
	p.SetBufAlloc(streamBufferLength)
	p.SetFwdCnt(s.processedBytes)
	s.previousProcessedBytes = s.processedBytes
}

func (s *Socket) sendControlPacket(op packet.Op) error {
	if s.state != StateConnected {
		return &FatalError{Op: "send " + op.String(), Err: ErrDisconnected}
	}
	p, err := packet.NewControl(s.config.localPort, s.config.hostPort, op)
	if err != nil {
		return fmt.Errorf("send %s: %w", op, err)
	}
	s.setCreditInfo(p)
	s.config.tr.WritePacket(p)
	return nil
}

func (s *Socket) sendDataPacket(data []byte) error {
	if s.state != StateConnected {
		return &FatalError{Op: "write", Err: ErrDisconnected}
	}
	if len(data) > packet.MaxPayloadSize {
		return &FatalError{
			Op:  "write",
			Err: fmt.Errorf("payload of %d bytes exceeds single packet capacity %d", len(data), packet.MaxPayloadSize),
		}
	}

	chunk := uint32(len(data))
	if chunk > s.peerBufferSize-(s.sentBytes-s.peerProcessedBytes) {
		return fmt.Errorf("write: %w", ErrPeerBufferFull)
	}
	s.sentBytes += chunk

	p, err := packet.NewData(data, s.config.localPort, s.config.hostPort)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	s.setCreditInfo(p)
	s.config.tr.WritePacket(p)
	return nil
}

// readData blocks until the next data packet for this connection arrives and
// returns its payload. Control packets encountered on the way are handled in
// place: credit state is refreshed from every packet header before the
// operation is even inspected. Peer-initiated termination (RST, or SHUTDOWN
// which is acknowledged with an RST) surfaces as io.EOF.
func (s *Socket) readData() ([]byte, error) {
	if s.state != StateConnected {
		return nil, &FatalError{Op: "read", Err: ErrDisconnected}
	}
	for {
		p := s.config.tr.ReadFilteredPacket(func(p *packet.Packet) bool {
			return p.DstPort() == s.config.localPort && p.SrcPort() == s.config.hostPort
		}, true)
		if p == nil {
			// Transport gone; nothing more can arrive.
			s.state = StateDisconnected
			return nil, io.EOF
		}

		s.peerBufferSize = p.BufAlloc()
		s.peerProcessedBytes = p.FwdCnt()

		switch p.Op() {
		case packet.OpCreditRequest:
			if err := s.sendControlPacket(packet.OpCreditUpdate); err != nil {
				return nil, err
			}
		case packet.OpCreditUpdate:
			// Credit state was refreshed above; nothing else to do.
		case packet.OpRequest, packet.OpResponse:
			return nil, &FatalError{
				Op:  "read",
				Err: fmt.Errorf("%w: %s on an established connection", ErrProtocolViolation, p.Op()),
			}
		case packet.OpRst:
			s.state = StateDisconnected
			return nil, io.EOF
		case packet.OpShutdown:
			if err := s.sendControlPacket(packet.OpRst); err != nil {
				return nil, err
			}
			s.state = StateDisconnected
			return nil, io.EOF
		case packet.OpRw:
			return p.Payload(), nil
		}
	}
}

// readPartial delivers as much data as is currently available, either from
// the pending buffer or from the next data packet. Leftover bytes from a
// consumed packet go into the pending buffer, never dropped.
func (s *Socket) readPartial(dest []byte) (int, error) {
	if s.pending != nil && !s.pending.IsEmpty() {
		n, err := s.pending.Read(dest)
		if err != nil {
			return n, fmt.Errorf("read: pending buffer: %w", err)
		}
		return n, nil
	}

	payload, err := s.readData()
	if err != nil {
		return 0, err
	}

	n := copy(dest, payload)
	if n < len(payload) {
		if s.pending == nil {
			s.pending = ringbuffer.New(packet.MaxPayloadSize)
		}
		if _, err := s.pending.Write(payload[n:]); err != nil {
			return n, fmt.Errorf("read: pending buffer: %w", err)
		}
	}
	return n, nil
}
