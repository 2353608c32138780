package transport

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"

	"github.com/tinyrange/vsock/internal/packet"
)

// Stream frames vsock packets over a reliable byte stream such as a UNIX
// socket, a TCP connection, or a kernel vsock connection. Each packet is
// preceded by a 4-byte little-endian length.
//
// A reader goroutine parses incoming frames into an internal queue so both
// blocking and non-blocking reads work against any carrier.
type Stream struct {
	carrier  io.ReadWriteCloser
	incoming chan *packet.Packet
}

// NewStream wraps a byte-stream carrier in a packet transport and starts its
// reader. Closing the transport closes the carrier.
func NewStream(carrier io.ReadWriteCloser) *Stream {
	s := &Stream{
		carrier:  carrier,
		incoming: make(chan *packet.Packet, loopbackQueueDepth),
	}
	go s.readLoop()
	return s
}

func (s *Stream) readLoop() {
	defer close(s.incoming)
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(s.carrier, lenBuf[:]); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				slog.Warn("stream: carrier read failed", "err", err)
			}
			return
		}
		frameLen := binary.LittleEndian.Uint32(lenBuf[:])
		if frameLen < packet.HeaderSize || frameLen > packet.DataBufferSize {
			slog.Warn("stream: bad frame length", "len", frameLen)
			return
		}
		frame := make([]byte, frameLen)
		if _, err := io.ReadFull(s.carrier, frame); err != nil {
			slog.Warn("stream: truncated frame", "err", err)
			return
		}
		p, err := packet.Parse(frame)
		if err != nil {
			slog.Warn("stream: dropping ill-formed packet", "err", err)
			continue
		}
		s.incoming <- p
	}
}

// WritePacket implements Transport. Carrier write failures are logged and the
// transport is torn down; at this layer a write either succeeds or the
// connection is dead.
func (s *Stream) WritePacket(p *packet.Packet) {
	data := p.Marshal()
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := s.carrier.Write(lenBuf[:]); err != nil {
		slog.Error("stream: carrier write failed", "err", err)
		s.carrier.Close()
		return
	}
	if _, err := s.carrier.Write(data); err != nil {
		slog.Error("stream: carrier write failed", "err", err)
		s.carrier.Close()
	}
}

// ReadFilteredPacket implements Transport.
func (s *Stream) ReadFilteredPacket(filter Filter, blocking bool) *packet.Packet {
	for {
		var p *packet.Packet
		var ok bool
		if blocking {
			p, ok = <-s.incoming
		} else {
			select {
			case p, ok = <-s.incoming:
			default:
				return nil
			}
		}
		if !ok {
			return nil
		}
		if filter(p) {
			return p
		}
		slog.Debug("stream: dropping filtered packet",
			"op", p.Op(), "src", p.SrcPort(), "dst", p.DstPort())
	}
}

// Close closes the carrier, which stops the reader.
func (s *Stream) Close() error {
	return s.carrier.Close()
}

var _ Transport = (*Stream)(nil)
