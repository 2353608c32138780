// Package transport provides packet transports for the vsock socket layer.
//
// A Transport owns the underlying packet queues. The socket layer only ever
// enqueues whole packets and pops filtered packets back out; queueing and
// delivery are the transport's concern.
package transport

import (
	"log/slog"

	"github.com/tinyrange/vsock/internal/packet"
)

// Filter selects packets on the receive side. Packets that fail the filter
// are discarded, not requeued.
type Filter func(*packet.Packet) bool

// Transport is the packet transport consumed by the socket layer.
type Transport interface {
	// WritePacket enqueues a packet for transmission. It is fire-and-forget:
	// there is no delivery feedback at this layer.
	WritePacket(*packet.Packet)

	// ReadFilteredPacket pops the next received packet satisfying the
	// filter. Non-matching packets are dropped. If blocking is true it waits
	// for a matching packet and returns nil only when the transport itself
	// is closed; otherwise it returns nil immediately when nothing matching
	// is queued.
	ReadFilteredPacket(filter Filter, blocking bool) *packet.Packet
}

// loopbackQueueDepth is sized well above the device queue so tests can stage
// a burst of packets without a peer draining them.
const loopbackQueueDepth = packet.QueueSize * 8

// Loopback is one endpoint of an in-memory transport pair. Packets are
// marshaled on write and parsed on read, so the full codec path is exercised.
type Loopback struct {
	rx     chan []byte
	peer   *Loopback
	closed chan struct{}
}

// NewLoopbackPair returns two connected loopback endpoints. Anything written
// on one endpoint becomes readable on the other.
func NewLoopbackPair() (*Loopback, *Loopback) {
	a := &Loopback{
		rx:     make(chan []byte, loopbackQueueDepth),
		closed: make(chan struct{}),
	}
	b := &Loopback{
		rx:     make(chan []byte, loopbackQueueDepth),
		closed: make(chan struct{}),
	}
	a.peer = b
	b.peer = a
	return a, b
}

// WritePacket implements Transport. Writes to a closed endpoint are dropped.
func (l *Loopback) WritePacket(p *packet.Packet) {
	select {
	case l.peer.rx <- p.Marshal():
	case <-l.peer.closed:
	case <-l.closed:
	}
}

// ReadFilteredPacket implements Transport.
func (l *Loopback) ReadFilteredPacket(filter Filter, blocking bool) *packet.Packet {
	for {
		var data []byte
		if blocking {
			select {
			case data = <-l.rx:
			case <-l.closed:
				return nil
			}
		} else {
			select {
			case data = <-l.rx:
			case <-l.closed:
				return nil
			default:
				return nil
			}
		}

		p, err := packet.Parse(data)
		if err != nil {
			slog.Warn("loopback: dropping ill-formed packet", "err", err)
			continue
		}
		if filter(p) {
			return p
		}
		slog.Debug("loopback: dropping filtered packet",
			"op", p.Op(), "src", p.SrcPort(), "dst", p.DstPort())
	}
}

// Close shuts the endpoint down. Blocked reads return nil and subsequent
// writes from the peer are dropped.
func (l *Loopback) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

var _ Transport = (*Loopback)(nil)
