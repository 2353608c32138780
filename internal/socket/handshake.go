package socket

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/vsock/internal/packet"
	"github.com/tinyrange/vsock/internal/transport"
)

// config holds the connection identity and the transport it runs over. It is
// exclusively owned by whichever of connector, listener, or socket currently
// holds it; ownership moves along the handshake and never aliases, which is
// what keeps the single-connection-per-transport invariant without locking.
type config struct {
	tr        transport.Transport
	localPort uint32

	// hostPort is only meaningful once hostPortKnown is set. A listener does
	// not know its peer until a connection request arrives.
	hostPort      uint32
	hostPortKnown bool
}

// Connector initiates a connection to a listener on the host.
type Connector struct {
	config *config
}

// NewConnector builds a connector that will dial from localPort to the
// host's hostPort over the given transport. The connector takes ownership of
// the transport.
func NewConnector(tr transport.Transport, hostPort, localPort uint32) *Connector {
	return &Connector{
		config: &config{
			tr:            tr,
			localPort:     localPort,
			hostPort:      hostPort,
			hostPortKnown: true,
		},
	}
}

// Connect performs the active open. It sends a connection request and waits
// indefinitely for the host's reply; there is no timeout. A reply with any
// operation other than RESPONSE fails the attempt, and the attempt is not
// retried. Connect is one-shot: the connector is consumed whether or not the
// handshake succeeds.
func (c *Connector) Connect() (*Socket, error) {
	cfg := c.config
	if cfg == nil {
		return nil, fmt.Errorf("connect: %w", ErrAlreadyConsumed)
	}
	c.config = nil

	req, err := packet.NewControl(cfg.localPort, cfg.hostPort, packet.OpRequest)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	req.SetBufAlloc(streamBufferLength)
	req.SetFwdCnt(0)
	cfg.tr.WritePacket(req)

	resp := cfg.tr.ReadFilteredPacket(func(p *packet.Packet) bool {
		return p.DstPort() == cfg.localPort && p.SrcPort() == cfg.hostPort
	}, true)
	if resp == nil {
		return nil, fmt.Errorf("connect: %w", ErrTransportClosed)
	}
	if resp.Op() != packet.OpResponse {
		return nil, fmt.Errorf("connect: %w: got %s in response to connection request",
			ErrUnexpectedPacket, resp.Op())
	}

	slog.Debug("vsock: connected", "local", cfg.localPort, "host", cfg.hostPort)
	return newSocket(cfg, resp.BufAlloc(), resp.FwdCnt()), nil
}

// Listener waits for a connection initiated from the host.
type Listener struct {
	config *config
}

// NewListener builds a listener on the given local port. The peer port is
// unknown until a connection request arrives. The listener takes ownership of
// the transport.
func NewListener(tr transport.Transport, localPort uint32) *Listener {
	return &Listener{
		config: &config{
			tr:        tr,
			localPort: localPort,
		},
	}
}

// Accept performs the passive open. It waits indefinitely for a connection
// request on the local port; there is no timeout. The first packet for the
// port must be a REQUEST; anything else fails the accept with no retry.
// Accept is one-shot: the listener is consumed whether or not the handshake
// succeeds.
func (l *Listener) Accept() (*Socket, error) {
	cfg := l.config
	if cfg == nil {
		return nil, fmt.Errorf("accept: %w", ErrAlreadyConsumed)
	}
	l.config = nil

	req := cfg.tr.ReadFilteredPacket(func(p *packet.Packet) bool {
		return p.DstPort() == cfg.localPort
	}, true)
	if req == nil {
		return nil, fmt.Errorf("accept: %w", ErrTransportClosed)
	}
	if req.Op() != packet.OpRequest {
		return nil, fmt.Errorf("accept: %w: got %s while waiting for a connection request",
			ErrUnexpectedPacket, req.Op())
	}
	cfg.hostPort = req.SrcPort()
	cfg.hostPortKnown = true

	resp, err := packet.NewControl(cfg.localPort, cfg.hostPort, packet.OpResponse)
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}
	resp.SetBufAlloc(streamBufferLength)
	resp.SetFwdCnt(0)
	cfg.tr.WritePacket(resp)

	slog.Debug("vsock: accepted", "local", cfg.localPort, "host", cfg.hostPort)
	return newSocket(cfg, req.BufAlloc(), req.FwdCnt()), nil
}
