package transport

import (
	"bytes"
	"net"
	"testing"

	"github.com/tinyrange/vsock/internal/packet"
)

func newStreamPair() (*Stream, *Stream) {
	c1, c2 := net.Pipe()
	return NewStream(c1), NewStream(c2)
}

func TestStreamRoundTrip(t *testing.T) {
	a, b := newStreamPair()
	defer a.Close()
	defer b.Close()

	payload := bytes.Repeat([]byte{0xa5}, packet.MaxPayloadSize)
	a.WritePacket(mustData(t, payload, 5, 1234))

	got := b.ReadFilteredPacket(anyPacket, true)
	if got == nil {
		t.Fatal("no packet received")
	}
	if got.Op() != packet.OpRw || got.SrcPort() != 5 || got.DstPort() != 1234 {
		t.Errorf("header mismatch: op=%s %d->%d", got.Op(), got.SrcPort(), got.DstPort())
	}
	if !bytes.Equal(got.Payload(), payload) {
		t.Error("payload mismatch")
	}
}

func TestStreamBothDirections(t *testing.T) {
	a, b := newStreamPair()
	defer a.Close()
	defer b.Close()

	a.WritePacket(mustData(t, []byte("to b"), 1, 2))
	b.WritePacket(mustData(t, []byte("to a"), 2, 1))

	if got := b.ReadFilteredPacket(anyPacket, true); got == nil || !bytes.Equal(got.Payload(), []byte("to b")) {
		t.Fatalf("b received %v", got)
	}
	if got := a.ReadFilteredPacket(anyPacket, true); got == nil || !bytes.Equal(got.Payload(), []byte("to a")) {
		t.Fatalf("a received %v", got)
	}
}

func TestStreamFilterDiscards(t *testing.T) {
	a, b := newStreamPair()
	defer a.Close()
	defer b.Close()

	a.WritePacket(mustData(t, []byte("skip"), 1, 9))
	a.WritePacket(mustData(t, []byte("keep"), 1, 7))

	got := b.ReadFilteredPacket(func(p *packet.Packet) bool {
		return p.DstPort() == 7
	}, true)
	if got == nil || !bytes.Equal(got.Payload(), []byte("keep")) {
		t.Fatalf("filtered read returned %v", got)
	}
}

func TestStreamCloseEndsReads(t *testing.T) {
	a, b := newStreamPair()
	defer b.Close()

	a.Close()
	if got := b.ReadFilteredPacket(anyPacket, true); got != nil {
		t.Errorf("read after peer close returned %s", got.Op())
	}
}
