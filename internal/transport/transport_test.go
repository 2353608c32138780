package transport

import (
	"bytes"
	"testing"

	"github.com/tinyrange/vsock/internal/packet"
)

func anyPacket(*packet.Packet) bool { return true }

func mustData(t *testing.T, payload []byte, src, dst uint32) *packet.Packet {
	t.Helper()
	p, err := packet.NewData(payload, src, dst)
	if err != nil {
		t.Fatalf("NewData failed: %v", err)
	}
	return p
}

func TestLoopbackDelivers(t *testing.T) {
	a, b := NewLoopbackPair()
	a.WritePacket(mustData(t, []byte("ping"), 1, 2))

	got := b.ReadFilteredPacket(anyPacket, true)
	if got == nil {
		t.Fatal("no packet delivered")
	}
	if !bytes.Equal(got.Payload(), []byte("ping")) {
		t.Errorf("payload = %q", got.Payload())
	}

	// Nothing flows back to the writer's side.
	if p := a.ReadFilteredPacket(anyPacket, false); p != nil {
		t.Errorf("unexpected packet on writing endpoint: %s", p.Op())
	}
}

func TestLoopbackFilterDiscards(t *testing.T) {
	a, b := NewLoopbackPair()
	a.WritePacket(mustData(t, []byte("other"), 1, 9))
	a.WritePacket(mustData(t, []byte("mine"), 1, 7))

	got := b.ReadFilteredPacket(func(p *packet.Packet) bool {
		return p.DstPort() == 7
	}, true)
	if got == nil || !bytes.Equal(got.Payload(), []byte("mine")) {
		t.Fatalf("filtered read returned %v", got)
	}

	// The non-matching packet was dropped, not requeued.
	if p := b.ReadFilteredPacket(anyPacket, false); p != nil {
		t.Errorf("discarded packet came back: dst=%d", p.DstPort())
	}
}

func TestLoopbackNonBlockingEmpty(t *testing.T) {
	_, b := NewLoopbackPair()
	if p := b.ReadFilteredPacket(anyPacket, false); p != nil {
		t.Errorf("read on empty queue returned %s", p.Op())
	}
}

func TestLoopbackCloseUnblocksRead(t *testing.T) {
	_, b := NewLoopbackPair()
	done := make(chan *packet.Packet)
	go func() {
		done <- b.ReadFilteredPacket(anyPacket, true)
	}()
	b.Close()
	if p := <-done; p != nil {
		t.Errorf("read on closed endpoint returned %s", p.Op())
	}
}

func TestLoopbackWriteAfterPeerClose(t *testing.T) {
	a, b := NewLoopbackPair()
	b.Close()
	// Must not block or panic; the packet is dropped.
	for i := 0; i < loopbackQueueDepth*2; i++ {
		a.WritePacket(mustData(t, []byte{byte(i)}, 1, 2))
	}
}
