package vsock_test

import (
	"bytes"
	"math/rand"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/tinyrange/vsock"
)

func TestEndToEnd(t *testing.T) {
	guestEnd, hostEnd := vsock.NewLoopbackPair()

	var hostSock *vsock.Socket
	g := new(errgroup.Group)
	g.Go(func() error {
		var err error
		hostSock, err = vsock.NewListener(hostEnd, 1024).Accept()
		return err
	})

	guestSock, err := vsock.NewConnector(guestEnd, 1024, 1).Connect()
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	// Push a payload spanning several packets through in both directions.
	payload := make([]byte, 2*vsock.MaxPayloadSize+5)
	rand.New(rand.NewSource(1)).Read(payload)

	if err := guestSock.WriteAll(payload); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}
	got := make([]byte, len(payload))
	if err := hostSock.ReadExact(got); err != nil {
		t.Fatalf("ReadExact() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("guest->host payload corrupted")
	}

	if err := hostSock.WriteAll(payload); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}
	if err := guestSock.ReadExact(got); err != nil {
		t.Fatalf("ReadExact() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("host->guest payload corrupted")
	}

	if err := guestSock.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if guestSock.State() != vsock.StateDisconnected {
		t.Errorf("State() = %v, want StateDisconnected", guestSock.State())
	}
}

func TestStreamTransportEndToEnd(t *testing.T) {
	// The same exchange across the byte-stream carrier instead of the
	// loopback pair.
	c1, c2 := newPipe(t)

	var hostSock *vsock.Socket
	g := new(errgroup.Group)
	g.Go(func() error {
		var err error
		hostSock, err = vsock.NewListener(vsock.NewStream(c2), 2048).Accept()
		return err
	})

	guestSock, err := vsock.NewConnector(vsock.NewStream(c1), 2048, 3).Connect()
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	if err := guestSock.WriteAll([]byte("across the pipe")); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}
	got := make([]byte, 15)
	if err := hostSock.ReadExact(got); err != nil {
		t.Fatalf("ReadExact() error = %v", err)
	}
	if string(got) != "across the pipe" {
		t.Errorf("read %q", got)
	}
}
