package vsock_test

import (
	"fmt"
	"net"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/tinyrange/vsock"
)

// newPipe returns a connected pair of in-process byte streams for tests.
func newPipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	c1, c2 := net.Pipe()
	t.Cleanup(func() {
		c1.Close()
		c2.Close()
	})
	return c1, c2
}

func Example() {
	guestEnd, hostEnd := vsock.NewLoopbackPair()

	g := new(errgroup.Group)
	g.Go(func() error {
		sock, err := vsock.NewListener(hostEnd, 1024).Accept()
		if err != nil {
			return err
		}
		msg := make([]byte, 20)
		if err := sock.ReadExact(msg); err != nil {
			return err
		}
		fmt.Printf("host read: %s\n", msg)
		return sock.Shutdown()
	})

	sock, err := vsock.NewConnector(guestEnd, 1024, 1).Connect()
	if err != nil {
		panic(err)
	}
	if err := sock.WriteAll([]byte("hello from the guest")); err != nil {
		panic(err)
	}
	if err := g.Wait(); err != nil {
		panic(err)
	}

	// Output: host read: hello from the guest
}
