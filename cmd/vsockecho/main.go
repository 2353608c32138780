// Command vsockecho drives a full connect/echo/shutdown exchange through the
// socket layer over an in-memory transport pair. It exists as a smoke test
// and a worked example: one goroutine plays the host (listener, echoing
// everything back), the main goroutine plays the guest (connector).
package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/tinyrange/vsock"
)

func main() {
	var (
		hostPort  = flag.Uint("port", 1024, "host port the listener waits on")
		localPort = flag.Uint("local", 1, "guest-side local port")
		size      = flag.Int("bytes", 3*vsock.MaxPayloadSize+17, "payload bytes to echo")
		readChunk = flag.Int("read-chunk", 1000, "read the echo back in chunks of this size")
		seed      = flag.Int64("seed", 1, "payload generator seed")
		verbose   = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(uint32(*hostPort), uint32(*localPort), *size, *readChunk, *seed); err != nil {
		slog.Error("vsockecho failed", "err", err)
		os.Exit(1)
	}
	slog.Info("echo round trip verified", "bytes", *size)
}

func run(hostPort, localPort uint32, size, readChunk int, seed int64) error {
	guestEnd, hostEnd := vsock.NewLoopbackPair()

	g := new(errgroup.Group)
	g.Go(func() error {
		return serve(hostEnd, hostPort)
	})

	payload := make([]byte, size)
	rand.New(rand.NewSource(seed)).Read(payload)

	sock, err := vsock.NewConnector(guestEnd, hostPort, localPort).Connect()
	if err != nil {
		return err
	}

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(size))
	if err := sock.WriteAll(header[:]); err != nil {
		return err
	}
	if err := sock.WriteAll(payload); err != nil {
		return err
	}

	echo := make([]byte, size)
	for start := 0; start < size; {
		end := min(start+readChunk, size)
		if err := sock.ReadExact(echo[start:end]); err != nil {
			return err
		}
		start = end
	}
	if !bytes.Equal(payload, echo) {
		return fmt.Errorf("echo mismatch: %d bytes differ", size)
	}

	if err := sock.Shutdown(); err != nil {
		return err
	}
	return g.Wait()
}

// serve accepts one connection and echoes a single length-prefixed message.
func serve(tr vsock.Transport, port uint32) error {
	sock, err := vsock.NewListener(tr, port).Accept()
	if err != nil {
		return err
	}

	var header [4]byte
	if err := sock.ReadExact(header[:]); err != nil {
		return err
	}
	size := binary.LittleEndian.Uint32(header[:])

	body := make([]byte, size)
	if err := sock.ReadExact(body); err != nil {
		return err
	}
	if err := sock.WriteAll(body); err != nil {
		return err
	}
	return sock.Shutdown()
}
