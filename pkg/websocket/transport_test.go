package websocket

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"
)

func TestTCPTransportRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		conn.Write([]byte("pong!"))
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("net.SplitHostPort() error = %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("strconv.Atoi() error = %v", err)
	}

	tr := NewTCPTransport()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := tr.Connect(ctx, host, port); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Disconnect()

	if err := tr.Write(ctx, []byte("ping!")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		buf := make([]byte, 64)
		n, err := tr.Read(buf)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if n > 0 {
			got = append(got, buf[:n]...)
			break
		}
	}
	if string(got) != "pong!" {
		t.Errorf("Read() = %q, want %q", got, "pong!")
	}

	<-serverDone
}

func TestTCPTransportConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ln.Close() // free the port so nothing is listening

	tr := NewTCPTransport()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = tr.Connect(ctx, host, port)
	if err == nil {
		t.Fatalf("expected a connection error")
	}
	pe, ok := err.(*ProtocolError)
	if !ok || pe.Code != SocketFailedToConnect {
		t.Errorf("err = %v, want SocketFailedToConnect", err)
	}
}

func TestTCPTransportReadTimeoutReturnsZero(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(500 * time.Millisecond)
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	tr := NewTCPTransport()
	tr.ReadTimeout = 20 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := tr.Connect(ctx, host, port); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Disconnect()

	buf := make([]byte, 16)
	n, err := tr.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Read() n = %d, want 0 on timeout", n)
	}
}

func TestTCPTransportReadReportsPeerClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close() // half-close immediately, no WebSocket closing handshake
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	tr := NewTCPTransport()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := tr.Connect(ctx, host, port); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Disconnect()

	buf := make([]byte, 16)
	deadline := time.Now().Add(2 * time.Second)
	var readErr error
	for time.Now().Before(deadline) {
		_, readErr = tr.Read(buf)
		if readErr != nil {
			break
		}
	}
	if !errors.Is(readErr, ErrPeerClosed) {
		t.Errorf("Read() error = %v, want ErrPeerClosed", readErr)
	}
}
