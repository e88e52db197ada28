package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestTCPProviderOpenAndWrite(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 8)
		if _, err := io.ReadFull(conn, buf); err == nil {
			received <- buf
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h, err := TCPProvider{WriteTimeout: time.Second}.Open(ctx, JoinAddress(SchemeTCP, listener.Addr().String()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Close()

	if err := h.Write([]byte{0, 0, 0, 1}); err != nil {
		t.Fatalf("first Write failed: %v", err)
	}
	if err := h.Write([]byte{0, 0, 0, 2}); err != nil {
		t.Fatalf("second Write failed: %v", err)
	}

	select {
	case got := <-received:
		if got[3] != 1 || got[7] != 2 {
			t.Fatalf("expected two commands in order, got %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected bytes on the server side")
	}
}

func TestTCPProviderRejectsInvalidAddress(t *testing.T) {
	if _, err := (TCPProvider{}).Open(context.Background(), "tcp://missing-port"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestTCPProviderHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := (TCPProvider{}).Open(ctx, "tcp://127.0.0.1:9"); err == nil {
		t.Fatalf("expected canceled dial to fail")
	}
}
