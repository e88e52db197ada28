package transport

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/quic-go/quic-go"

	"remotectl/crypto"
)

func testIdentity(t *testing.T) *crypto.Identity {
	t.Helper()
	dir := t.TempDir()
	id, err := crypto.LoadOrCreateIdentity(filepath.Join(dir, "private.pem"), filepath.Join(dir, "public.pem"))
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity failed: %v", err)
	}
	return id
}

func TestParseQUICTarget(t *testing.T) {
	target, fp, err := parseQUICTarget("quic://10.0.0.2:7001?fp=ABCDEF")
	if err != nil {
		t.Fatalf("parseQUICTarget failed: %v", err)
	}
	if target != "10.0.0.2:7001" || fp != "abcdef" {
		t.Fatalf("expected 10.0.0.2:7001 and abcdef, got %q and %q", target, fp)
	}

	target, fp, err = parseQUICTarget("10.0.0.2:7001")
	if err != nil || target != "10.0.0.2:7001" || fp != "" {
		t.Fatalf("expected bare target accepted, got %q %q %v", target, fp, err)
	}

	for _, bad := range []string{"quic://10.0.0.2", "tcp://10.0.0.2:7001", "quic://"} {
		if _, _, err := parseQUICTarget(bad); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("expected ErrInvalidAddress for %q, got %v", bad, err)
		}
	}
}

func TestQUICAddressRoundTrip(t *testing.T) {
	address := QUICAddress("[fe80::1]:7001", "abcd")
	target, fp, err := parseQUICTarget(address)
	if err != nil {
		t.Fatalf("parseQUICTarget failed: %v", err)
	}
	if target != "[fe80::1]:7001" || fp != "abcd" {
		t.Fatalf("unexpected parse of %q: %q %q", address, target, fp)
	}
}

func TestVerifyPinnedKey(t *testing.T) {
	id := testIdentity(t)
	cert, err := id.SelfSignedCertificate("receiver")
	if err != nil {
		t.Fatalf("SelfSignedCertificate failed: %v", err)
	}

	if err := verifyPinnedKey(cert.Certificate, id.Fingerprint); err != nil {
		t.Fatalf("expected pinned key to verify, got %v", err)
	}
	if err := verifyPinnedKey(cert.Certificate, "00000000000000000000000000000000"); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected ErrFingerprintMismatch, got %v", err)
	}
	if err := verifyPinnedKey(nil, id.Fingerprint); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected ErrFingerprintMismatch without certificates, got %v", err)
	}
}

func TestQUICProviderRequiresFingerprint(t *testing.T) {
	if _, err := (QUICProvider{}).Open(context.Background(), "quic://127.0.0.1:7001"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress for unpinned address, got %v", err)
	}
}

func TestQUICProviderOpenAndWrite(t *testing.T) {
	id := testIdentity(t)
	tlsConfig, err := id.ServerTLSConfig("receiver", QUICALPN)
	if err != nil {
		t.Fatalf("ServerTLSConfig failed: %v", err)
	}

	listener, err := quic.ListenAddr("127.0.0.1:0", tlsConfig, nil)
	if err != nil {
		t.Fatalf("listen quic: %v", err)
	}
	defer listener.Close()

	received := make(chan []byte, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn, err := listener.Accept(ctx)
		if err != nil {
			return
		}
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		buf := make([]byte, 4)
		if _, err := io.ReadFull(stream, buf); err == nil {
			received <- buf
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	address := QUICAddress(listener.Addr().String(), id.Fingerprint)
	h, err := QUICProvider{WriteTimeout: time.Second}.Open(ctx, address)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Close()

	if err := h.Write([]byte{0, 0, 0, 2}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	select {
	case got := <-received:
		if got[3] != 2 {
			t.Fatalf("expected command 2, got %v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("expected bytes on the receiver stream")
	}
}

func TestQUICProviderPresentsClientCertificate(t *testing.T) {
	server := testIdentity(t)
	tlsConfig, err := server.ServerTLSConfig("receiver", QUICALPN)
	if err != nil {
		t.Fatalf("ServerTLSConfig failed: %v", err)
	}
	listener, err := quic.ListenAddr("127.0.0.1:0", tlsConfig, nil)
	if err != nil {
		t.Fatalf("listen quic: %v", err)
	}
	defer listener.Close()

	client := testIdentity(t)
	clientCert, err := client.SelfSignedCertificate("controller")
	if err != nil {
		t.Fatalf("SelfSignedCertificate failed: %v", err)
	}

	seen := make(chan string, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn, err := listener.Accept(ctx)
		if err != nil {
			return
		}
		seen <- crypto.PeerFingerprint(conn.ConnectionState().TLS)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	provider := QUICProvider{Certificate: &clientCert}
	h, err := provider.Open(ctx, QUICAddress(listener.Addr().String(), server.Fingerprint))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Close()

	select {
	case got := <-seen:
		if got != client.Fingerprint {
			t.Fatalf("expected client fingerprint %s, got %q", client.Fingerprint, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("expected receiver to accept the connection")
	}
}

func TestQUICProviderRejectsWrongFingerprint(t *testing.T) {
	id := testIdentity(t)
	tlsConfig, err := id.ServerTLSConfig("receiver", QUICALPN)
	if err != nil {
		t.Fatalf("ServerTLSConfig failed: %v", err)
	}
	listener, err := quic.ListenAddr("127.0.0.1:0", tlsConfig, nil)
	if err != nil {
		t.Fatalf("listen quic: %v", err)
	}
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	address := QUICAddress(listener.Addr().String(), "00000000000000000000000000000000")
	if h, err := (QUICProvider{}).Open(ctx, address); err == nil {
		_ = h.Close()
		t.Fatalf("expected handshake to fail for a mismatched fingerprint")
	}
}
