package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/quic-go/quic-go"

	"remotectl/crypto"
)

// QUICALPN is the application protocol negotiated by controllers and receivers.
const QUICALPN = "remotectl/1"

// ErrFingerprintMismatch indicates a receiver certificate that does not match
// the fingerprint pinned in its address.
var ErrFingerprintMismatch = errors.New("transport: receiver fingerprint mismatch")

// QUICProvider opens one bidirectional QUIC stream per handle. Addresses look
// like "quic://host:port?fp=<key fingerprint>"; when fp is present the
// receiver's Ed25519 certificate key must match it.
type QUICProvider struct {
	WriteTimeout time.Duration
	// AllowUnpinned permits addresses without an fp parameter.
	AllowUnpinned bool
	// Certificate is presented to receivers that request a client
	// certificate. Nil sends none.
	Certificate *tls.Certificate
	QUICConfig  *quic.Config
}

// Open dials the receiver and opens the command stream.
func (p QUICProvider) Open(ctx context.Context, address string) (Handle, error) {
	target, fingerprint, err := parseQUICTarget(address)
	if err != nil {
		return nil, err
	}
	if fingerprint == "" && !p.AllowUnpinned {
		return nil, fmt.Errorf("%w: %q has no fingerprint", ErrInvalidAddress, address)
	}

	conn, err := quic.DialAddr(ctx, target, clientTLSConfig(fingerprint, p.Certificate), p.QUICConfig)
	if err != nil {
		return nil, fmt.Errorf("dial quic %s: %w", target, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("open quic stream %s: %w", target, err)
	}

	h := NewStreamHandle(stream, p.WriteTimeout).OnClose(func() error {
		return conn.CloseWithError(0, "")
	})
	return h, nil
}

// QUICAddress builds the address a receiver advertises.
func QUICAddress(hostPort, fingerprint string) string {
	address := JoinAddress(SchemeQUIC, hostPort)
	if fingerprint != "" {
		address += "?fp=" + url.QueryEscape(fingerprint)
	}
	return address
}

func parseQUICTarget(address string) (string, string, error) {
	raw := strings.TrimSpace(address)
	if !strings.Contains(raw, "://") {
		raw = JoinAddress(SchemeQUIC, raw)
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	if !strings.EqualFold(u.Scheme, SchemeQUIC) {
		return "", "", fmt.Errorf("%w: %q is not a quic address", ErrInvalidAddress, address)
	}
	if u.Port() == "" {
		return "", "", fmt.Errorf("%w: %q has no port", ErrInvalidAddress, address)
	}
	return u.Host, strings.ToLower(u.Query().Get("fp")), nil
}

// clientTLSConfig skips chain verification because receivers use self-signed
// certificates; identity is checked against the pinned key fingerprint instead.
func clientTLSConfig(fingerprint string, certificate *tls.Certificate) *tls.Config {
	config := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{QUICALPN},
		MinVersion:         tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if fingerprint == "" {
				return nil
			}
			return verifyPinnedKey(rawCerts, fingerprint)
		},
	}
	if certificate != nil {
		config.Certificates = []tls.Certificate{*certificate}
	}
	return config
}

func verifyPinnedKey(rawCerts [][]byte, fingerprint string) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("%w: no certificate presented", ErrFingerprintMismatch)
	}

	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("parse receiver certificate: %w", err)
	}
	publicKey, ok := leaf.PublicKey.(ed25519.PublicKey)
	if !ok {
		return fmt.Errorf("%w: certificate key is not Ed25519", ErrFingerprintMismatch)
	}
	if got := crypto.KeyFingerprint(publicKey); got != fingerprint {
		return fmt.Errorf("%w: got %s", ErrFingerprintMismatch, got)
	}
	return nil
}
