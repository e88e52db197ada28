package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// certificateLifetime bounds self-signed certificates. They are reissued on
// every start, so only the key is long-lived.
const certificateLifetime = 365 * 24 * time.Hour

// SelfSignedCertificate issues a certificate for the identity's key.
func (id *Identity) SelfSignedCertificate(commonName string) (tls.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(certificateLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, id.PublicKey, id.PrivateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  id.PrivateKey,
	}, nil
}

// ServerTLSConfig returns a TLS 1.3 config presenting the identity under the
// given ALPN protocols. Client certificates are requested but not verified;
// see PeerFingerprint.
func (id *Identity) ServerTLSConfig(commonName string, protocols ...string) (*tls.Config, error) {
	cert, err := id.SelfSignedCertificate(commonName)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   protocols,
		MinVersion:   tls.VersionTLS13,
		ClientAuth:   tls.RequestClientCert,
	}, nil
}

// PeerFingerprint returns the key fingerprint of the first certificate a
// peer presented, or "" when it sent none or its key is not Ed25519.
func PeerFingerprint(state tls.ConnectionState) string {
	if len(state.PeerCertificates) == 0 {
		return ""
	}
	publicKey, ok := state.PeerCertificates[0].PublicKey.(ed25519.PublicKey)
	if !ok {
		return ""
	}
	return KeyFingerprint(publicKey)
}
