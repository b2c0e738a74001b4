package tool

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// ErrFingerprintMismatch is returned by a pinned TLS handshake when the peer
// presents a certificate other than the one it announced.
var ErrFingerprintMismatch = errors.New("peer certificate does not match its fingerprint")

// GenerateTLSCert generates a self-signed TLS certificate and private key (DER).
func GenerateTLSCert(commonName string) (certDER []byte, keyDER []byte, err error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ECDSA private key: %v", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %v", err)
	}
	cert := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"readersync"},
		},
		NotBefore:   time.Now().Add(-time.Minute),
		NotAfter:    time.Now().Add(time.Hour * 24 * 365),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	certDER, err = x509.CreateCertificate(rand.Reader, &cert, &cert, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %v", err)
	}
	keyDER, err = x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal ECDSA private key: %v", err)
	}
	return certDER, keyDER, nil
}

// CertFingerprint is the lowercase hex SHA-256 of a DER certificate.
func CertFingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// NodeCertificate is the self-signed identity a node serves for its lifetime.
// Its Fingerprint goes into announcements and pairing codes.
type NodeCertificate struct {
	Config      *tls.Config
	Fingerprint string
}

// NewNodeCertificate generates a certificate for commonName.
func NewNodeCertificate(commonName string) (*NodeCertificate, error) {
	certDER, keyDER, err := GenerateTLSCert(commonName)
	if err != nil {
		return nil, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %v", err)
	}
	return &NodeCertificate{
		Config:      &tls.Config{Certificates: []tls.Certificate{cert}},
		Fingerprint: CertFingerprint(certDER),
	}, nil
}

// PinnedTLSConfig accepts only a leaf certificate whose fingerprint equals
// fingerprint. Chain verification is skipped since peers are self-signed.
// An empty fingerprint accepts any certificate.
func PinnedTLSConfig(fingerprint string) *tls.Config {
	want := strings.ToLower(fingerprint)
	cfg := &tls.Config{InsecureSkipVerify: true}
	if want == "" {
		return cfg
	}
	cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return ErrFingerprintMismatch
		}
		got := CertFingerprint(rawCerts[0])
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			return fmt.Errorf("%w: got %s", ErrFingerprintMismatch, got)
		}
		return nil
	}
	return cfg
}
