package tlsroots

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"

	"github.com/relaymesh/fabric/internal/ca/provisioner"
)

// LeafSource supplies the certificate/key pair presented in a TLS
// handshake, on both the server and client side. tls.Config invokes
// these callbacks once per handshake, so a source whose material can
// change (a renewed leaf) is picked up without restarting a listener
// or reconnecting existing dial pools.
type LeafSource interface {
	GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error)
	GetClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error)
}

// ProvisionerLeaf adapts a provisioner's installed Record into a
// LeafSource. Unlike a file-based certificate, the fabric's leaf lives
// in an encrypted secure-store record with no path for fsnotify to
// watch, so ProvisionerLeaf re-reads Record() on every handshake and
// only re-parses the key pair when its certificate bytes actually
// changed since the last handshake.
type ProvisionerLeaf struct {
	prov   *provisioner.Provisioner
	logger *slog.Logger

	mu      sync.RWMutex
	certPEM []byte
	parsed  *tls.Certificate
}

// NewProvisionerLeaf returns a LeafSource backed by prov. It fails if
// prov has no record installed yet: a listener must not start before
// its first certificate exists.
func NewProvisionerLeaf(prov *provisioner.Provisioner, logger *slog.Logger) (*ProvisionerLeaf, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &ProvisionerLeaf{prov: prov, logger: logger}
	if _, err := l.current(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *ProvisionerLeaf) current() (*tls.Certificate, error) {
	rec := l.prov.Record()
	if rec == nil {
		return nil, fmt.Errorf("tlsroots: no leaf certificate installed")
	}

	l.mu.RLock()
	if l.parsed != nil && bytes.Equal(l.certPEM, rec.CertPEM) {
		cert := l.parsed
		l.mu.RUnlock()
		return cert, nil
	}
	l.mu.RUnlock()

	cert, err := tls.X509KeyPair(rec.CertPEM, rec.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("tlsroots: parse leaf certificate: %w", err)
	}

	l.mu.Lock()
	l.certPEM = rec.CertPEM
	l.parsed = &cert
	l.mu.Unlock()

	l.logger.Info("tlsroots: leaf certificate loaded", "not_after", rec.NotAfter)
	return &cert, nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (l *ProvisionerLeaf) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return l.current()
}

// GetClientCertificate implements tls.Config.GetClientCertificate.
func (l *ProvisionerLeaf) GetClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	return l.current()
}

// StaticLeaf serves a single certificate/key pair loaded once from
// disk, for callers with no provisioner of their own — fabrictl
// authenticating with an operator-issued client certificate.
type StaticLeaf struct {
	cert tls.Certificate
}

// NewStaticLeaf loads a PEM certificate/key pair from disk.
func NewStaticLeaf(certFile, keyFile string) (*StaticLeaf, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("tlsroots: load key pair: %w", err)
	}
	return &StaticLeaf{cert: cert}, nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (s *StaticLeaf) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return &s.cert, nil
}

// GetClientCertificate implements tls.Config.GetClientCertificate.
func (s *StaticLeaf) GetClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	return &s.cert, nil
}
