package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/relaymesh/fabric/internal/ca/authority"
)

// ErrNoCertsFound is returned when no certificates are found in PEM data.
var ErrNoCertsFound = errors.New("tlsroots: no certificates found in PEM data")

// Pool holds the CA certificate(s) a node or fabrictl trusts when
// verifying a peer's leaf certificate.
type Pool struct {
	certPool *x509.CertPool
}

// NewEmptyPool creates a certificate pool trusting nothing yet.
func NewEmptyPool() *Pool {
	return &Pool{certPool: x509.NewCertPool()}
}

// NewPoolFromAuthority builds a pool trusting exactly the CA an
// in-process authority.Authority signs with. This is the coordinator's
// path: it never needs to fetch its own CA certificate over the
// bootstrap listener.
func NewPoolFromAuthority(auth *authority.Authority) (*Pool, error) {
	p := NewEmptyPool()
	if err := p.AddCertPEM(auth.CACertPEM()); err != nil {
		return nil, fmt.Errorf("tlsroots: load CA from authority: %w", err)
	}
	return p, nil
}

// NewPoolFromCACert builds a pool trusting exactly the given CA
// certificate, the shape a worker or fabrictl needs after fetching the
// cluster CA certificate from a bootstrap coordinator or a file.
func NewPoolFromCACert(caCert *x509.Certificate) *Pool {
	p := NewEmptyPool()
	p.certPool.AddCert(caCert)
	return p
}

// AddCertFile adds certificates from a PEM file to the pool.
func (p *Pool) AddCertFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read cert file %s: %w", path, err)
	}
	return p.AddCertPEM(data)
}

// AddCertPEM adds every certificate found in PEM-encoded data.
func (p *Pool) AddCertPEM(pemData []byte) error {
	var added int

	for len(pemData) > 0 {
		var block *pem.Block
		block, pemData = pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("tlsroots: parse certificate: %w", err)
		}
		p.certPool.AddCert(cert)
		added++
	}

	if added == 0 {
		return ErrNoCertsFound
	}
	return nil
}

// ParseCACert decodes a single PEM-encoded certificate, the shape the
// bootstrap listener's GET /internal/ca-cert response and the
// --ca-cert CLI flag both take.
func ParseCACert(pemData []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrNoCertsFound
	}
	return x509.ParseCertificate(block.Bytes)
}

// Pool returns the underlying x509.CertPool.
func (p *Pool) Pool() *x509.CertPool {
	return p.certPool
}

// TLSConfig builds a client-side TLS config trusting this pool as root
// CAs, with no client certificate — used only where the caller has no
// leaf identity of its own (e.g. probing the bootstrap listener).
func (p *Pool) TLSConfig() *tls.Config {
	return &tls.Config{
		RootCAs:    p.certPool,
		MinVersion: tls.VersionTLS12,
	}
}

// MutualTLSConfig builds an mTLS config that both trusts this pool as
// root/client CA and presents leaf's certificate, suitable for a node
// dialing a peer or serving its own RPC listener.
func (p *Pool) MutualTLSConfig(leaf LeafSource) *tls.Config {
	return &tls.Config{
		RootCAs:              p.certPool,
		ClientCAs:            p.certPool,
		ClientAuth:           tls.RequireAndVerifyClientCert,
		MinVersion:           tls.VersionTLS12,
		GetCertificate:       leaf.GetCertificate,
		GetClientCertificate: leaf.GetClientCertificate,
	}
}
