// Package pool implements a per-peer TLS client pool keyed by node_id
// (not address, so it survives address changes) with keep-alive, mTLS
// verification, and LRU caps.
package pool

import (
	"container/list"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"
	"sync"
	"time"
)

// TrustRoot is the CA-derived material a client needs to dial peers
// and authenticate itself under mTLS.
type TrustRoot struct {
	// CAFingerprint identifies which CA cert this trust root was built
	// from; entries built from a stale fingerprint are discarded and
	// rebuilt.
	CAFingerprint string
	CACert        *x509.Certificate
	LeafCert      tls.Certificate
}

// Config tunes pool-wide caps.
type Config struct {
	MaxTotalConnections int
	MaxIdlePerPeer       int
	IdleTimeout          time.Duration
	KeepAliveCount       int
}

// DefaultConfig returns sane pool caps.
func DefaultConfig() Config {
	return Config{
		MaxTotalConnections: 100,
		MaxIdlePerPeer:      2,
		IdleTimeout:         90 * time.Second,
		KeepAliveCount:      100,
	}
}

type entry struct {
	nodeID        string
	caFingerprint string
	client        *http.Client
	transport     *http.Transport
	lruElem       *list.Element
}

// Pool is the concurrent per-peer TLS client pool.
type Pool struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List // front = most recently used
}

// New constructs an empty Pool.
func New(cfg Config) *Pool {
	if cfg.MaxTotalConnections <= 0 {
		cfg = DefaultConfig()
	}
	return &Pool{
		cfg:     cfg,
		entries: make(map[string]*entry),
		lru:     list.New(),
	}
}

// Get returns the *http.Client for nodeID, building (or rebuilding, if
// the trusted CA fingerprint changed) one as needed.
func (p *Pool) Get(nodeID string, trust TrustRoot) (*http.Client, error) {
	if trust.CACert == nil {
		return nil, errors.New("pool: trust root has no CA certificate")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[nodeID]; ok {
		if e.caFingerprint == trust.CAFingerprint {
			p.lru.MoveToFront(e.lruElem)
			return e.client, nil
		}
		// Stale trust root: discard and rebuild below.
		e.transport.CloseIdleConnections()
		p.lru.Remove(e.lruElem)
		delete(p.entries, nodeID)
	}

	pool := x509.NewCertPool()
	pool.AddCert(trust.CACert)

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			RootCAs:      pool,
			Certificates: []tls.Certificate{trust.LeafCert},
			MinVersion:   tls.VersionTLS12,
		},
		MaxIdleConnsPerHost: p.cfg.MaxIdlePerPeer,
		IdleConnTimeout:     p.cfg.IdleTimeout,
		DisableKeepAlives:   false,
	}

	client := &http.Client{Transport: transport}

	e := &entry{
		nodeID:        nodeID,
		caFingerprint: trust.CAFingerprint,
		client:        client,
		transport:     transport,
	}
	e.lruElem = p.lru.PushFront(e)
	p.entries[nodeID] = e

	p.evictOverCapLocked()

	return client, nil
}

// Evict forcibly removes and closes the pooled client for nodeID, if any.
func (p *Pool) Evict(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictLocked(nodeID)
}

func (p *Pool) evictLocked(nodeID string) {
	e, ok := p.entries[nodeID]
	if !ok {
		return
	}
	e.transport.CloseIdleConnections()
	p.lru.Remove(e.lruElem)
	delete(p.entries, nodeID)
}

// evictOverCapLocked closes least-recently-used peer clients until the
// pool is within MaxTotalConnections.
func (p *Pool) evictOverCapLocked() {
	for len(p.entries) > p.cfg.MaxTotalConnections {
		back := p.lru.Back()
		if back == nil {
			return
		}
		e := back.Value.(*entry)
		p.evictLocked(e.nodeID)
	}
}

// Size returns the number of pooled peer clients.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// CloseAll tears down every pooled client. Used at shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, e := range p.entries {
		e.transport.CloseIdleConnections()
		delete(p.entries, id)
	}
	p.lru.Init()
}

// Fingerprint computes the SHA-256 fingerprint of cert, formatted as a
// colon-delimited hex string. Used to compare CertificateRecord's
// issuer_fingerprint against a trusted CA.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	out := make([]byte, 0, len(sum)*3-1)
	for i, b := range sum {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hexDigits[b>>4], hexDigits[b&0xf])
	}
	return string(out)
}

const hexDigits = "0123456789abcdef"
