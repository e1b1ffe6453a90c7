// Package authority implements the coordinator-side half of the internal
// ACME-like issuance flow. It owns the CA keypair, tracks one
// PendingChallenge per requester, and signs leaf certificates after
// validating a challenge-response.
package authority

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/relaymesh/fabric/internal/rpcerr"
	"github.com/relaymesh/fabric/internal/securestore"
	"github.com/relaymesh/fabric/pkg/token"
)

const (
	caValidity   = 10 * 365 * 24 * time.Hour
	leafValidity = 365 * 24 * time.Hour

	secureStoreCAName   = "ca-cert"
	secureStoreCAKey    = "ca-key"
)

// PendingChallenge is the transient, in-memory record of an
// in-progress issuance for one requester. A new request from the same
// node_id preempts any existing one.
type PendingChallenge struct {
	ChallengeToken  string
	RequesterNodeID string
	RequesterAddr   string
	RequestedSANs   []string
	ExpiresAt       time.Time
}

const challengeTTL = 2 * time.Minute

// ChallengeFetcher fetches the requester's validator response; injected
// so tests can avoid real network I/O. Production wiring uses
// http.Client.Get against http://<ip>:<validatorPort>/internal/cert-challenge/<token>.
type ChallengeFetcher func(ctx context.Context, requesterAddr string, validatorPort int, token string) (challengeResp, error)

type challengeResp struct {
	Challenge string `json:"challenge"`
	NodeID    string `json:"node_id"`
}

// Authority is the coordinator's certificate authority.
type Authority struct {
	store          securestore.Store
	validatorPort  int
	fetchChallenge ChallengeFetcher

	caCert *x509.Certificate
	caKey  *rsa.PrivateKey

	mu         sync.Mutex
	challenges map[string]PendingChallenge
}

// New loads (or, if absent, generates and persists) the coordinator's
// CA keypair from store, and returns a ready Authority.
func New(ctx context.Context, store securestore.Store, validatorPort int, fetcher ChallengeFetcher) (*Authority, error) {
	a := &Authority{
		store:          store,
		validatorPort:  validatorPort,
		fetchChallenge: fetcher,
		challenges:     make(map[string]PendingChallenge),
	}
	if a.fetchChallenge == nil {
		a.fetchChallenge = httpChallengeFetcher
	}

	cert, key, err := loadOrCreateCA(ctx, store)
	if err != nil {
		return nil, err
	}
	a.caCert = cert
	a.caKey = key
	return a, nil
}

func loadOrCreateCA(ctx context.Context, store securestore.Store) (*x509.Certificate, *rsa.PrivateKey, error) {
	certBytes, err := store.Read(ctx, securestore.NamespaceCert, secureStoreCAName)
	if err == nil {
		keyBytes, kerr := store.Read(ctx, securestore.NamespaceCert, secureStoreCAKey)
		if kerr != nil {
			return nil, nil, fmt.Errorf("authority: ca cert present but key missing: %w", kerr)
		}
		return decodeCertAndKey(certBytes, keyBytes)
	}
	if err != securestore.ErrNotFound {
		return nil, nil, fmt.Errorf("authority: read ca cert: %w", err)
	}

	cert, key, certPEM, keyPEM, err := generateCA()
	if err != nil {
		return nil, nil, err
	}
	if werr := store.Write(ctx, securestore.NamespaceCert, secureStoreCAName, certPEM); werr != nil {
		return nil, nil, fmt.Errorf("authority: persist ca cert: %w", werr)
	}
	if werr := store.Write(ctx, securestore.NamespaceCert, secureStoreCAKey, keyPEM); werr != nil {
		return nil, nil, fmt.Errorf("authority: persist ca key: %w", werr)
	}
	return cert, key, nil
}

func generateCA() (*x509.Certificate, *rsa.PrivateKey, []byte, []byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("authority: generate ca key: %w", err)
	}

	serial, err := randSerial()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "relaymesh-internal-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(caValidity),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("authority: create ca cert: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return cert, key, certPEM, keyPEM, nil
}

func decodeCertAndKey(certPEM, keyPEM []byte) (*x509.Certificate, *rsa.PrivateKey, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, nil, fmt.Errorf("authority: invalid ca cert PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("authority: parse ca cert: %w", err)
	}

	kblock, _ := pem.Decode(keyPEM)
	if kblock == nil {
		return nil, nil, fmt.Errorf("authority: invalid ca key PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(kblock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("authority: parse ca key: %w", err)
	}
	return cert, key, nil
}

// CACertPEM returns the CA certificate encoded as PEM, served plain
// (not secret) from GET /internal/ca-cert.
func (a *Authority) CACertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.caCert.Raw})
}

// Fingerprint returns the SHA-256 fingerprint of the CA cert, used as
// the issuer_fingerprint peers compare their trust roots against.
func (a *Authority) Fingerprint() string {
	return fingerprint(a.caCert)
}

// CertRequest is the decoded body of POST /internal/cert-request.
type CertRequest struct {
	NodeID             string   `json:"node_id"`
	Challenge          string   `json:"challenge"`
	IPAddresses        []string `json:"ip_addresses"`
	DNSNames           []string `json:"dns_names"`
	OldCertFingerprint string   `json:"old_cert_fingerprint,omitempty"`
}

// CertResponse is the JSON body returned on successful issuance.
type CertResponse struct {
	Certificate string `json:"certificate"`
	PrivateKey  string `json:"private_key"`
	NodeID      string `json:"node_id"`
	ValidDays   int    `json:"valid_days"`
}

// recordChallenge records a PendingChallenge for a requester,
// preempting any existing challenge for the same node_id. Its only
// caller is HandleCertRequest, which passes the challenge token carried
// in the cert request itself.
func (a *Authority) recordChallenge(p PendingChallenge) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.challenges[p.RequesterNodeID] = p
}

// HandleCertRequest implements the coordinator's issuance policy.
// isCoordinator must be supplied by the caller (the dispatcher checks
// the local node's role).
func (a *Authority) HandleCertRequest(ctx context.Context, req CertRequest, isCoordinator bool) (*CertResponse, error) {
	if !isCoordinator {
		return nil, rpcerr.New(rpcerr.AuthFailed, "cert issuance is coordinator-only")
	}
	if req.NodeID == "" || req.Challenge == "" {
		return nil, rpcerr.New(rpcerr.TransportError, "node_id and challenge are required")
	}

	requesterIP := firstIP(req.IPAddresses)
	if requesterIP == "" {
		return nil, rpcerr.New(rpcerr.TransportError, "ip_addresses must include at least one address")
	}

	a.recordChallenge(PendingChallenge{
		ChallengeToken:  req.Challenge,
		RequesterNodeID: req.NodeID,
		RequesterAddr:   requesterIP,
		RequestedSANs:   append(append([]string{}, req.IPAddresses...), req.DNSNames...),
		ExpiresAt:       time.Now().Add(challengeTTL),
	})

	resp, err := a.fetchChallenge(ctx, requesterIP, a.validatorPort, req.Challenge)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.TransportError, "validator callback failed", err)
	}
	if !token.Equal(resp.Challenge, req.Challenge) || resp.NodeID != req.NodeID {
		return nil, rpcerr.New(rpcerr.AuthFailed, "challenge/node_id mismatch on validator callback")
	}

	certPEM, keyPEM, err := a.signLeaf(req.NodeID, req.IPAddresses, req.DNSNames)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.CertProvisioningFailed, "sign leaf", err)
	}

	a.mu.Lock()
	delete(a.challenges, req.NodeID)
	a.mu.Unlock()

	return &CertResponse{
		Certificate: string(certPEM),
		PrivateKey:  string(keyPEM),
		NodeID:      req.NodeID,
		ValidDays:   int(leafValidity / (24 * time.Hour)),
	}, nil
}

func (a *Authority) signLeaf(nodeID string, ips, dnsNames []string) ([]byte, []byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}

	serial, err := randSerial()
	if err != nil {
		return nil, nil, err
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: nodeID},
		NotBefore:    time.Now().Add(-5 * time.Minute),
		NotAfter:     time.Now().Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IPAddresses:  parseIPs(dedup(ips)),
		DNSNames:     dedup(dnsNames),
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, a.caCert, &key.PublicKey, a.caKey)
	if err != nil {
		return nil, nil, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM, nil
}

func firstIP(ips []string) string {
	if len(ips) == 0 {
		return ""
	}
	return ips[0]
}

func parseIPs(ss []string) []net.IP {
	out := make([]net.IP, 0, len(ss))
	for _, s := range ss {
		if ip := net.ParseIP(s); ip != nil {
			out = append(out, ip)
		}
	}
	return out
}

func dedup(ss []string) []string {
	seen := make(map[string]struct{}, len(ss))
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func randSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, limit)
}

func fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	out := make([]byte, 0, len(sum)*3-1)
	const hexDigits = "0123456789abcdef"
	for i, b := range sum {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hexDigits[b>>4], hexDigits[b&0xf])
	}
	return string(out)
}

// NewChallengeToken generates a random 32-byte, hex-encoded challenge
// token: a ulid.Monotonic-derived prefix (so tokens sort roughly by
// issuance time in logs) followed by pkg/token random bytes for the
// remainder.
func NewChallengeToken() (string, error) {
	buf := make([]byte, 32)
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	copy(buf, id[:])

	tail, err := token.GenerateBytes(16)
	if err != nil {
		return "", err
	}
	copy(buf[16:], tail)
	return hex.EncodeToString(buf), nil
}

func httpChallengeFetcher(ctx context.Context, requesterAddr string, validatorPort int, token string) (challengeResp, error) {
	url := fmt.Sprintf("http://%s:%d/internal/cert-challenge/%s", requesterAddr, validatorPort, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return challengeResp{}, err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return challengeResp{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return challengeResp{}, fmt.Errorf("authority: validator callback status %d", resp.StatusCode)
	}
	var out challengeResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return challengeResp{}, err
	}
	return out, nil
}
