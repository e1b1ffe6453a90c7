// Package provisioner implements the state machine every node (including
// the coordinator's own leaf-cert needs) runs at startup and on a daily
// timer to obtain and install a CA-signed leaf certificate before its
// TLS listener may start.
package provisioner

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/relaymesh/fabric/internal/ca/authority"
	"github.com/relaymesh/fabric/internal/rpcerr"
	"github.com/relaymesh/fabric/internal/securestore"
)

// State names the provisioner's current step in its issuance/renewal
// state machine.
type State int

const (
	StateCheck State = iota
	StateSpinUpValidator
	StateRequestCert
	StateAwaitCallback
	StateInstall
	StateBackoff
	StateRun
)

func (s State) String() string {
	switch s {
	case StateCheck:
		return "CHECK"
	case StateSpinUpValidator:
		return "SPIN_UP_HTTP_VALIDATOR"
	case StateRequestCert:
		return "REQUEST_CERT"
	case StateAwaitCallback:
		return "AWAIT_CALLBACK"
	case StateInstall:
		return "INSTALL"
	case StateBackoff:
		return "BACKOFF"
	case StateRun:
		return "RUN"
	default:
		return "UNKNOWN"
	}
}

const (
	secureStoreLeafCert     = "leaf-cert"
	secureStoreLeafKey      = "leaf-key"
	secureStoreLeafIssuerFP = "leaf-issuer-fingerprint"

	backoffMin = time.Second
	backoffMax = 60 * time.Second
)

// Record is the locally persisted certificate/key pair and its
// validity/issuer metadata.
type Record struct {
	CertPEM          []byte
	KeyPEM           []byte
	NotBefore        time.Time
	NotAfter         time.Time
	SANIPs           []string
	SANDNS           []string
	IssuerFingerprint string
}

// Deps are the collaborators the provisioner needs; AddressOf and
// HostnameOf let tests and the real node supply current identity
// without the provisioner importing netaddr/os directly.
type Deps struct {
	Store                 securestore.Store
	BootstrapCoordinators []string
	NodeID                string
	ValidatorPort          int
	RenewalLeadtime        time.Duration
	AddressOf              func() (ip string, err error)
	HostnameOf             func() (string, error)
	TrustedCAFingerprint   func() string
	Logger                 *slog.Logger

	// HTTPDo performs the plain-HTTP cert-request POST; overridable for tests.
	HTTPDo func(ctx context.Context, url string, body any) (*http.Response, error)
}

// Provisioner runs the CHECK/.../INSTALL loop for one node.
type Provisioner struct {
	deps Deps

	mu       sync.RWMutex
	state    State
	record   *Record
	listener *http.Server

	pendingToken  string
	pendingNodeID string
}

// New constructs a Provisioner in state CHECK.
func New(deps Deps) *Provisioner {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HTTPDo == nil {
		deps.HTTPDo = defaultHTTPDo
	}
	return &Provisioner{deps: deps, state: StateCheck}
}

// State returns the provisioner's current state.
func (p *Provisioner) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Provisioner) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Record returns the currently installed CertificateRecord, if any.
func (p *Provisioner) Record() *Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.record
}

// NeedsRenewal evaluates whether the current certificate record must be
// renewed: absence, approaching expiry, a local address or hostname
// missing from the SAN set, or a CA trust-root change (nil record means
// "absent").
func NeedsRenewal(rec *Record, now time.Time, leadtime time.Duration, localIP, hostname, trustedCAFingerprint string) (bool, string) {
	if rec == nil {
		return true, "absent"
	}
	if rec.NotAfter.Sub(now) < leadtime {
		return true, "expiring"
	}
	if localIP != "" && !containsString(rec.SANIPs, localIP) {
		return true, "ip-not-in-san"
	}
	if hostname != "" && !containsString(rec.SANDNS, hostname) {
		return true, "hostname-not-in-san"
	}
	if trustedCAFingerprint != "" && rec.IssuerFingerprint != trustedCAFingerprint {
		return true, "issuer-fingerprint-mismatch"
	}
	return false, ""
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Run drives CHECK -> ... -> RUN once, retrying REQUEST_CERT failures
// with exponential backoff (1s, 2, 4, 8, capped 60s) until ctx is
// cancelled or install succeeds. Callers invoke it on a daily timer for
// renewal checks and once at startup.
func (p *Provisioner) Run(ctx context.Context) error {
	backoff := backoffMin
	for {
		p.setState(StateCheck)

		rec, err := p.load(ctx)
		if err != nil {
			return fmt.Errorf("provisioner: load record: %w", err)
		}

		localIP := ""
		if p.deps.AddressOf != nil {
			if ip, err := p.deps.AddressOf(); err == nil {
				localIP = ip
			}
		}
		hostname := ""
		if p.deps.HostnameOf != nil {
			if h, err := p.deps.HostnameOf(); err == nil {
				hostname = h
			}
		}
		trustedFP := ""
		if p.deps.TrustedCAFingerprint != nil {
			trustedFP = p.deps.TrustedCAFingerprint()
		}

		needs, reason := NeedsRenewal(rec, time.Now(), p.deps.RenewalLeadtime, localIP, hostname, trustedFP)
		if !needs {
			p.mu.Lock()
			p.record = rec
			p.mu.Unlock()
			p.setState(StateRun)
			return nil
		}
		p.deps.Logger.Info("provisioner: renewal needed", "reason", reason)

		if err := p.issue(ctx, localIP, hostname); err != nil {
			p.deps.Logger.Warn("provisioner: issuance attempt failed, backing off", "error", err, "backoff", backoff)
			p.setState(StateBackoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
			continue
		}

		backoff = backoffMin
	}
}

func (p *Provisioner) load(ctx context.Context) (*Record, error) {
	certPEM, err := p.deps.Store.Read(ctx, securestore.NamespaceCert, secureStoreLeafCert)
	if err == securestore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	keyPEM, err := p.deps.Store.Read(ctx, securestore.NamespaceCert, secureStoreLeafKey)
	if err != nil {
		return nil, err
	}
	issuerFP, err := p.deps.Store.Read(ctx, securestore.NamespaceCert, secureStoreLeafIssuerFP)
	if err != nil && err != securestore.ErrNotFound {
		return nil, err
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("provisioner: invalid leaf cert PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("provisioner: parse leaf cert: %w", err)
	}

	sanIPs := make([]string, 0, len(cert.IPAddresses))
	for _, ip := range cert.IPAddresses {
		sanIPs = append(sanIPs, ip.String())
	}

	return &Record{
		CertPEM:           certPEM,
		KeyPEM:            keyPEM,
		NotBefore:         cert.NotBefore,
		NotAfter:          cert.NotAfter,
		SANIPs:            sanIPs,
		SANDNS:            cert.DNSNames,
		IssuerFingerprint: string(issuerFP),
	}, nil
}

func (p *Provisioner) issue(ctx context.Context, localIP, hostname string) error {
	if len(p.deps.BootstrapCoordinators) == 0 {
		return rpcerr.New(rpcerr.CertProvisioningFailed, "no bootstrap_coordinators configured")
	}

	p.setState(StateSpinUpValidator)
	token, err := authority.NewChallengeToken()
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.pendingToken = token
	p.pendingNodeID = p.deps.NodeID
	p.mu.Unlock()

	srv := p.startValidator(token)
	defer p.stopValidator(srv)

	p.setState(StateRequestCert)
	req := authority.CertRequest{
		NodeID:      p.deps.NodeID,
		Challenge:   token,
		IPAddresses: nonEmpty(localIP),
		DNSNames:    nonEmpty(hostname),
	}

	var lastErr error
	for _, coord := range p.deps.BootstrapCoordinators {
		p.setState(StateAwaitCallback)
		resp, err := p.deps.HTTPDo(ctx, fmt.Sprintf("http://%s/internal/cert-request", coord), req)
		if err != nil {
			lastErr = err
			continue
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("cert-request to %s: status %d", coord, resp.StatusCode)
			continue
		}

		var certResp authority.CertResponse
		if err := json.NewDecoder(resp.Body).Decode(&certResp); err != nil {
			lastErr = err
			continue
		}

		p.setState(StateInstall)
		return p.install(ctx, certResp)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no bootstrap coordinator reachable")
	}
	return rpcerr.Wrap(rpcerr.CertProvisioningFailed, "issuance failed", lastErr)
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func (p *Provisioner) install(ctx context.Context, resp authority.CertResponse) error {
	certPEM := []byte(resp.Certificate)
	keyPEM := []byte(resp.PrivateKey)

	if err := p.deps.Store.Write(ctx, securestore.NamespaceCert, secureStoreLeafCert, certPEM); err != nil {
		return fmt.Errorf("provisioner: persist leaf cert: %w", err)
	}
	if err := p.deps.Store.Write(ctx, securestore.NamespaceCert, secureStoreLeafKey, keyPEM); err != nil {
		return fmt.Errorf("provisioner: persist leaf key: %w", err)
	}
	if p.deps.TrustedCAFingerprint != nil {
		fp := p.deps.TrustedCAFingerprint()
		if err := p.deps.Store.Write(ctx, securestore.NamespaceCert, secureStoreLeafIssuerFP, []byte(fp)); err != nil {
			return fmt.Errorf("provisioner: persist issuer fingerprint: %w", err)
		}
	}

	rec, err := p.load(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.record = rec
	p.mu.Unlock()
	p.setState(StateRun)
	return nil
}

// startValidator binds the temporary plain-HTTP listener on
// ValidatorPort serving GET /internal/cert-challenge/{token}. Errors are
// logged, not returned, since the listener is best-effort infrastructure
// for a single issuance attempt.
func (p *Provisioner) startValidator(token string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/internal/cert-challenge/", func(w http.ResponseWriter, r *http.Request) {
		reqToken := r.URL.Path[len("/internal/cert-challenge/"):]
		p.mu.RLock()
		want, nodeID := p.pendingToken, p.pendingNodeID
		p.mu.RUnlock()

		if want == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if reqToken != want {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		resp := map[string]any{
			"challenge": want,
			"node_id":   nodeID,
			"timestamp": time.Now().Unix(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", p.deps.ValidatorPort),
		Handler: mux,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		p.deps.Logger.Error("provisioner: validator listen failed", "error", err)
		return nil
	}
	go srv.Serve(ln)
	return srv
}

func (p *Provisioner) stopValidator(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Shutdown(ctx)

	p.mu.Lock()
	p.pendingToken = ""
	p.mu.Unlock()
}

func defaultHTTPDo(ctx context.Context, url string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}

// TLSServerConfig builds a server-side TLS config from the installed
// leaf and the given trusted CA pool, for the node's own listener. The
// node refuses to start that listener until a certificate is installed.
func (p *Provisioner) TLSServerConfig(caPool *x509.CertPool) (*tls.Config, error) {
	rec := p.Record()
	if rec == nil {
		return nil, rpcerr.New(rpcerr.CertProvisioningFailed, "no leaf certificate installed")
	}
	cert, err := tls.X509KeyPair(rec.CertPEM, rec.KeyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    caPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
