// Package dispatcher implements the server-side HTTPS endpoint that
// accepts JSON-RPC 2.0 requests, admits them through the rate limiter
// and an auth check, executes the registered handler, and serializes
// the result or a mapped error object. Built directly on net/http +
// encoding/json (not connect-go) since the wire format is literal
// JSON-RPC 2.0 over HTTPS POST /rpc, not protobuf-over-Connect. The
// middleware chain (RequestID -> Recover -> RateLimit -> Auth ->
// handler) supports bearer-token-or-mTLS-peer-cert auth.
package dispatcher

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/fabric/internal/ca/authority"
	"github.com/relaymesh/fabric/internal/ratelimit"
	"github.com/relaymesh/fabric/internal/rpc/registry"
	"github.com/relaymesh/fabric/internal/rpcerr"
	"github.com/relaymesh/fabric/internal/telemetry/logger"
	"github.com/relaymesh/fabric/internal/telemetry/metric"
)

// AuthMode selects how the /rpc endpoint authenticates callers.
type AuthMode int

const (
	// AuthMTLS trusts the TLS layer: a verified client certificate
	// (already enforced by the listener's tls.RequireAndVerifyClientCert
	// config) identifies the caller by its certificate CommonName.
	AuthMTLS AuthMode = iota
	// AuthBearerToken requires an "Authorization: Bearer <token>" header
	// matching Config.BearerToken.
	AuthBearerToken
)

// Config wires a Dispatcher to its collaborators. Authority and
// CACertPEM are nil on workers; the coordinator-only endpoints 403 in
// that case.
type Config struct {
	Registry    *registry.Registry
	RateLimiter *ratelimit.Limiter
	// Gossip handles POST /internal/gossip frames (see
	// internal/cluster/gossip.Gossip.ServeHTTP).
	Gossip http.Handler

	IsCoordinator bool
	Authority     *authority.Authority // coordinator-only cert issuance
	CACertPEM     func() []byte        // coordinator-only, for GET /internal/ca-cert

	AuthMode    AuthMode
	BearerToken string

	Metrics *metric.Registry
	Logger  logger.Logger
}

// Dispatcher is the server-side JSON-RPC endpoint.
type Dispatcher struct {
	cfg Config
}

// New constructs a Dispatcher from cfg.
func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger, _ = noopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.NewRegistry()
	}
	return &Dispatcher{cfg: cfg}
}

// Handler returns the http.Handler exposing every fixed path a node
// serves: POST /rpc, GET /health, GET /internal/ca-cert,
// POST /internal/cert-request, POST /internal/gossip.
func (d *Dispatcher) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/rpc", d.recoverMW(d.rateLimitMW(ratelimit.ClassRPC, d.authMW(http.HandlerFunc(d.handleRPC)))))
	mux.Handle("/health", d.recoverMW(d.rateLimitMW(ratelimit.ClassHealth, http.HandlerFunc(d.handleHealth))))
	mux.Handle("/internal/ca-cert", d.recoverMW(http.HandlerFunc(d.handleCACert)))
	mux.Handle("/internal/cert-request", d.recoverMW(http.HandlerFunc(d.handleCertRequest)))
	if d.cfg.Gossip != nil {
		// Gossip frames ride the same listener as /rpc, so the shared
		// tls.Config's RequireAndVerifyClientCert (internal/infra/tlsroots)
		// already authenticates every peer before ServeHTTP ever runs;
		// authMW's bearer-token branch has no equivalent for node-to-node
		// traffic and is skipped. The request still passes through the
		// rate limiter, under ClassInternal rather than ClassRPC since it
		// isn't a client-initiated method call; the limiter never rejects
		// ClassInternal, so gossip frames are not throttled.
		mux.Handle("/internal/gossip", d.recoverMW(d.rateLimitMW(ratelimit.ClassInternal, d.cfg.Gossip)))
	}
	return d.loggerMW(requestIDMW(mux))
}

// loggerMW attaches the configured Logger to the request context so
// downstream handlers can call logger.L(r.Context()) and get both the
// dispatcher's own logger and per-request enrichment (request ID, and
// node ID once a handler learns it) without threading cfg.Logger
// through every call site.
func (d *Dispatcher) loggerMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithLogger(r.Context(), d.cfg.Logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// --- middleware ---

// requestIDMW assigns each inbound request the request ID carried in
// logger's context helpers, so every d.cfg.Logger call further down the
// chain can be replaced with logger.L(r.Context()) and pick up
// "request_id" automatically instead of every handler passing it by hand.
func requestIDMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := logger.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (d *Dispatcher) recoverMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.L(r.Context()).Error("dispatcher: panic recovered", "panic", rec, "path", r.URL.Path)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (d *Dispatcher) rateLimitMW(class ratelimit.Class, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d.cfg.RateLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		identity := callerIdentity(r)
		allowed, retryAfter := d.cfg.RateLimiter.Allow(class, identity)
		if !allowed {
			if d.cfg.Metrics != nil {
				d.cfg.Metrics.RateLimitRejections.WithLabelValues(string(class)).Inc()
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds()+0.999)))
			writeJSONRPCError(w, "", http.StatusTooManyRequests, rpcerr.New(rpcerr.RateLimited, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (d *Dispatcher) authMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := d.authenticate(r); err != nil {
			writeJSONRPCError(w, "", http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (d *Dispatcher) authenticate(r *http.Request) error {
	switch d.cfg.AuthMode {
	case AuthBearerToken:
		const prefix = "Bearer "
		h := r.Header.Get("Authorization")
		if len(h) <= len(prefix) || h[:len(prefix)] != prefix || h[len(prefix):] != d.cfg.BearerToken {
			return rpcerr.New(rpcerr.AuthFailed, "missing or invalid bearer token")
		}
		return nil
	default: // AuthMTLS
		if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
			return rpcerr.New(rpcerr.AuthFailed, "no verified client certificate presented")
		}
		return nil
	}
}

func callerIdentity(r *http.Request) string {
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		return r.TLS.PeerCertificates[0].Subject.CommonName
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// --- route handlers ---

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      string          `json:"id"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
	ID      string          `json:"id"`
}

func (d *Dispatcher) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req jsonrpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONRPCError(w, "", http.StatusBadRequest, rpcerr.New(rpcerr.TransportError, "parse error"), withCode(-32700))
		return
	}

	start := time.Now()
	entry, ok := d.cfg.Registry.Lookup(req.Method)
	if !ok {
		d.recordRPC(req.Method, rpcerr.MethodNotFound, start)
		writeJSONRPCError(w, req.ID, http.StatusOK, rpcerr.New(rpcerr.MethodNotFound, req.Method))
		return
	}

	result, err := entry.Handler(r.Context(), req.Params)
	if err != nil {
		kind := rpcerr.Of(err)
		d.recordRPC(req.Method, kind, start)
		writeJSONRPCError(w, req.ID, http.StatusOK, err)
		return
	}

	d.recordRPC(req.Method, rpcerr.Unknown, start)
	out, merr := json.Marshal(result)
	if merr != nil {
		writeJSONRPCError(w, req.ID, http.StatusOK, rpcerr.Wrap(rpcerr.TransportError, "marshal result", merr))
		return
	}

	writeJSON(w, http.StatusOK, jsonrpcResponse{JSONRPC: "2.0", Result: out, ID: req.ID})
}

func (d *Dispatcher) recordRPC(method string, kind rpcerr.Kind, start time.Time) {
	if d.cfg.Metrics == nil {
		return
	}
	label := "ok"
	code := 0
	if kind != rpcerr.Unknown {
		label = kind.String()
		code = kind.JSONRPCCode()
	}
	d.cfg.Metrics.RPCRequestsTotal.WithLabelValues(label, strconv.Itoa(code)).Inc()
	d.cfg.Metrics.RPCRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func (d *Dispatcher) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"role":   roleString(d.cfg.IsCoordinator),
	})
}

func roleString(isCoordinator bool) string {
	if isCoordinator {
		return "coordinator"
	}
	return "worker"
}

func (d *Dispatcher) handleCACert(w http.ResponseWriter, r *http.Request) {
	if !d.cfg.IsCoordinator || d.cfg.CACertPEM == nil {
		http.Error(w, "coordinator only", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(d.cfg.CACertPEM())
}

func (d *Dispatcher) handleCertRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !d.cfg.IsCoordinator || d.cfg.Authority == nil {
		http.Error(w, "coordinator only", http.StatusForbidden)
		return
	}

	var req authority.CertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ctx := logger.WithNodeID(r.Context(), req.NodeID)
	resp, err := d.cfg.Authority.HandleCertRequest(ctx, req, d.cfg.IsCoordinator)
	if err != nil {
		logger.L(ctx).Warn("dispatcher: cert-request failed", "error", err)
		switch rpcerr.Of(err) {
		case rpcerr.AuthFailed:
			http.Error(w, err.Error(), http.StatusForbidden)
		case rpcerr.TransportError:
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	if d.cfg.Metrics != nil {
		d.cfg.Metrics.CertIssuances.Inc()
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- encoding helpers ---

type errOption func(*jsonrpcError)

func withCode(code int) errOption {
	return func(e *jsonrpcError) { e.Code = code }
}

func writeJSONRPCError(w http.ResponseWriter, id string, httpStatus int, err error, opts ...errOption) {
	kind := rpcerr.Of(err)
	rerr := &jsonrpcError{Code: kind.JSONRPCCode(), Message: err.Error()}
	if rerr.Code == 0 {
		rerr.Code = -32002
	}
	for _, o := range opts {
		o(rerr)
	}
	if kind == rpcerr.AuthFailed && httpStatus == http.StatusOK {
		httpStatus = http.StatusUnauthorized
	}
	writeJSON(w, httpStatus, jsonrpcResponse{JSONRPC: "2.0", Error: rerr, ID: id})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func noopLogger() (logger.Logger, error) {
	return logger.New(logger.DefaultConfig())
}
