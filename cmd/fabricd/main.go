// Package main provides the entry point for fabricd.
//
// fabricd is one cluster-core node process: it runs gossip membership,
// the RPC service fabric, and (on the coordinator) the internal
// certificate authority, or (on every node) the certificate
// provisioner that bootstraps its own TLS identity from a cold start.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/relaymesh/fabric/internal/ca/authority"
	"github.com/relaymesh/fabric/internal/ca/provisioner"
	"github.com/relaymesh/fabric/internal/cluster"
	"github.com/relaymesh/fabric/internal/cluster/directory"
	"github.com/relaymesh/fabric/internal/cluster/gossip"
	"github.com/relaymesh/fabric/internal/cluster/netaddr"
	"github.com/relaymesh/fabric/internal/config"
	"github.com/relaymesh/fabric/internal/infra/buildinfo"
	"github.com/relaymesh/fabric/internal/infra/tlsroots"
	"github.com/relaymesh/fabric/internal/lifecycle"
	"github.com/relaymesh/fabric/internal/ratelimit"
	"github.com/relaymesh/fabric/internal/rpc/dispatcher"
	"github.com/relaymesh/fabric/internal/rpc/pool"
	"github.com/relaymesh/fabric/internal/rpc/proxy"
	"github.com/relaymesh/fabric/internal/rpc/registry"
	"github.com/relaymesh/fabric/internal/securestore"
	"github.com/relaymesh/fabric/internal/service"
	"github.com/relaymesh/fabric/internal/telemetry/logger"
	"github.com/relaymesh/fabric/internal/telemetry/metric"
)

// certRenewalCheckInterval is how often the provisioner re-runs its
// CHECK state after the node holds a leaf certificate, independent of
// any renewalTrigger fired by an address change.
const certRenewalCheckInterval = 24 * time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "", "path to YAML configuration file")
	showVersion := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fabricd %s\n", buildinfo.String())
		return nil
	}

	cfg, err := config.Load(*configFile, nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stdout})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log.Info("starting fabricd", "version", buildinfo.Version, "commit", buildinfo.Commit, "node_id", cfg.NodeID, "role", cfg.Role)

	role, _ := cluster.ParseRole(cfg.Role)
	metrics := metric.NewRegistry()

	store, salt, err := securestore.NewBadgerStoreFromKeyMaterial(
		securestore.BadgerConfig{Dir: cfg.SecureStoreDir, Logger: nil},
		securestore.KeyMaterial{Passphrase: []byte(cfg.SecureStorePassphrase)},
	)
	if err != nil {
		return fmt.Errorf("open securestore: %w", err)
	}
	if salt != nil {
		log.Debug("securestore: passphrase-derived cipher active", "salt_len", len(salt))
	}
	store.RegisterMetrics(metrics.Registerer())

	selector := netaddr.NewSelector()
	selectCtx, selectCancel := context.WithTimeout(context.Background(), 10*time.Second)
	localIP, err := selector.Select(selectCtx, cfg.BootstrapCoordinators)
	selectCancel()
	if err != nil {
		log.Warn("netaddr: address selection failed, falling back to bind_address", "error", err)
	}

	var addrMu sync.Mutex
	address := cfg.BindAddress
	if localIP != nil {
		address = localIP.String()
	}

	dir := directory.New(directory.Config{
		SelfID:         cfg.NodeID,
		SuspectTimeout: cfg.SuspectTimeout(),
		DeadTimeout:    cfg.DeadTimeout(),
		EvictTimeout:   cfg.EvictTimeout(),
	})
	selfServices := map[string]cluster.ServiceDescriptor{
		"system":  {Version: buildinfo.Version, Methods: []string{"ping", "info"}, Health: "ok"},
		"cluster": {Version: buildinfo.Version, Methods: []string{"members", "whoami"}, Health: "ok"},
	}
	self := cluster.NodeInfo{
		SchemaVersion: cluster.CurrentSchemaVersion,
		NodeID:        cfg.NodeID,
		Address:       address,
		Port:          cfg.ListenPort,
		Role:          role,
		Status:        cluster.StatusAlive,
		Version:       1,
		Services:      selfServices,
	}
	dir.UpsertSelf(self)

	connPool := pool.New(pool.DefaultConfig())

	// bootstrapCoordinators defaults to the node's own bootstrap address
	// when empty, so a freshly-started coordinator provisions its own
	// leaf through the same CHECK/.../INSTALL state machine as any
	// worker, dialing itself over loopback.
	bootstrapCoordinators := cfg.BootstrapCoordinators
	if role == cluster.RoleCoordinator && len(bootstrapCoordinators) == 0 {
		bootstrapCoordinators = []string{fmt.Sprintf("127.0.0.1:%d", cfg.CertBootstrapHTTPPort)}
	}

	var auth *authority.Authority
	var bootstrapSrv *http.Server
	if role == cluster.RoleCoordinator {
		auth, err = authority.New(context.Background(), store, cfg.CertValidatorHTTPPort, nil)
		if err != nil {
			return fmt.Errorf("init certificate authority: %w", err)
		}
		metrics.CertIssuances.Add(0) // ensure series exists even if nothing issues yet
		bootstrapSrv = newBootstrapServer(cfg.CertBootstrapHTTPPort, auth, log)
	}

	trustedCAFingerprint := func() string {
		if auth != nil {
			return auth.Fingerprint()
		}
		caCert, err := fetchCACert(bootstrapCoordinators)
		if err != nil {
			return ""
		}
		return pool.Fingerprint(caCert)
	}

	// renewalTrigger wakes the provisioner's renewal loop immediately
	// instead of waiting for certRenewalCheckInterval, fired whenever a
	// re-selected address changes what the provisioner's leaf must cover.
	renewalTrigger := make(chan struct{}, 1)

	prov := provisioner.New(provisioner.Deps{
		Store:                 store,
		BootstrapCoordinators: bootstrapCoordinators,
		NodeID:                cfg.NodeID,
		ValidatorPort:         cfg.CertValidatorHTTPPort,
		RenewalLeadtime:       cfg.CertRenewalLeadtime(),
		AddressOf: func() (string, error) {
			addrMu.Lock()
			defer addrMu.Unlock()
			return address, nil
		},
		HostnameOf:           os.Hostname,
		TrustedCAFingerprint: trustedCAFingerprint,
	})

	// reselectAddress re-runs multi-homed address selection and, if the
	// outcome changed, republishes self with a bumped Version and wakes
	// the provisioner so a SAN mismatch is caught well before
	// certRenewalCheckInterval next fires.
	reselectAddress := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		newIP, selErr := selector.Select(ctx, bootstrapCoordinators)
		cancel()
		if selErr != nil {
			log.Warn("netaddr: re-selection failed after sustained gossip failure", "error", selErr)
			return
		}
		newAddr := cfg.BindAddress
		if newIP != nil {
			newAddr = newIP.String()
		}

		addrMu.Lock()
		changed := newAddr != address
		if changed {
			address = newAddr
		}
		addrMu.Unlock()
		if !changed {
			return
		}

		log.Info("netaddr: address changed after sustained gossip failure", "address", newAddr)
		if info, ok := dir.Lookup(cfg.NodeID); ok {
			info.Address = newAddr
			info.Version++
			dir.UpsertSelf(info)
		}
		select {
		case renewalTrigger <- struct{}{}:
		default:
		}
	}

	reg := registry.New()
	if err := service.RegisterSystem(reg, service.Info{NodeID: cfg.NodeID, Role: role, Version: buildinfo.Version, Commit: buildinfo.Commit}); err != nil {
		return fmt.Errorf("register system service: %w", err)
	}
	if err := service.RegisterCluster(reg, dir, cfg.NodeID); err != nil {
		return fmt.Errorf("register cluster service: %w", err)
	}

	svcProxy := proxy.New(cfg.NodeID, dir, reg, connPool, func() (pool.TrustRoot, error) {
		return currentTrustRoot(prov, bootstrapCoordinators)
	}, cfg.OutboundRequestDeadline())
	_ = svcProxy // handed to no service: the built-in system and cluster services make no outbound calls

	g := gossip.New(gossip.Deps{
		Directory: dir,
		Pool:      connPool,
		Self:      func() cluster.NodeInfo { n, _ := dir.Lookup(cfg.NodeID); return n },
		TrustRoot: func() (pool.TrustRoot, bool) {
			tr, err := currentTrustRoot(prov, bootstrapCoordinators)
			return tr, err == nil
		},
		MinInterval:            cfg.GossipIntervalMin(),
		MaxInterval:            cfg.GossipIntervalMax(),
		CompressionThreshold:   cfg.GossipCompressionThresholdBytes,
		MaxTargets:             cfg.GossipMaxTargets,
		OnSustainedSelfFailure: reselectAddress,
	})

	rl := ratelimit.New(ratelimit.Config{
		Enabled: cfg.RateLimitEnabled,
		Limits: map[ratelimit.Class]ratelimit.ClassLimit{
			ratelimit.ClassRPC:    {PerMinute: cfg.RateLimitRPCPerMin, Burst: cfg.RateLimitRPCBurst},
			ratelimit.ClassHealth: {PerMinute: cfg.RateLimitHealthPerMin, Burst: cfg.RateLimitHealthBurst},
		},
	})

	disp := dispatcher.New(dispatcher.Config{
		Registry:      reg,
		RateLimiter:   rl,
		Gossip:        g,
		IsCoordinator: role == cluster.RoleCoordinator,
		Authority:     auth,
		CACertPEM: func() []byte {
			if auth != nil {
				return auth.CACertPEM()
			}
			return nil
		},
		AuthMode: dispatcher.AuthMTLS,
		Metrics:  metrics,
		Logger:   log,
	})

	var rpcSrv *http.Server
	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: metrics.Handler()}
	provStopCh := make(chan struct{})
	var cfgWatcher interface{ Stop() error }

	orch := lifecycle.New(lifecycle.Config{
		StartTimeout: 30 * time.Second,
		StopTimeout:  cfg.ShutdownGrace(),
		Logger:       log,
	},
		lifecycle.Stage{
			Name: "securestore",
			Stop: func(ctx context.Context) error { return store.Close() },
		},
		lifecycle.Stage{
			Name: "bootstrap-listener",
			Start: func(ctx context.Context) error {
				if bootstrapSrv == nil {
					return nil
				}
				ln, err := net.Listen("tcp", bootstrapSrv.Addr)
				if err != nil {
					return err
				}
				go bootstrapSrv.Serve(ln)
				return nil
			},
			Stop: func(ctx context.Context) error {
				if bootstrapSrv == nil {
					return nil
				}
				return bootstrapSrv.Shutdown(ctx)
			},
		},
		lifecycle.Stage{
			Name: "cert-provisioner",
			Start: func(ctx context.Context) error {
				if err := prov.Run(ctx); err != nil {
					return err
				}
				go runRenewalLoop(prov, provStopCh, renewalTrigger, log)
				return nil
			},
			Stop: func(ctx context.Context) error {
				close(provStopCh)
				return nil
			},
		},
		lifecycle.Stage{
			Name: "registry-freeze",
			Start: func(ctx context.Context) error { reg.Freeze(); return nil },
		},
		lifecycle.Stage{
			Name: "rpc-dispatcher",
			Start: func(ctx context.Context) error {
				tlsCfg, err := provTLSConfig(prov, auth, bootstrapCoordinators, log)
				if err != nil {
					return fmt.Errorf("dispatcher: %w", err)
				}
				rpcSrv = &http.Server{
					Addr:      fmt.Sprintf(":%d", cfg.ListenPort),
					Handler:   disp.Handler(),
					TLSConfig: tlsCfg,
				}
				ln, err := tls.Listen("tcp", rpcSrv.Addr, tlsCfg)
				if err != nil {
					return err
				}
				go rpcSrv.Serve(ln)
				return nil
			},
			Stop: func(ctx context.Context) error {
				if rpcSrv == nil {
					return nil
				}
				return rpcSrv.Shutdown(ctx)
			},
		},
		lifecycle.Stage{
			Name: "gossip",
			Start: func(ctx context.Context) error {
				go g.Run(context.Background())
				return nil
			},
			Stop: func(ctx context.Context) error { g.Stop(); return nil },
		},
		lifecycle.Stage{
			Name: "metrics-endpoint",
			Start: func(ctx context.Context) error {
				ln, err := net.Listen("tcp", metricsSrv.Addr)
				if err != nil {
					return err
				}
				go metricsSrv.Serve(ln)
				return nil
			},
			Stop: func(ctx context.Context) error { return metricsSrv.Shutdown(ctx) },
		},
		lifecycle.Stage{
			Name: "config-watch",
			Start: func(ctx context.Context) error {
				if *configFile == "" {
					return nil
				}
				w, err := config.Watch(*configFile, cfg, nil, func(next config.NodeConfig) {
					rl.UpdateConfig(ratelimit.Config{
						Enabled: next.RateLimitEnabled,
						Limits: map[ratelimit.Class]ratelimit.ClassLimit{
							ratelimit.ClassRPC:    {PerMinute: next.RateLimitRPCPerMin, Burst: next.RateLimitRPCBurst},
							ratelimit.ClassHealth: {PerMinute: next.RateLimitHealthPerMin, Burst: next.RateLimitHealthBurst},
						},
					})
					log.Info("config: hot-reloaded non-structural settings",
						"rpc_per_min", next.RateLimitRPCPerMin, "health_per_min", next.RateLimitHealthPerMin)
				})
				if err != nil {
					return fmt.Errorf("config-watch: %w", err)
				}
				cfgWatcher = w
				return nil
			},
			Stop: func(ctx context.Context) error {
				if cfgWatcher == nil {
					return nil
				}
				return cfgWatcher.Stop()
			},
		},
		lifecycle.Stage{
			Name: "connection-pool",
			Stop: func(ctx context.Context) error { connPool.CloseAll(); return nil },
		},
	)

	return orch.RunUntilSignal(context.Background())
}

// runRenewalLoop re-runs the provisioner's CHECK-through-RUN sequence on
// a daily cadence, or immediately whenever trigger fires (an address
// change detected after sustained gossip send failure). This is what
// actually fulfills the provisioner's own daily-renewal-check contract;
// the initial prov.Run in the cert-provisioner stage only gets the node
// through its cold start.
func runRenewalLoop(prov *provisioner.Provisioner, stopCh <-chan struct{}, trigger <-chan struct{}, log logger.Logger) {
	ticker := time.NewTicker(certRenewalCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		case <-trigger:
		}

		runCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		if err := prov.Run(runCtx); err != nil {
			log.Warn("cert-provisioner: renewal check failed", "error", err)
		}
		cancel()
	}
}

// newBootstrapServer exposes the two endpoints a node must reach before
// it has a leaf certificate of its own: GET /internal/ca-cert and POST
// /internal/cert-request. It runs over plain HTTP, permanently, on the
// coordinator only — mirroring the provisioner's own plain-HTTP
// validator listener on the requester side.
func newBootstrapServer(port int, auth *authority.Authority, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/internal/ca-cert", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-pem-file")
		w.Write(auth.CACertPEM())
	})
	mux.HandleFunc("/internal/cert-request", func(w http.ResponseWriter, r *http.Request) {
		var req authority.CertRequest
		if err := decodeJSONBody(r, &req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		resp, err := auth.HandleCertRequest(r.Context(), req, true)
		if err != nil {
			log.Warn("bootstrap: cert-request failed", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		encodeJSONBody(w, resp)
	})
	return &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
}

// currentTrustRoot assembles the pool.TrustRoot the connection pool and
// gossip transport need: the CA certificate (fetched fresh from a
// bootstrap coordinator, since it is not itself persisted locally) and
// the provisioner's installed leaf.
func currentTrustRoot(prov *provisioner.Provisioner, bootstrapCoordinators []string) (pool.TrustRoot, error) {
	rec := prov.Record()
	if rec == nil {
		return pool.TrustRoot{}, fmt.Errorf("fabricd: no leaf certificate installed yet")
	}
	caCert, err := fetchCACert(bootstrapCoordinators)
	if err != nil {
		return pool.TrustRoot{}, err
	}
	leaf, err := tls.X509KeyPair(rec.CertPEM, rec.KeyPEM)
	if err != nil {
		return pool.TrustRoot{}, err
	}
	return pool.TrustRoot{
		CAFingerprint: pool.Fingerprint(caCert),
		CACert:        caCert,
		LeafCert:      leaf,
	}, nil
}

// provTLSConfig builds the RPC listener's server-side mTLS config. The
// coordinator trusts its own in-process authority directly; every other
// node fetches the CA certificate from a bootstrap coordinator. Either
// way the leaf is sourced from tlsroots.ProvisionerLeaf, which re-reads
// the provisioner's installed record on every handshake, so a renewal
// takes effect without restarting this listener.
func provTLSConfig(prov *provisioner.Provisioner, auth *authority.Authority, bootstrapCoordinators []string, log logger.Logger) (*tls.Config, error) {
	var trustPool *tlsroots.Pool
	if auth != nil {
		p, err := tlsroots.NewPoolFromAuthority(auth)
		if err != nil {
			return nil, err
		}
		trustPool = p
	} else {
		caCert, err := fetchCACert(bootstrapCoordinators)
		if err != nil {
			return nil, err
		}
		trustPool = tlsroots.NewPoolFromCACert(caCert)
	}

	leaf, err := tlsroots.NewProvisionerLeaf(prov, nil)
	if err != nil {
		return nil, err
	}
	return trustPool.MutualTLSConfig(leaf), nil
}

func decodeJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func encodeJSONBody(w http.ResponseWriter, v interface{}) {
	json.NewEncoder(w).Encode(v)
}

func fetchCACert(bootstrapCoordinators []string) (*x509.Certificate, error) {
	var lastErr error
	for _, addr := range bootstrapCoordinators {
		resp, err := http.Get(fmt.Sprintf("http://%s/internal/ca-cert", addr))
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		cert, err := tlsroots.ParseCACert(body)
		if err != nil {
			lastErr = fmt.Errorf("fabricd: invalid ca-cert PEM from %s: %w", addr, err)
			continue
		}
		return cert, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("fabricd: no bootstrap coordinator configured")
	}
	return nil, lastErr
}
