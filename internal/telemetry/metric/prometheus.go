package metric

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the core exposes.
type Registry struct {
	registry *prometheus.Registry

	// Gossip
	GossipTicksSent          prometheus.Counter
	GossipEntriesReceived    prometheus.Counter
	GossipEntriesAccepted    prometheus.Counter
	GossipEntriesDiscarded   prometheus.Counter
	DirectorySize            *prometheus.GaugeVec // by status

	// RPC fabric
	RPCRequestsTotal   *prometheus.CounterVec // by kind, code
	RPCRequestDuration *prometheus.HistogramVec

	// Certificate authority / provisioning
	CertIssuances prometheus.Counter
	CertRenewals  prometheus.Counter
	CertFailures  prometheus.Counter

	// Rate limiter
	RateLimitRejections *prometheus.CounterVec // by endpoint-class

	// Connection pool
	ConnectionPoolSize      prometheus.Gauge
	ConnectionPoolEvictions prometheus.Counter
}

const namespace = "relaymesh"

// NewRegistry builds a Registry backed by a fresh prometheus.Registry
// (not prometheus.DefaultRegisterer, so tests and multiple in-process
// nodes don't collide on metric names) plus the standard Go/process
// collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		registry: reg,

		GossipTicksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gossip", Name: "ticks_sent_total",
			Help: "Gossip ticks for which at least one target was sent a frame.",
		}),
		GossipEntriesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gossip", Name: "entries_received_total",
			Help: "NodeInfo entries received in gossip frames.",
		}),
		GossipEntriesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gossip", Name: "entries_accepted_total",
			Help: "NodeInfo entries accepted by the directory (version advanced).",
		}),
		GossipEntriesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gossip", Name: "entries_discarded_total",
			Help: "NodeInfo entries discarded (stale version or self).",
		}),
		DirectorySize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "directory", Name: "size",
			Help: "Known directory entries by status.",
		}, []string{"status"}),

		RPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rpc", Name: "requests_total",
			Help: "JSON-RPC requests handled, by outcome kind and JSON-RPC code.",
		}, []string{"kind", "code"}),
		RPCRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "rpc", Name: "request_duration_seconds",
			Help:    "JSON-RPC handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),

		CertIssuances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cert", Name: "issuances_total",
			Help: "Leaf certificates issued by the coordinator's CertAuthority.",
		}),
		CertRenewals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cert", Name: "renewals_total",
			Help: "Leaf certificate renewals installed by a CertProvisioner.",
		}),
		CertFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cert", Name: "failures_total",
			Help: "Failed provisioning attempts (any reason), before backoff.",
		}),

		RateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ratelimit", Name: "rejections_total",
			Help: "Requests rejected with RateLimited, by endpoint class.",
		}, []string{"class"}),

		ConnectionPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: "size",
			Help: "Pooled per-peer TLS clients currently held.",
		}),
		ConnectionPoolEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "evictions_total",
			Help: "Per-peer clients evicted (LRU cap or stale CA fingerprint).",
		}),
	}

	reg.MustRegister(
		r.GossipTicksSent, r.GossipEntriesReceived, r.GossipEntriesAccepted, r.GossipEntriesDiscarded,
		r.DirectorySize, r.RPCRequestsTotal, r.RPCRequestDuration,
		r.CertIssuances, r.CertRenewals, r.CertFailures,
		r.RateLimitRejections, r.ConnectionPoolSize, r.ConnectionPoolEvictions,
	)

	return r
}

// Handler returns the HTTP handler serving r's metrics in Prometheus
// text format, for mounting at GET /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registerer exposes the underlying prometheus.Registerer so
// collaborators outside this package (e.g. securestore) can register
// their own collectors against the same registry.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide default Registry, constructing it on
// first use.
func Global() *Registry {
	globalOnce.Do(func() { global = NewRegistry() })
	return global
}
