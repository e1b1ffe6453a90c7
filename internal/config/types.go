// Package config defines the node's structured configuration and loads
// it through the layered confloader chain: CLI flags > environment >
// YAML file > coded defaults.
package config

import "time"

// NodeConfig is the full set of recognized configuration keys for a
// fabricd process. All fields are optional except NodeID, Role, and
// (for workers) BootstrapCoordinators; Default fills in the rest.
type NodeConfig struct {
	NodeID string `koanf:"node_id"`
	Role   string `koanf:"role"` // "coordinator" | "worker"

	BindAddress string `koanf:"bind_address"`
	ListenPort  int    `koanf:"listen_port"`

	BootstrapCoordinators []string `koanf:"bootstrap_coordinators"`

	GossipIntervalMinSeconds     int `koanf:"gossip_interval_min_seconds"`
	GossipIntervalMaxSeconds     int `koanf:"gossip_interval_max_seconds"`
	GossipMaxTargets             int `koanf:"gossip_max_targets"`
	GossipCompressionThresholdBytes int `koanf:"gossip_compression_threshold_bytes"`

	SuspectTimeoutSeconds int `koanf:"suspect_timeout_seconds"`
	DeadTimeoutSeconds    int `koanf:"dead_timeout_seconds"`
	EvictTimeoutSeconds   int `koanf:"evict_timeout_seconds"`

	RateLimitRPCPerMin      int  `koanf:"rate_limit_rpc_per_min"`
	RateLimitRPCBurst       int  `koanf:"rate_limit_rpc_burst"`
	RateLimitHealthPerMin   int  `koanf:"rate_limit_health_per_min"`
	RateLimitHealthBurst    int  `koanf:"rate_limit_health_burst"`
	RateLimitEnabled        bool `koanf:"rate_limit_enabled"`

	CertValidatorHTTPPort    int `koanf:"cert_validator_http_port"`
	CertRenewalLeadtimeDays  int `koanf:"cert_renewal_leadtime_days"`
	// CertBootstrapHTTPPort is the coordinator's plain-HTTP listener for
	// GET /internal/ca-cert and POST /internal/cert-request: the two
	// endpoints every node, including the coordinator itself, must be
	// able to reach before it holds a leaf certificate. Unused on workers.
	CertBootstrapHTTPPort int `koanf:"cert_bootstrap_http_port"`

	OutboundRequestDeadlineSeconds int `koanf:"outbound_request_deadline_seconds"`
	ShutdownGraceSeconds           int `koanf:"shutdown_grace_seconds"`

	SecureStoreDir        string `koanf:"securestore_dir"`
	SecureStorePassphrase string `koanf:"securestore_passphrase"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	MetricsAddress string `koanf:"metrics_address"`
}

// Default returns the coded defaults for the recognized configuration keys.
func Default() NodeConfig {
	return NodeConfig{
		Role:                            "worker",
		BindAddress:                     "0.0.0.0",
		ListenPort:                      8801,
		GossipIntervalMinSeconds:        5,
		GossipIntervalMaxSeconds:        30,
		GossipMaxTargets:                5,
		GossipCompressionThresholdBytes: 1024,
		SuspectTimeoutSeconds:           30,
		DeadTimeoutSeconds:              90,
		EvictTimeoutSeconds:             600,
		RateLimitRPCPerMin:              100,
		RateLimitRPCBurst:               20,
		RateLimitHealthPerMin:           300,
		RateLimitHealthBurst:            50,
		RateLimitEnabled:                true,
		CertValidatorHTTPPort:           8802,
		CertRenewalLeadtimeDays:         30,
		CertBootstrapHTTPPort:           8803,
		OutboundRequestDeadlineSeconds:  10,
		ShutdownGraceSeconds:            5,
		SecureStoreDir:                  "./data/securestore",
		LogLevel:                        "info",
		LogFormat:                       "json",
		MetricsAddress:                  ":9801",
	}
}

// GossipIntervalMin returns the configured minimum gossip tick interval.
func (c NodeConfig) GossipIntervalMin() time.Duration {
	return time.Duration(c.GossipIntervalMinSeconds) * time.Second
}

// GossipIntervalMax returns the configured maximum gossip tick interval.
func (c NodeConfig) GossipIntervalMax() time.Duration {
	return time.Duration(c.GossipIntervalMaxSeconds) * time.Second
}

// SuspectTimeout is the alive->suspected threshold duration.
func (c NodeConfig) SuspectTimeout() time.Duration {
	return time.Duration(c.SuspectTimeoutSeconds) * time.Second
}

// DeadTimeout is the suspected->dead threshold duration.
func (c NodeConfig) DeadTimeout() time.Duration {
	return time.Duration(c.DeadTimeoutSeconds) * time.Second
}

// EvictTimeout is how long a dead entry lingers before eviction.
func (c NodeConfig) EvictTimeout() time.Duration {
	return time.Duration(c.EvictTimeoutSeconds) * time.Second
}

// OutboundRequestDeadline is the default per-request outbound deadline.
func (c NodeConfig) OutboundRequestDeadline() time.Duration {
	return time.Duration(c.OutboundRequestDeadlineSeconds) * time.Second
}

// ShutdownGrace is the bounded deadline given to in-flight work at shutdown.
func (c NodeConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// CertRenewalLeadtime is how long before not_after a leaf is renewed.
func (c NodeConfig) CertRenewalLeadtime() time.Duration {
	return time.Duration(c.CertRenewalLeadtimeDays) * 24 * time.Hour
}
