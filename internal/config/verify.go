package config

import "fmt"

// StructuralKeys are the configuration keys that require a process
// restart to take effect; the watcher refuses to hot-apply changes to
// these and flags them instead.
var StructuralKeys = map[string]bool{
	"node_id":                true,
	"role":                   true,
	"bind_address":           true,
	"listen_port":            true,
	"securestore_dir":        true,
	"securestore_passphrase": true,
}

// Verify checks a loaded NodeConfig for the invariants the core depends
// on (required keys present, sane ranges). It does not validate
// reachability of bootstrap_coordinators — that is netaddr's job.
func Verify(cfg NodeConfig) error {
	if cfg.NodeID == "" {
		return fmt.Errorf("config: node_id is required")
	}
	if cfg.Role != "coordinator" && cfg.Role != "worker" {
		return fmt.Errorf("config: role must be \"coordinator\" or \"worker\", got %q", cfg.Role)
	}
	if cfg.Role == "worker" && len(cfg.BootstrapCoordinators) == 0 {
		return fmt.Errorf("config: bootstrap_coordinators is required for worker role")
	}
	if cfg.GossipIntervalMinSeconds <= 0 || cfg.GossipIntervalMaxSeconds < cfg.GossipIntervalMinSeconds {
		return fmt.Errorf("config: gossip_interval_min_seconds must be positive and <= gossip_interval_max_seconds")
	}
	if cfg.SuspectTimeoutSeconds <= 0 || cfg.DeadTimeoutSeconds <= cfg.SuspectTimeoutSeconds {
		return fmt.Errorf("config: dead_timeout_seconds must exceed suspect_timeout_seconds")
	}
	if cfg.EvictTimeoutSeconds <= cfg.DeadTimeoutSeconds {
		return fmt.Errorf("config: evict_timeout_seconds must exceed dead_timeout_seconds")
	}
	if cfg.ListenPort <= 0 || cfg.ListenPort > 65535 {
		return fmt.Errorf("config: listen_port out of range: %d", cfg.ListenPort)
	}
	return nil
}

// DiffStructural reports which of the changed keys in next (relative to
// current) are structural and therefore require a restart rather than a
// hot reload.
func DiffStructural(current, next NodeConfig) []string {
	var changed []string
	if current.NodeID != next.NodeID {
		changed = append(changed, "node_id")
	}
	if current.Role != next.Role {
		changed = append(changed, "role")
	}
	if current.BindAddress != next.BindAddress {
		changed = append(changed, "bind_address")
	}
	if current.ListenPort != next.ListenPort {
		changed = append(changed, "listen_port")
	}
	if current.SecureStoreDir != next.SecureStoreDir {
		changed = append(changed, "securestore_dir")
	}
	if current.SecureStorePassphrase != next.SecureStorePassphrase {
		changed = append(changed, "securestore_passphrase")
	}
	return changed
}
