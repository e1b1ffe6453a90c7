// Package service registers the built-in "system" and "cluster"
// methods every fabricd node exposes. These exist so the RPC fabric
// has something to dispatch to out of the box — local lookups,
// remote-by-node-id, and remote-by-role all resolve to one of these
// two services in a single-binary deployment with no external
// plugins, alongside any user services registered at startup.
package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/relaymesh/fabric/internal/cluster"
	"github.com/relaymesh/fabric/internal/cluster/directory"
	"github.com/relaymesh/fabric/internal/rpc/registry"
)

// Info describes the local node for "system/info" and is also used to
// build the NodeInfo.Services entry advertised over gossip.
type Info struct {
	NodeID  string
	Role    cluster.Role
	Version string
	// Commit is the build's VCS revision (internal/infra/buildinfo.Commit),
	// surfaced separately from Version so an operator diagnosing a
	// cluster running mixed "dev" builds off different branches can
	// still tell nodes apart by commit even though Version reads "dev"
	// on all of them.
	Commit string
}

// RegisterSystem adds the "system" service (ping, info) to reg.
func RegisterSystem(reg *registry.Registry, info Info) error {
	if err := reg.Register(registry.MethodEntry{
		Service: "system", Method: "ping", Public: true,
		Description: "liveness probe; echoes back a monotonic server timestamp",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			return map[string]any{"pong": true, "time": time.Now().UTC()}, nil
		},
	}); err != nil {
		return err
	}

	return reg.Register(registry.MethodEntry{
		Service: "system", Method: "info", Public: true,
		Description: "local node identity and build metadata",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			return map[string]any{
				"node_id": info.NodeID,
				"role":    info.Role.String(),
				"version": info.Version,
				"commit":  info.Commit,
			}, nil
		},
	})
}

// RegisterCluster adds the "cluster" service (members, whoami) to reg,
// backed by dir.
func RegisterCluster(reg *registry.Registry, dir *directory.Directory, selfID string) error {
	if err := reg.Register(registry.MethodEntry{
		Service: "cluster", Method: "members", Public: true,
		Description: "snapshot of every node known to the local directory",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			all := dir.All()
			out := make([]memberView, 0, len(all))
			for _, n := range all {
				out = append(out, toMemberView(n))
			}
			return out, nil
		},
	}); err != nil {
		return err
	}

	return reg.Register(registry.MethodEntry{
		Service: "cluster", Method: "whoami", Public: true,
		Description: "the directory's record for the local node",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			n, ok := dir.Lookup(selfID)
			if !ok {
				return nil, nil
			}
			return toMemberView(n), nil
		},
	})
}

// memberView is the JSON shape returned by cluster/members and
// cluster/whoami — a trimmed projection of cluster.NodeInfo, not the
// wire DTO used for gossip (that one lives in package cluster as
// NodeInfoWire).
type memberView struct {
	NodeID   string   `json:"node_id"`
	Address  string   `json:"address"`
	Port     int      `json:"port"`
	Role     string   `json:"role"`
	Status   string   `json:"status"`
	LastSeen string   `json:"last_seen"`
	Version  uint64   `json:"version"`
	Services []string `json:"services"`
}

func toMemberView(n cluster.NodeInfo) memberView {
	services := make([]string, 0, len(n.Services))
	for name := range n.Services {
		services = append(services, name)
	}
	return memberView{
		NodeID:   n.NodeID,
		Address:  n.Address,
		Port:     n.Port,
		Role:     n.Role.String(),
		Status:   n.Status.String(),
		LastSeen: n.LastSeen.UTC().Format(time.RFC3339),
		Version:  n.Version,
		Services: services,
	}
}
