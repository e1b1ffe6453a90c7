// Package cluster defines the shared node/status vocabulary used by the
// directory, gossip, and proxy packages.
package cluster

import "time"

// Status is a node's liveness as seen by the local directory.
type Status int

const (
	StatusAlive Status = iota
	StatusSuspected
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusAlive:
		return "alive"
	case StatusSuspected:
		return "suspected"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Role is a node's fixed role for the lifetime of its process.
type Role int

const (
	RoleWorker Role = iota
	RoleCoordinator
)

func (r Role) String() string {
	if r == RoleCoordinator {
		return "coordinator"
	}
	return "worker"
}

func ParseRole(s string) (Role, bool) {
	switch s {
	case "coordinator":
		return RoleCoordinator, true
	case "worker":
		return RoleWorker, true
	default:
		return RoleWorker, false
	}
}

// ServiceDescriptor summarizes a service exposed by a node, as advertised
// in gossip digests.
type ServiceDescriptor struct {
	Version string   `json:"version"`
	Methods []string `json:"methods"`
	Health  string   `json:"health"`
}

// NodeInfo is the authoritative in-memory record for one peer, including
// self. SchemaVersion pins the wire shape independent of the Go type so
// NodeInfo can evolve without breaking NodeInfoWire compatibility.
type NodeInfo struct {
	SchemaVersion int
	NodeID        string
	Address       string
	Port          int
	Role          Role
	Capabilities  []string
	LastSeen      time.Time
	Status        Status
	Metadata      map[string]string
	Services      map[string]ServiceDescriptor
	Version       uint64
}

// Clone returns a deep-enough copy safe to hand to a caller without
// aliasing the directory's internal maps/slices.
func (n NodeInfo) Clone() NodeInfo {
	cp := n
	if n.Capabilities != nil {
		cp.Capabilities = append([]string(nil), n.Capabilities...)
	}
	if n.Metadata != nil {
		cp.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			cp.Metadata[k] = v
		}
	}
	if n.Services != nil {
		cp.Services = make(map[string]ServiceDescriptor, len(n.Services))
		for k, v := range n.Services {
			sv := v
			sv.Methods = append([]string(nil), v.Methods...)
			cp.Services[k] = sv
		}
	}
	return cp
}

// NodeInfoWire is the wire DTO exchanged in gossip digests.
// LastSeen is not carried on the wire: each receiver stamps its own
// arrival time via mark_seen.
type NodeInfoWire struct {
	Schema       int                          `json:"schema"`
	NodeID       string                       `json:"node_id"`
	Address      string                       `json:"address"`
	Port         int                          `json:"port"`
	Role         string                       `json:"role"`
	Capabilities []string                     `json:"capabilities,omitempty"`
	Status       string                       `json:"status"`
	Metadata     map[string]string            `json:"metadata,omitempty"`
	Services     map[string]ServiceDescriptor `json:"services,omitempty"`
	Version      uint64                       `json:"version"`
}

// CurrentSchemaVersion is the NodeInfoWire schema version this build
// produces and understands.
const CurrentSchemaVersion = 1

// ToWire converts a NodeInfo into its wire representation.
func (n NodeInfo) ToWire() NodeInfoWire {
	return NodeInfoWire{
		Schema:       CurrentSchemaVersion,
		NodeID:       n.NodeID,
		Address:      n.Address,
		Port:         n.Port,
		Role:         n.Role.String(),
		Capabilities: n.Capabilities,
		Status:       n.Status.String(),
		Metadata:     n.Metadata,
		Services:     n.Services,
		Version:      n.Version,
	}
}

// FromWire converts a wire DTO into a NodeInfo, stamping LastSeen as now.
func FromWire(w NodeInfoWire, now time.Time) NodeInfo {
	role, _ := ParseRole(w.Role)
	var status Status
	switch w.Status {
	case "suspected":
		status = StatusSuspected
	case "dead":
		status = StatusDead
	default:
		status = StatusAlive
	}
	return NodeInfo{
		SchemaVersion: w.Schema,
		NodeID:        w.NodeID,
		Address:       w.Address,
		Port:          w.Port,
		Role:          role,
		Capabilities:  w.Capabilities,
		LastSeen:      now,
		Status:        status,
		Metadata:      w.Metadata,
		Services:      w.Services,
		Version:       w.Version,
	}
}
