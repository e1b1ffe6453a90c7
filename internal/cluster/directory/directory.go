// Package directory implements the concurrent mapping from node_id to
// NodeInfo that backs gossip, failure detection, and proxy target
// resolution.
package directory

import (
	"sort"
	"sync"
	"time"

	"github.com/relaymesh/fabric/internal/cluster"
	"github.com/relaymesh/fabric/pkg/cmap"
)

// EventKind distinguishes the reason a change event fired.
type EventKind int

const (
	EventUpserted EventKind = iota
	EventSwept
)

// Event is published to subscribers (gossip, CertAuthority) whenever a
// NodeInfo is accepted or its status is recomputed by sweep.
type Event struct {
	Kind EventKind
	Info cluster.NodeInfo
}

// Directory is the concurrent node_id -> NodeInfo registry. The zero
// value is not usable; construct with New.
type Directory struct {
	selfID string

	nodes *cmap.Map[string, cluster.NodeInfo]

	roleMu  sync.RWMutex
	byRole  map[cluster.Role]map[string]struct{}

	subMu sync.Mutex
	subs  []chan Event

	// frozen holds node_ids whose last_seen must not advance from
	// third-party gossip hearsay, keyed by node_id with struct{} values.
	// Gossip sets this once its own direct sends to a peer have failed
	// enough consecutive ticks that the peer's apparent liveness in
	// other nodes' frames can no longer be trusted to reflect reality.
	frozen sync.Map

	suspectTimeout time.Duration
	deadTimeout    time.Duration
	evictTimeout   time.Duration
}

// Config tunes the status-decay thresholds.
type Config struct {
	SelfID         string
	SuspectTimeout time.Duration
	DeadTimeout    time.Duration
	EvictTimeout   time.Duration
}

// New constructs an empty Directory. SelfID is excluded from ordinary
// Upsert calls, since the local node is the sole authority over its own
// entry; use UpsertSelf to advance it.
func New(cfg Config) *Directory {
	return &Directory{
		selfID:         cfg.SelfID,
		nodes:          cmap.New[string, cluster.NodeInfo](),
		byRole:         map[cluster.Role]map[string]struct{}{cluster.RoleCoordinator: {}, cluster.RoleWorker: {}},
		suspectTimeout: cfg.SuspectTimeout,
		deadTimeout:    cfg.DeadTimeout,
		evictTimeout:   cfg.EvictTimeout,
	}
}

// Subscribe registers a bounded-buffer channel that receives directory
// change events. Sends are non-blocking: a slow subscriber drops events
// rather than stalling Upsert/Sweep.
func (d *Directory) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	d.subMu.Lock()
	d.subs = append(d.subs, ch)
	d.subMu.Unlock()
	return ch
}

func (d *Directory) publish(ev Event) {
	d.subMu.Lock()
	subs := d.subs
	d.subMu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Upsert accepts info iff info.NodeID != self and info.Version exceeds
// (or ties with a later LastSeen than) the existing entry's version.
// Returns true if the entry was accepted/changed.
//
// If node_id is frozen (see FreezeLastSeen), info.LastSeen is pinned to
// the existing entry's LastSeen before the comparison: a peer we cannot
// reach ourselves must not appear freshly seen just because a third
// party's gossip frame relayed it.
func (d *Directory) Upsert(info cluster.NodeInfo) bool {
	if info.NodeID == d.selfID {
		return false
	}

	_, isFrozen := d.frozen.Load(info.NodeID)

	accepted := false
	d.nodes.Upsert(info.NodeID, info, func(existing cluster.NodeInfo, exists bool) cluster.NodeInfo {
		if isFrozen && exists {
			info.LastSeen = existing.LastSeen
		}
		if !exists {
			accepted = true
			return info
		}
		if info.Version > existing.Version {
			accepted = true
			return info
		}
		if info.Version == existing.Version && info.LastSeen.After(existing.LastSeen) {
			accepted = true
			return info
		}
		return existing
	})

	if accepted {
		d.indexRole(info)
		d.publish(Event{Kind: EventUpserted, Info: info})
	}
	return accepted
}

// FreezeLastSeen marks node_id's last_seen as untrustworthy from
// third-party hearsay: subsequent Upsert calls for this node_id keep its
// existing LastSeen rather than adopting the incoming value, so a
// consistently unreachable peer's status decays toward suspected/dead on
// this node's own Sweep even while other nodes keep gossiping about it.
// MarkSeen (direct contact) is unaffected.
func (d *Directory) FreezeLastSeen(nodeID string) {
	d.frozen.Store(nodeID, struct{}{})
}

// UnfreezeLastSeen reverses FreezeLastSeen once direct sends to node_id
// succeed again.
func (d *Directory) UnfreezeLastSeen(nodeID string) {
	d.frozen.Delete(nodeID)
}

// MarkSeen refreshes last_seen for node_id without altering version or
// any other field. A no-op if node_id is unknown.
func (d *Directory) MarkSeen(nodeID string, now time.Time) {
	if nodeID == d.selfID {
		return
	}
	d.nodes.Update(nodeID, func(v cluster.NodeInfo, exists bool) cluster.NodeInfo {
		if !exists {
			return v
		}
		v.LastSeen = now
		return v
	})
}

// UpsertSelf installs or replaces the self NodeInfo directly, bypassing
// the "info.NodeID != self" rejection that guards peer upserts. Only
// the owning node should call this.
func (d *Directory) UpsertSelf(info cluster.NodeInfo) {
	info.NodeID = d.selfID
	d.nodes.Set(d.selfID, info)
	d.indexRole(info)
}

// Lookup returns the NodeInfo for node_id, or absent=false.
func (d *Directory) Lookup(nodeID string) (cluster.NodeInfo, bool) {
	return d.nodes.Get(nodeID)
}

// LookupByRole returns the alive node_ids with the given role, ordered
// lexicographically on node_id for deterministic tie-breaks.
func (d *Directory) LookupByRole(role cluster.Role) []string {
	d.roleMu.RLock()
	ids := make([]string, 0, len(d.byRole[role]))
	for id := range d.byRole[role] {
		ids = append(ids, id)
	}
	d.roleMu.RUnlock()

	var alive []string
	for _, id := range ids {
		if info, ok := d.nodes.Get(id); ok && info.Status == cluster.StatusAlive {
			alive = append(alive, id)
		}
	}
	sort.Strings(alive)
	return alive
}

// All returns a snapshot of every known NodeInfo, including self if
// present.
func (d *Directory) All() []cluster.NodeInfo {
	return d.nodes.Values()
}

// Count returns the number of known entries (including self).
func (d *Directory) Count() int {
	return d.nodes.Count()
}

// Sweep recomputes status from (now - LastSeen) per node and evicts
// entries with status=dead for longer than EvictTimeout. Safe to call
// concurrently with Upsert; consistent per-key, not globally atomic.
func (d *Directory) Sweep(now time.Time) {
	for _, id := range d.nodes.Keys() {
		if id == d.selfID {
			continue
		}

		var evict bool
		var swept cluster.NodeInfo
		d.nodes.Update(id, func(v cluster.NodeInfo, exists bool) cluster.NodeInfo {
			if !exists {
				return v
			}
			age := now.Sub(v.LastSeen)
			status := statusFor(age, d.suspectTimeout, d.deadTimeout)
			if status == cluster.StatusDead && age >= d.deadTimeout+d.evictTimeout {
				evict = true
			}
			v.Status = status
			swept = v
			return v
		})

		if evict {
			d.nodes.Delete(id)
			d.removeFromRoleIndex(id, swept.Role)
			continue
		}
		d.publish(Event{Kind: EventSwept, Info: swept})
	}
}

func statusFor(age, suspectTimeout, deadTimeout time.Duration) cluster.Status {
	switch {
	case age >= deadTimeout:
		return cluster.StatusDead
	case age >= suspectTimeout:
		return cluster.StatusSuspected
	default:
		return cluster.StatusAlive
	}
}

func (d *Directory) indexRole(info cluster.NodeInfo) {
	d.roleMu.Lock()
	if d.byRole[info.Role] == nil {
		d.byRole[info.Role] = make(map[string]struct{})
	}
	d.byRole[info.Role][info.NodeID] = struct{}{}
	d.roleMu.Unlock()
}

func (d *Directory) removeFromRoleIndex(nodeID string, role cluster.Role) {
	d.roleMu.Lock()
	delete(d.byRole[role], nodeID)
	d.roleMu.Unlock()
}
