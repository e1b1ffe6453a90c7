package gossip

import (
	"math/rand"
	"sort"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/relaymesh/fabric/internal/cluster"
)

// pickTargets chooses up to maxTargets alive peers to gossip with this
// tick: uniformly at random, but biased to always include any peer whose
// last_seen age exceeds 3x the minimum tick interval, and (if self is
// not a coordinator) at least one known coordinator.
//
// The per-tick pseudo-random seed is derived from selfID + tick via
// murmur3, so the selection is reproducible for a given tick without a
// global mutable RNG on the hot path.
func pickTargets(selfID string, selfRole cluster.Role, tick uint64, peers []cluster.NodeInfo, now time.Time, minInterval time.Duration, maxTargets int) []string {
	alive := make([]cluster.NodeInfo, 0, len(peers))
	for _, p := range peers {
		if p.NodeID == selfID || p.Status != cluster.StatusAlive {
			continue
		}
		alive = append(alive, p)
	}
	if len(alive) == 0 {
		return nil
	}
	sort.Slice(alive, func(i, j int) bool { return alive[i].NodeID < alive[j].NodeID })

	seed := murmur3.Sum64([]byte(selfID)) ^ tick
	rng := rand.New(rand.NewSource(int64(seed)))

	selected := make(map[string]struct{}, maxTargets)
	var result []string

	add := func(id string) bool {
		if _, ok := selected[id]; ok {
			return false
		}
		if len(result) >= maxTargets {
			return false
		}
		selected[id] = struct{}{}
		result = append(result, id)
		return true
	}

	staleThreshold := minInterval * 3
	for _, p := range alive {
		if now.Sub(p.LastSeen) > staleThreshold {
			add(p.NodeID)
		}
	}

	if selfRole != cluster.RoleCoordinator {
		for _, p := range alive {
			if p.Role == cluster.RoleCoordinator {
				add(p.NodeID)
				break
			}
		}
	}

	perm := rng.Perm(len(alive))
	for _, idx := range perm {
		if len(result) >= maxTargets {
			break
		}
		add(alive[idx].NodeID)
	}

	return result
}
