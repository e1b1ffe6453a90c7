package gossip

import (
	"testing"
	"time"

	"github.com/relaymesh/fabric/internal/cluster"
)

func peer(id string, role cluster.Role, status cluster.Status, lastSeen time.Time) cluster.NodeInfo {
	return cluster.NodeInfo{NodeID: id, Role: role, Status: status, LastSeen: lastSeen}
}

func TestPickTargetsExcludesSelfAndNonAlive(t *testing.T) {
	now := time.Now()
	peers := []cluster.NodeInfo{
		peer("self", cluster.RoleWorker, cluster.StatusAlive, now),
		peer("dead-1", cluster.RoleWorker, cluster.StatusDead, now),
		peer("alive-1", cluster.RoleWorker, cluster.StatusAlive, now),
	}
	got := pickTargets("self", cluster.RoleWorker, 1, peers, now, time.Second, 5)
	if len(got) != 1 || got[0] != "alive-1" {
		t.Fatalf("expected only alive-1, got %v", got)
	}
}

func TestPickTargetsCapsAtMaxTargets(t *testing.T) {
	now := time.Now()
	var peers []cluster.NodeInfo
	for i := 0; i < 20; i++ {
		peers = append(peers, peer(string(rune('a'+i)), cluster.RoleWorker, cluster.StatusAlive, now))
	}
	got := pickTargets("self", cluster.RoleWorker, 1, peers, now, time.Second, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 targets, got %d", len(got))
	}
}

func TestPickTargetsIncludesStalePeers(t *testing.T) {
	now := time.Now()
	stale := peer("stale-1", cluster.RoleWorker, cluster.StatusAlive, now.Add(-time.Hour))
	fresh := make([]cluster.NodeInfo, 0, 10)
	for i := 0; i < 10; i++ {
		fresh = append(fresh, peer(string(rune('a'+i)), cluster.RoleWorker, cluster.StatusAlive, now))
	}
	peers := append([]cluster.NodeInfo{stale}, fresh...)

	got := pickTargets("self", cluster.RoleWorker, 1, peers, now, time.Second, 2)
	found := false
	for _, id := range got {
		if id == "stale-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected stale peer to be included, got %v", got)
	}
}

func TestPickTargetsIncludesCoordinatorWhenSelfIsWorker(t *testing.T) {
	now := time.Now()
	peers := []cluster.NodeInfo{
		peer("coord-1", cluster.RoleCoordinator, cluster.StatusAlive, now),
	}
	for i := 0; i < 10; i++ {
		peers = append(peers, peer(string(rune('a'+i)), cluster.RoleWorker, cluster.StatusAlive, now))
	}

	got := pickTargets("self", cluster.RoleWorker, 1, peers, now, time.Second, 1)
	if len(got) != 1 || got[0] != "coord-1" {
		t.Fatalf("expected coordinator to be prioritized, got %v", got)
	}
}

func TestPickTargetsDeterministicPerTick(t *testing.T) {
	now := time.Now()
	var peers []cluster.NodeInfo
	for i := 0; i < 10; i++ {
		peers = append(peers, peer(string(rune('a'+i)), cluster.RoleWorker, cluster.StatusAlive, now))
	}

	a := pickTargets("self", cluster.RoleWorker, 7, peers, now, time.Second, 3)
	b := pickTargets("self", cluster.RoleWorker, 7, peers, now, time.Second, 3)
	if len(a) != len(b) {
		t.Fatalf("expected deterministic selection for the same tick")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected identical order for the same tick, got %v vs %v", a, b)
		}
	}
}

func TestPickTargetsEmptyWhenNoAlivePeers(t *testing.T) {
	now := time.Now()
	peers := []cluster.NodeInfo{peer("dead-1", cluster.RoleWorker, cluster.StatusDead, now)}
	got := pickTargets("self", cluster.RoleWorker, 1, peers, now, time.Second, 3)
	if got != nil {
		t.Fatalf("expected nil result, got %v", got)
	}
}
