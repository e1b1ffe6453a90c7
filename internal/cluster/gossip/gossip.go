// Package gossip drives periodic cluster-membership exchange: each tick
// it samples a handful of peers, sends a digest of what it knows, and
// merges back whatever the peer sends in return.
package gossip

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/relaymesh/fabric/internal/cluster"
	"github.com/relaymesh/fabric/internal/cluster/directory"
	"github.com/relaymesh/fabric/internal/rpc/pool"
	"github.com/relaymesh/fabric/internal/telemetry/logger"
)

// digestSampleSize bounds how many non-self peers ride along in a single
// outbound frame, alongside the always-included self entry.
const digestSampleSize = 50

// gossipPath is the fixed HTTP route peers exchange frames on.
const gossipPath = "/internal/gossip"

// TrustRootFunc returns the current pool.TrustRoot to dial peers with.
// Supplied by the certificate provisioner once a leaf cert is installed;
// before that Gossip simply skips its send phase.
type TrustRootFunc func() (pool.TrustRoot, bool)

// SelfFunc returns the current self NodeInfo including its Version, so
// Gossip always advertises the freshest local state.
type SelfFunc func() cluster.NodeInfo

// Deps wires Gossip to the rest of the node.
type Deps struct {
	Directory   *directory.Directory
	Pool        *pool.Pool
	Self        SelfFunc
	TrustRoot   TrustRootFunc
	Logger      logger.Logger
	MinInterval time.Duration
	MaxInterval time.Duration
	// CompressionThreshold is the byte size above which frames are
	// snappy-compressed on the wire.
	CompressionThreshold int
	// MaxTargets bounds the fan-out per tick: up to this many alive
	// peers are gossiped with each round. Defaults to 5.
	MaxTargets int
	// OnSustainedSelfFailure is invoked when this node's own outbound
	// sends have failed to reach any target for more than
	// selfFailureThreshold consecutive ticks, a sign the node's
	// advertised address is no longer reachable by peers. Typically
	// wired to trigger a fresh netaddr.Selector.Select and a bumped
	// self.Version. Optional.
	OnSustainedSelfFailure func()
}

// peerFailureThreshold is how many consecutive send failures to a given
// peer are tolerated; the next failure after that freezes the peer's
// last_seen against gossip hearsay.
const peerFailureThreshold = 3

// selfFailureThreshold is how many consecutive ticks with zero
// successful sends (out of at least one attempt) are tolerated; the
// next such tick triggers OnSustainedSelfFailure.
const selfFailureThreshold = 3

// Gossip runs the tick loop: build digest, pick targets, send, merge
// replies, occasionally sweep the directory for stale entries.
type Gossip struct {
	deps Deps

	tick      uint64
	estimator *loadEstimator

	failMu            sync.Mutex
	peerFailures      map[string]int
	selfFailureStreak int

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Gossip driver. Call Run to start its loop.
func New(deps Deps) *Gossip {
	if deps.MinInterval <= 0 {
		deps.MinInterval = 5 * time.Second
	}
	if deps.MaxInterval <= 0 {
		deps.MaxInterval = 30 * time.Second
	}
	if deps.CompressionThreshold <= 0 {
		deps.CompressionThreshold = 8192
	}
	if deps.MaxTargets <= 0 {
		deps.MaxTargets = 5
	}
	return &Gossip{
		deps:         deps,
		estimator:    newLoadEstimator(deps.MinInterval, deps.MaxInterval),
		peerFailures: make(map[string]int),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Run drives the tick loop until ctx is cancelled or Stop is called. It
// blocks; callers typically run it in its own goroutine.
func (g *Gossip) Run(ctx context.Context) {
	defer close(g.doneCh)

	sweepTicker := time.NewTicker(g.deps.MinInterval)
	defer sweepTicker.Stop()

	next := g.deps.MinInterval
	timer := time.NewTimer(next)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopCh:
			return
		case <-sweepTicker.C:
			g.deps.Directory.Sweep(time.Now())
		case <-timer.C:
			g.runTick(ctx)
			next = g.estimator.NextInterval(time.Now())
			timer.Reset(next)
		}
	}
}

// Stop signals Run to exit and waits for it to return. A tick already in
// progress first finishes its sends, which runTick bounds at 5 seconds.
func (g *Gossip) Stop() {
	g.stopOnce.Do(func() { close(g.stopCh) })
	<-g.doneCh
}

func (g *Gossip) runTick(ctx context.Context) {
	g.tick++

	self := g.deps.Self()
	peers := g.deps.Directory.All()

	targets := pickTargets(self.NodeID, self.Role, g.tick, peers, time.Now(), g.deps.MinInterval, g.deps.MaxTargets)
	if len(targets) == 0 {
		return
	}

	frame := g.buildFrame(self, peers)

	var wg sync.WaitGroup
	var mu sync.Mutex
	outcomes := make(map[string]sendOutcome, len(targets))
	for _, targetID := range targets {
		peer, ok := g.deps.Directory.Lookup(targetID)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(peer cluster.NodeInfo) {
			defer wg.Done()
			outcome := g.sendTo(ctx, peer, frame)
			mu.Lock()
			outcomes[peer.NodeID] = outcome
			mu.Unlock()
		}(peer)
	}

	deadline := time.NewTimer(5 * time.Second)
	defer deadline.Stop()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-deadline.C:
	}

	g.recordTickOutcomes(outcomes)
}

func (g *Gossip) buildFrame(self cluster.NodeInfo, peers []cluster.NodeInfo) Frame {
	entries := make([]cluster.NodeInfoWire, 0, digestSampleSize+1)
	entries = append(entries, self.ToWire())

	others := make([]cluster.NodeInfo, 0, len(peers))
	for _, p := range peers {
		if p.NodeID != self.NodeID {
			others = append(others, p)
		}
	}
	sort.Slice(others, func(i, j int) bool { return others[i].Version > others[j].Version })
	if len(others) > digestSampleSize {
		others = others[:digestSampleSize]
	}
	for _, p := range others {
		entries = append(entries, p.ToWire())
	}

	return Frame{From: self.NodeID, Nonce: newNonce(), Entries: entries}
}

func newNonce() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// sendOutcome reports how a single sendTo call resolved, so runTick can
// feed it into per-peer and self-perspective failure tracking.
type sendOutcome int

const (
	sendSkipped sendOutcome = iota
	sendOK
	sendFailed
)

func (g *Gossip) sendTo(ctx context.Context, peer cluster.NodeInfo, frame Frame) sendOutcome {
	trust, ok := g.deps.TrustRoot()
	if !ok {
		return sendSkipped
	}
	client, err := g.deps.Pool.Get(peer.NodeID, trust)
	if err != nil {
		g.deps.Logger.Warn("gossip: pool client unavailable", "peer", peer.NodeID, "err", err)
		return sendFailed
	}

	body, err := Encode(frame, g.deps.CompressionThreshold)
	if err != nil {
		g.deps.Logger.Warn("gossip: encode failed", "err", err)
		return sendSkipped
	}

	url := fmt.Sprintf("https://%s:%d%s", peer.Address, peer.Port, gossipPath)
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return sendFailed
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	g.estimator.RecordMessage(time.Now())

	resp, err := client.Do(req)
	if err != nil {
		g.deps.Logger.Debug("gossip: send failed", "peer", peer.NodeID, "err", err)
		return sendFailed
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.deps.Logger.Debug("gossip: peer rejected frame", "peer", peer.NodeID, "status", resp.StatusCode)
		return sendFailed
	}

	replyBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil || len(replyBody) == 0 {
		return sendOK
	}
	reply, err := Decode(replyBody)
	if err != nil {
		g.deps.Logger.Debug("gossip: reply decode failed", "peer", peer.NodeID, "err", err)
		return sendOK
	}
	g.Merge(reply)
	return sendOK
}

// recordTickOutcomes updates per-peer consecutive-failure counts and the
// self-perspective failure streak from one tick's send results, freezing
// or unfreezing a peer's last_seen in the directory as its streak
// exceeds peerFailureThreshold, and firing OnSustainedSelfFailure once
// this node has failed to reach any target for more than
// selfFailureThreshold consecutive ticks.
func (g *Gossip) recordTickOutcomes(outcomes map[string]sendOutcome) {
	g.failMu.Lock()

	var attempted, succeeded int
	var toFreeze, toUnfreeze []string
	for peerID, outcome := range outcomes {
		if outcome == sendSkipped {
			continue
		}
		attempted++
		if outcome == sendOK {
			succeeded++
			if g.peerFailures[peerID] >= peerFailureThreshold {
				toUnfreeze = append(toUnfreeze, peerID)
			}
			delete(g.peerFailures, peerID)
			continue
		}
		g.peerFailures[peerID]++
		if g.peerFailures[peerID] == peerFailureThreshold+1 {
			toFreeze = append(toFreeze, peerID)
		}
	}

	fireSelfFailure := false
	if attempted > 0 {
		if succeeded == 0 {
			g.selfFailureStreak++
			if g.selfFailureStreak == selfFailureThreshold+1 {
				fireSelfFailure = true
				g.selfFailureStreak = 0
			}
		} else {
			g.selfFailureStreak = 0
		}
	}
	g.failMu.Unlock()

	for _, peerID := range toFreeze {
		g.deps.Directory.FreezeLastSeen(peerID)
		g.deps.Logger.Warn("gossip: freezing peer last_seen after sustained send failure", "peer", peerID)
	}
	for _, peerID := range toUnfreeze {
		g.deps.Directory.UnfreezeLastSeen(peerID)
	}
	if fireSelfFailure && g.deps.OnSustainedSelfFailure != nil {
		g.deps.OnSustainedSelfFailure()
	}
}

// Merge applies every entry in frame to the directory and marks the
// sender as freshly seen, regardless of whether any entry changed
// anything.
func (g *Gossip) Merge(frame Frame) {
	now := time.Now()
	for _, w := range frame.Entries {
		info := cluster.FromWire(w, now)
		g.deps.Directory.Upsert(info)
	}
	if frame.From != "" {
		g.deps.Directory.MarkSeen(frame.From, now)
	}
	g.estimator.RecordMessage(now)
}

// HandleFrame implements the receive side of the gossip exchange: decode
// the inbound frame, merge it, and answer with our own current digest so
// the exchange is symmetric per round.
func (g *Gossip) HandleFrame(body []byte) ([]byte, error) {
	frame, err := Decode(body)
	if err != nil {
		return nil, err
	}
	g.Merge(frame)

	self := g.deps.Self()
	reply := g.buildFrame(self, g.deps.Directory.All())
	return Encode(reply, g.deps.CompressionThreshold)
}

// ServeHTTP exposes HandleFrame as an http.Handler for wiring into the
// dispatcher's internal route table.
func (g *Gossip) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	out, err := g.HandleFrame(body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
