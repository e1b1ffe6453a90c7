// Package netaddr implements multi-homed address selection: at
// startup a node enumerates its non-loopback, non-link-local
// interfaces and scores each by reachability to the configured
// bootstrap coordinators and same-/24 proximity, picking the
// highest-scoring candidate as its own advertised address.
package netaddr

import (
	"context"
	"net"
	"sort"
	"time"
)

// Candidate is one scored local interface address.
type Candidate struct {
	IP             net.IP
	Reachable      bool
	SameSubnetAs   string // bootstrap address this candidate shares a /24 with, if any
	Score          int
}

// DialTimeout bounds the reachability probe per candidate/bootstrap pair.
const DialTimeout = 2 * time.Second

// Selector scores and picks the node's advertised address.
type Selector struct {
	// Dial is overridable for tests; defaults to a real TCP dial.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewSelector returns a Selector using real TCP dialing.
func NewSelector() *Selector {
	d := &net.Dialer{Timeout: DialTimeout}
	return &Selector{Dial: d.DialContext}
}

// LocalCandidates enumerates non-loopback, non-link-local unicast
// addresses across all local interfaces.
func LocalCandidates() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip := ipFromAddr(addr)
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
				continue
			}
			ips = append(ips, ip)
		}
	}
	return ips, nil
}

func ipFromAddr(addr net.Addr) net.IP {
	switch v := addr.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	default:
		return nil
	}
}

// Select scores every local candidate against bootstrapAddrs
// (host:port strings) and returns the highest-scoring one. Scoring
// favors reachable over unreachable, then same-/24-as-a-bootstrap over
// a different subnet. Ties break on lexicographically smallest IP
// string for determinism. The reachability probe dials through s.Dial
// without using the candidate as its source address, so every
// candidate gets the same Reachable result and only the same-/24 test
// and the IP order tell candidates apart.
func (s *Selector) Select(ctx context.Context, bootstrapAddrs []string) (net.IP, error) {
	candidates, err := LocalCandidates()
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, errNoCandidates
	}

	bootstrapIPs := make([]net.IP, 0, len(bootstrapAddrs))
	for _, addr := range bootstrapAddrs {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			continue
		}
		if ip := net.ParseIP(host); ip != nil {
			bootstrapIPs = append(bootstrapIPs, ip)
		} else if resolved, err := net.ResolveIPAddr("ip", host); err == nil {
			bootstrapIPs = append(bootstrapIPs, resolved.IP)
		}
	}

	scored := make([]Candidate, 0, len(candidates))
	for _, ip := range candidates {
		c := Candidate{IP: ip}

		for _, addr := range bootstrapAddrs {
			dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
			conn, err := s.Dial(dialCtx, "tcp", addr)
			cancel()
			if err == nil {
				conn.Close()
				c.Reachable = true
				break
			}
		}

		for _, bip := range bootstrapIPs {
			if sameSlash24(ip, bip) {
				c.SameSubnetAs = bip.String()
				break
			}
		}

		c.Score = score(c)
		scored = append(scored, c)
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].IP.String() < scored[j].IP.String()
	})

	return scored[0].IP, nil
}

func score(c Candidate) int {
	s := 0
	if c.Reachable {
		s += 2
	}
	if c.SameSubnetAs != "" {
		s++
	}
	return s
}

func sameSlash24(a, b net.IP) bool {
	a4, b4 := a.To4(), b.To4()
	if a4 == nil || b4 == nil {
		return false
	}
	mask := net.CIDRMask(24, 32)
	return a4.Mask(mask).Equal(b4.Mask(mask))
}

type errString string

func (e errString) Error() string { return string(e) }

const errNoCandidates = errString("netaddr: no non-loopback interface addresses found")
