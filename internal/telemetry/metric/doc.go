// Package metric provides Prometheus metrics for the cluster core.
//
// Registry wraps a dedicated prometheus.Registry (not the global
// default, so multiple fabricd instances in one process/test binary
// don't collide) plus Go runtime and process collectors. Metrics cover
// gossip traffic, the RPC fabric, certificate issuance, the rate
// limiter, and the connection pool, exposed at /metrics in Prometheus
// text format.
package metric
