// Package tlsroots assembles the TLS trust material a fabric node or
// fabrictl needs to dial or accept an mTLS connection inside the
// cluster:
//
//   - roots.go: a Pool trusting exactly the cluster's internal CA,
//     built from an in-process authority.Authority (coordinator) or a
//     fetched CA certificate (every other node/fabrictl).
//   - leaf.go: LeafSource implementations supplying the local
//     certificate/key pair presented in a handshake. ProvisionerLeaf
//     reads the provisioner's currently installed Record on every
//     handshake, so a renewed leaf is picked up without restarting the
//     listener; StaticLeaf serves a single file-based pair for callers
//     with no provisioner of their own, such as fabrictl.
//
// This is a single-CA cluster: there is no concept of a directory of
// independently trusted root certificates, so Pool trusts one CA at a
// time rather than aggregating a trust store.
package tlsroots
