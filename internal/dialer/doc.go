// Package dialer provides the outbound dialers used to reach a running
// engine's local inbounds.
//
// Dialers implement a small interface (DialContext). The connectivity tester
// uses them to push a probe request through the engine's HTTP inbound (plain
// forward proxying or CONNECT) or its SOCKS5 inbound, and the stand-in engine
// used in tests uses the direct dialer for its own outbound side.
package dialer
