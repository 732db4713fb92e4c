// Package socks5 wraps github.com/txthinking/socks5 with the two handshakes
// xraysup needs: the client CONNECT used to probe an engine's SOCKS inbound,
// and the server side used by the stand-in engine in tests.
//
// Only CONNECT with no-auth or username/password is supported.
package socks5
