// Package engine locates the proxy engine executable and queries its version.
//
// The engine is an opaque binary invoked as "<binary> run -config stdin:" by
// the supervisor and as "<binary> version" here.
package engine
