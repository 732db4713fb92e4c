// Package portalloc finds free loopback TCP ports for short-lived engine
// processes.
//
// Probing is advisory: a port is "free" if a listener could be bound and
// closed again. Nothing stops another process from taking the port before the
// engine binds it, so callers must treat a bind failure in the child as an
// ordinary start failure.
package portalloc
