// Package metrics records engine lifecycle and connectivity probe metrics.
//
// The supervisor and the tester depend on the Collector interface; Nop is the
// default and Prometheus exposes everything on its own registry for the
// /metrics endpoint.
package metrics
