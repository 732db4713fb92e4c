// Package connectivity checks whether proxy configurations actually carry
// traffic.
//
// A Tester launches each configuration as a throwaway engine process on a
// freshly allocated port pair, sends one HTTP request through it and reports
// success, latency or the failure. Probes never touch the supervisor's
// current server; they run under their own registry keys and are always
// stopped afterwards.
package connectivity
