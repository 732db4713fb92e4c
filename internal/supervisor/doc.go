// Package supervisor runs and tracks proxy engine processes.
//
// A Supervisor owns a registry of engine processes keyed by server ID. Each
// entry holds the process record, the child process and a bounded queue fed
// by a per-process log pump that reads the child's combined stdout and
// stderr. At most one entry is the "current" server, the one the user is
// actually connected through; StartAsCurrent moves that marker.
//
// Every configuration is transformed before spawn (inbound port overrides,
// engine log level) and handed to the engine on stdin; nothing is written to
// disk. Liveness is checked lazily: any lookup that finds an exited process
// removes it before answering.
package supervisor
