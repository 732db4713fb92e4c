// Package api serves the JSON control API over a Supervisor: start, stop and
// restart of the current server, its status, a server-sent event stream of
// its log, connectivity tests, and the engine version.
package api
