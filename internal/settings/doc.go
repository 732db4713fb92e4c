// Package settings holds the user preferences the supervisor consults when it
// launches an engine: binary path, assets directory, log level and the
// inbound ports of the active server.
package settings
