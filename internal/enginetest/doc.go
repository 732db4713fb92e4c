// Package enginetest turns a test binary into a stand-in proxy engine.
//
// A package whose tests need a real child process calls Run from TestMain.
// The supervisor under test is then pointed at the test binary itself
// (Binary); when re-executed with EnvKey set, the binary behaves like the
// engine: it answers "version", reads a JSON configuration from stdin on
// "run", opens the socks and http inbounds it finds there, and exits on
// SIGTERM. An optional "enginetest" object in the configuration scripts
// failures, output, and exits.
package enginetest
