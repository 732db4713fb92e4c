// Package xrayconfig reads and rewrites engine configuration documents.
//
// A Document is the decoded JSON object the engine reads from standard input.
// The override functions never modify the document they are given: the
// caller's copy is what gets persisted, and only the copy handed to the engine
// carries runtime-only changes such as test ports or a log level.
package xrayconfig
