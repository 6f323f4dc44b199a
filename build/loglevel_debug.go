//go:build debug && !nolog
// +build debug,!nolog

package build

// LogLevel specifies the debug log level, used by unit tests built with the
// stdlog and debug tags.
var LogLevel = "debug"
