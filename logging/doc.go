// Package logging provides a minimal logging interface and adapters for agentnet.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that networks, agents and the propagator use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NetLogger with component / conversation context and dispatch helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	net, err := cnp.New(manager, contractors, func(o *cnp.Options) { o.Logger = logger })
package logging
