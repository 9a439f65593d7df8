// Package logging provides a tiny abstraction over zap so downstream code
// can depend on a minimal interface while the daemon wires a fully
// configured structured logger. Tests use NopLogger.
package logging
