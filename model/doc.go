// Package model defines the provider-neutral generation interface the
// orchestrator drives. Adapters for concrete providers live in subpackages;
// all of them stream Response chunks over a channel and report token usage on
// the final chunk so spend can be recorded per turn.
package model
