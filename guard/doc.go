// Package guard implements the content security gate: a deterministic,
// side-effect-free pattern validator that classifies prompts and responses
// before they reach a model. It runs inline on every gate check, so the
// implementation is pure pattern matching with no network calls.
package guard
