// Package agent defines conversation participants and the immutable registry
// they are loaded into. Participants are declared in YAML, resolved to model
// adapters and capability handles at process start, and treated as read-only
// for the lifetime of every conversation.
package agent
