package core

import "github.com/google/uuid"

// NewID generates a unique identifier used for conversations, turns,
// approval requests and stream events.
func NewID() string { return uuid.NewString() }
