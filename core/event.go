package core

import "time"

// EventName enumerates the stream event vocabulary exposed to clients. The
// set is closed: producers must not invent ad hoc names.
type EventName string

const (
	EventStatus      EventName = "status"
	EventAgentStatus EventName = "agent_status"
	EventDelta       EventName = "delta"
	EventToolCall    EventName = "tool_call"
	EventToolResult  EventName = "tool_result"
	EventFinal       EventName = "final"
	EventError       EventName = "error"
)

// Frame classes. Control frames carry lifecycle signals, content frames
// carry conversational payload.
const (
	FrameControl = "control"
	FrameContent = "content"
)

// Chunk types used inside EventData.
const (
	ChunkStatus   = "status"
	ChunkThinking = "thinking"
	ChunkText     = "text"
	ChunkComplete = "complete"
)

// EventData is the payload of a stream event. Fields are optional and
// populated per event name; see the constructors below for the shapes.
type EventData struct {
	ChunkType string `json:"chunkType,omitempty"`
	Content   string `json:"content,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
	Status    string `json:"status,omitempty"`
}

// StreamEvent is the single envelope shared by every stream producer and
// consumer: one event per frame, ordered per session.
type StreamEvent struct {
	Type      string    `json:"type"`
	Event     EventName `json:"event"`
	Data      EventData `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func newStreamEvent(frame string, name EventName, data EventData) StreamEvent {
	return StreamEvent{Type: frame, Event: name, Data: data, Timestamp: time.Now().UTC()}
}

// NewSessionCreatedEvent is emitted immediately on session open.
func NewSessionCreatedEvent() StreamEvent {
	return newStreamEvent(FrameControl, EventStatus, EventData{ChunkType: ChunkStatus, Content: "session_created"})
}

// NewHeartbeatEvent is emitted periodically while a session is active.
func NewHeartbeatEvent() StreamEvent {
	return newStreamEvent(FrameControl, EventStatus, EventData{ChunkType: ChunkStatus, Content: "heartbeat"})
}

// NewThinkingEvent marks an imminent model call.
func NewThinkingEvent() StreamEvent {
	return newStreamEvent(FrameControl, EventStatus, EventData{ChunkType: ChunkThinking})
}

// NewAgentStatusEvent marks a turn start for the given agent.
func NewAgentStatusEvent(agentID, status string) StreamEvent {
	return newStreamEvent(FrameControl, EventAgentStatus, EventData{AgentID: agentID, Status: status})
}

// NewDeltaEvent carries partial or full turn text.
func NewDeltaEvent(text string) StreamEvent {
	return newStreamEvent(FrameContent, EventDelta, EventData{ChunkType: ChunkText, Content: text})
}

// NewToolCallEvent carries a serialized capability invocation payload.
func NewToolCallEvent(payload string) StreamEvent {
	return newStreamEvent(FrameContent, EventToolCall, EventData{Content: payload})
}

// NewToolResultEvent carries a serialized capability result payload.
func NewToolResultEvent(payload string) StreamEvent {
	return newStreamEvent(FrameContent, EventToolResult, EventData{Content: payload})
}

// NewFinalEvent carries the aggregated conversation result.
func NewFinalEvent(content string) StreamEvent {
	return newStreamEvent(FrameContent, EventFinal, EventData{ChunkType: ChunkComplete, Content: content})
}

// NewErrorEvent surfaces an internal failure to the client before closure.
func NewErrorEvent(reason string) StreamEvent {
	return newStreamEvent(FrameControl, EventError, EventData{Content: reason})
}
