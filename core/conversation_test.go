package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_AppendTurnAssignsIndexes(t *testing.T) {
	c := NewConversation("c1", "u1")

	c.AppendTurn(Turn{AgentID: "lead", Output: NewTextContent("assistant", "one")})
	c.AppendTurn(Turn{AgentID: "finance", Output: NewTextContent("assistant", "two")})

	turns := c.GetTurns()
	require.Len(t, turns, 2)
	assert.Equal(t, 0, turns[0].Index)
	assert.Equal(t, 1, turns[1].Index)
	assert.Equal(t, 2, c.TurnCount())
}

func TestConversation_TerminalStatusIsSticky(t *testing.T) {
	c := NewConversation("c1", "u1")

	require.True(t, c.SetStatus(ConversationCompleted))
	assert.False(t, c.SetStatus(ConversationFailed), "terminal status must not transition")
	assert.Equal(t, ConversationCompleted, c.GetStatus())

	before := c.TurnCount()
	c.AppendTurn(Turn{AgentID: "lead"})
	assert.Equal(t, before, c.TurnCount(), "no turns recorded after terminal status")
}

func TestConversation_AgentsUsedOrderedDistinct(t *testing.T) {
	c := NewConversation("c1", "u1")
	for _, id := range []string{"lead", "finance", "lead", "security"} {
		c.AppendTurn(Turn{AgentID: id, Output: NewTextContent("assistant", "x")})
	}

	assert.Equal(t, []string{"lead", "finance", "security"}, c.AgentsUsed())
}

func TestConversation_LastResponseSkipsEmptyOutputs(t *testing.T) {
	c := NewConversation("c1", "u1")
	c.AppendTurn(Turn{AgentID: "lead", Output: NewTextContent("assistant", "substantive answer")})
	c.AppendTurn(Turn{AgentID: "lead", Output: Content{Role: "assistant"}})

	assert.Equal(t, "substantive answer", c.LastResponse())
}

func TestConversation_TranscriptPrependsUserMessage(t *testing.T) {
	c := NewConversation("c1", "u1")
	c.AppendTurn(Turn{AgentID: "lead", Output: NewTextContent("assistant", "reply")})

	contents := c.Transcript("original question")
	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "original question", contents[0].Text())
	assert.Equal(t, "reply", contents[1].Text())
}

func TestConversation_TurnsAreCopiedOnRead(t *testing.T) {
	c := NewConversation("c1", "u1")
	c.AppendTurn(Turn{AgentID: "lead", Output: NewTextContent("assistant", "x")})

	turns := c.GetTurns()
	turns[0].AgentID = "mutated"
	assert.Equal(t, "lead", c.GetTurns()[0].AgentID)
}
