package agent

import (
	"github.com/parley-ai/parley/capability"
	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/model"
)

// Participant is a named entity able to contribute one turn: identity and
// routing metadata, persona instructions, a model handle, and a closed list
// of capability handles.
type Participant struct {
	info         core.ParticipantInfo
	instructions string
	model        model.Model
	capabilities []capability.Capability
}

// NewParticipant assembles a participant. The capability list is copied so
// later mutation of the caller's slice cannot reach the registry.
func NewParticipant(
	info core.ParticipantInfo,
	instructions string,
	m model.Model,
	caps []capability.Capability,
) *Participant {
	copied := make([]capability.Capability, len(caps))
	copy(copied, caps)
	return &Participant{info: info, instructions: instructions, model: m, capabilities: copied}
}

// Name returns the unique participant name.
func (p *Participant) Name() string { return p.info.Name }

// Info returns the routing projection used by selection and classification.
func (p *Participant) Info() core.ParticipantInfo { return p.info }

// Instructions returns the persona prompt prefixed to every generation.
func (p *Participant) Instructions() string { return p.instructions }

// Model returns the generation handle.
func (p *Participant) Model() model.Model { return p.model }

// Capabilities returns a copy of the capability handles.
func (p *Participant) Capabilities() []capability.Capability {
	out := make([]capability.Capability, len(p.capabilities))
	copy(out, p.capabilities)
	return out
}
