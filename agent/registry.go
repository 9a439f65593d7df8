package agent

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/parley-ai/parley/capability"
	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/model"
)

// Definition is the declarative YAML form of a participant.
type Definition struct {
	Name         string   `koanf:"name"`
	Role         string   `koanf:"role"`
	Description  string   `koanf:"description"`
	Keywords     []string `koanf:"keywords"`
	Instructions string   `koanf:"instructions"`
	Model        struct {
		Provider string `koanf:"provider"`
		Name     string `koanf:"name"`
	} `koanf:"model"`
	Capabilities []string `koanf:"capabilities"`
}

type definitionsFile struct {
	Agents []Definition `koanf:"agents"`
}

// ModelFactory resolves a provider/name pair to a model adapter.
type ModelFactory func(provider, name string) (model.Model, error)

// CapabilityResolver resolves a declared capability name to a handle.
// Unknown names are a load error, not a runtime surprise.
type CapabilityResolver func(name string) (capability.Capability, bool)

// Registry is the immutable participant set for the process. Order follows
// the declaration order; the first participant is the default speaker.
type Registry struct {
	ordered []*Participant
	byName  map[string]*Participant
}

// NewRegistry builds a registry from assembled participants.
func NewRegistry(participants ...*Participant) (*Registry, error) {
	if len(participants) == 0 {
		return nil, fmt.Errorf("registry requires at least one participant")
	}
	byName := make(map[string]*Participant, len(participants))
	for _, p := range participants {
		if _, dup := byName[p.Name()]; dup {
			return nil, fmt.Errorf("duplicate participant name %q", p.Name())
		}
		byName[p.Name()] = p
	}
	ordered := make([]*Participant, len(participants))
	copy(ordered, participants)
	return &Registry{ordered: ordered, byName: byName}, nil
}

// LoadRegistry reads a YAML definitions file and assembles the registry.
func LoadRegistry(path string, models ModelFactory, caps CapabilityResolver) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent definitions: %w", err)
	}
	return LoadRegistryBytes(raw, models, caps)
}

// LoadRegistryBytes assembles the registry from in-memory YAML.
func LoadRegistryBytes(raw []byte, models ModelFactory, caps CapabilityResolver) (*Registry, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse agent definitions: %w", err)
	}
	var file definitionsFile
	if err := k.Unmarshal("", &file); err != nil {
		return nil, fmt.Errorf("unmarshal agent definitions: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, fmt.Errorf("agent definitions contain no agents")
	}

	participants := make([]*Participant, 0, len(file.Agents))
	for _, def := range file.Agents {
		if def.Name == "" {
			return nil, fmt.Errorf("agent definition missing name")
		}
		m, err := models(def.Model.Provider, def.Model.Name)
		if err != nil {
			return nil, fmt.Errorf("resolve model for agent %q: %w", def.Name, err)
		}
		var handles []capability.Capability
		for _, capName := range def.Capabilities {
			handle, ok := caps(capName)
			if !ok {
				return nil, fmt.Errorf("agent %q declares unknown capability %q", def.Name, capName)
			}
			handles = append(handles, handle)
		}
		participants = append(participants, NewParticipant(
			core.ParticipantInfo{
				Name:        def.Name,
				Role:        def.Role,
				Description: def.Description,
				Keywords:    def.Keywords,
			},
			def.Instructions,
			m,
			handles,
		))
	}
	return NewRegistry(participants...)
}

// Get returns the named participant.
func (r *Registry) Get(name string) (*Participant, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// First returns the default speaker.
func (r *Registry) First() *Participant { return r.ordered[0] }

// All returns participants in declaration order.
func (r *Registry) All() []*Participant {
	out := make([]*Participant, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Infos returns the routing projections in declaration order.
func (r *Registry) Infos() []core.ParticipantInfo {
	infos := make([]core.ParticipantInfo, len(r.ordered))
	for i, p := range r.ordered {
		infos[i] = p.Info()
	}
	return infos
}

// Len reports the participant count.
func (r *Registry) Len() int { return len(r.ordered) }
