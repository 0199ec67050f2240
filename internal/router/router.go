// Package router holds the persona registry and resolves handoff directives
// between agents.
package router

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/agentd/internal/contextstore"
)

var (
	// ErrUnknownPersona is returned when a directive names a persona that
	// is not registered.
	ErrUnknownPersona = errors.New("unknown persona")

	// ErrDuplicatePersona is returned when the same persona id is
	// registered twice.
	ErrDuplicatePersona = errors.New("persona already registered")
)

// Persona is one registered agent: its identity, its instruction block and
// the tools it may use.
type Persona struct {
	ID           string
	Name         string
	Instructions string

	// Tools lists the tool names this persona may invoke through the
	// gateway. Empty means no tools.
	Tools []string
}

// HandoffDirective is an explicit, typed transfer request produced by the
// active persona. Anything that does not parse into one of these stays with
// the current persona.
type HandoffDirective struct {
	Target string
	Reason string
}

// Registry maps persona ids to personas. It is built once at startup and
// read-only afterwards.
type Registry struct {
	personas map[string]Persona
	def      string
}

// NewRegistry builds a registry. The first persona is the default entry
// point for new conversations.
func NewRegistry(personas ...Persona) (*Registry, error) {
	if len(personas) == 0 {
		return nil, errors.New("at least one persona is required")
	}
	r := &Registry{personas: make(map[string]Persona, len(personas)), def: personas[0].ID}
	for _, p := range personas {
		if p.ID == "" {
			return nil, errors.New("persona id must not be empty")
		}
		if _, ok := r.personas[p.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePersona, p.ID)
		}
		r.personas[p.ID] = p
	}
	return r, nil
}

// Default returns the entry-point persona id.
func (r *Registry) Default() string {
	return r.def
}

// Get returns the persona for id.
func (r *Registry) Get(id string) (Persona, error) {
	p, ok := r.personas[id]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %s", ErrUnknownPersona, id)
	}
	return p, nil
}

// IDs returns all registered persona ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.personas))
	for id := range r.personas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Route applies a handoff directive to the context. A nil directive or one
// naming an unknown persona leaves the active agent unchanged; only a valid
// directive to a registered persona switches it. Episodic and semantic
// layers are never touched.
func (r *Registry) Route(ec *contextstore.EnterpriseContext, d *HandoffDirective, now time.Time) (switched bool, err error) {
	if d == nil {
		return false, nil
	}
	if _, ok := r.personas[d.Target]; !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownPersona, d.Target)
	}
	if d.Target == ec.Operational.ActiveAgent {
		return false, nil
	}
	ec.Operational.ActiveAgent = d.Target
	ec.UpdatedAt = now.UTC()
	return true, nil
}
