package entity

import (
	"fmt"
	"sort"
)

// Provider provides the entity descriptors known to a run
type Provider interface {
	// Entities returns all descriptors sorted by type
	Entities() []*Entity
	// Lookup returns the descriptor for t
	Lookup(t Type) (*Entity, error)
	// Links returns the free-text column holding embedded references
	Links() LinkTarget
}

// RegisteredProvider is a simple in-memory implementation of Provider
type RegisteredProvider struct {
	entities map[Type]*Entity
	links    LinkTarget
}

// NewRegisteredProvider creates a provider with the given link target and entities.
// Registering an entity with a type that is already known replaces it.
func NewRegisteredProvider(links LinkTarget, entities ...*Entity) *RegisteredProvider {
	p := &RegisteredProvider{
		entities: make(map[Type]*Entity, len(entities)),
		links:    links,
	}
	for _, e := range entities {
		p.Register(e)
	}
	return p
}

// Register adds or replaces an entity descriptor
func (p *RegisteredProvider) Register(e *Entity) {
	p.entities[e.Type] = e
}

// SetLinks replaces the link target
func (p *RegisteredProvider) SetLinks(links LinkTarget) {
	p.links = links
}

// Entities returns all descriptors sorted by type
func (p *RegisteredProvider) Entities() []*Entity {
	out := make([]*Entity, 0, len(p.entities))
	for _, e := range p.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Type < out[j].Type
	})
	return out
}

// Lookup returns the descriptor for t
func (p *RegisteredProvider) Lookup(t Type) (*Entity, error) {
	e, ok := p.entities[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return e, nil
}

// Links returns the free-text column holding embedded references
func (p *RegisteredProvider) Links() LinkTarget {
	return p.links
}

// Validate validates every registered descriptor and the link target.
func (p *RegisteredProvider) Validate() error {
	for _, e := range p.Entities() {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	if p.links.Table == "" || p.links.KeyColumn == "" || p.links.Column == "" {
		return fmt.Errorf("link target table, key column and column are required")
	}
	return nil
}

// DefaultLinks is the notification link column of the fitness schema.
func DefaultLinks() LinkTarget {
	return LinkTarget{Table: "notifications", KeyColumn: "id", Column: "link"}
}

// DefaultProvider returns the descriptors of the fitness schema: groups
// and events use 6 digit identifiers, challenges use 8.
func DefaultProvider() *RegisteredProvider {
	return NewRegisteredProvider(DefaultLinks(),
		&Entity{
			Type:       Group,
			Table:      "groups",
			IDColumn:   "id",
			NameColumn: "name",
			IDLength:   6,
			Dependents: []Dependent{
				{Table: "group_members", Column: "group_id"},
				{Table: "events", Column: "group_id"},
				{Table: "challenges", Column: "group_id"},
				{Table: "posts", Column: "group_id"},
			},
			LinkPrefixes: []string{"/groups/", "/clubs/"},
		},
		&Entity{
			Type:       Event,
			Table:      "events",
			IDColumn:   "id",
			NameColumn: "title",
			IDLength:   6,
			Dependents: []Dependent{
				{Table: "event_participants", Column: "event_id"},
				{Table: "badges", Column: "event_id"},
				{Table: "notifications", Column: "event_id"},
			},
			LinkPrefixes: []string{"/dashboard/events/", "/events/"},
		},
		&Entity{
			Type:       Challenge,
			Table:      "challenges",
			IDColumn:   "id",
			NameColumn: "title",
			IDLength:   8,
			Dependents: []Dependent{
				{Table: "challenge_participants", Column: "challenge_id"},
			},
			LinkPrefixes: []string{"/challenges/"},
		},
	)
}
