package core

// Role is an immutable participant definition. Inside the engine roles are
// referenced by ID only; the full definition is resolved once per session.
type Role struct {
	ID                     string   `json:"id" yaml:"id"`
	Name                   string   `json:"name" yaml:"name"`
	Description            string   `json:"description,omitempty" yaml:"description,omitempty"`
	Persona                string   `json:"persona" yaml:"persona"`
	Expertise              []string `json:"expertise,omitempty" yaml:"expertise,omitempty"`
	StakeholderPerspective string   `json:"stakeholder_perspective,omitempty" yaml:"stakeholder_perspective,omitempty"`
	MemoryWindow           int      `json:"memory_window" yaml:"memory_window"`
}

// HasExpertise reports whether tag is one of the role's expertise tags.
func (r Role) HasExpertise(tag string) bool {
	for _, e := range r.Expertise {
		if e == tag {
			return true
		}
	}

	return false
}

// RoleRegistry resolves role identifiers. It is read-only from the engine's
// perspective. Resolve MUST return an error wrapping ErrUnknownRole when the
// identifier is absent.
type RoleRegistry interface {
	Resolve(id string) (Role, error)
}
