// Package registry provides the RoleRegistry implementation: an in-memory
// set of role definitions seeded from an embedded default catalogue and
// extendable from YAML files.
package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/consultmesh/core"
)

//go:embed defaults.yaml
var defaultRoles []byte

// File is the on-disk role catalogue format.
type File struct {
	Roles []core.Role `yaml:"roles"`
}

// Registry is a concurrency safe role catalogue preserving registration order.
type Registry struct {
	mu    sync.RWMutex
	roles map[string]core.Role
	order []string
}

// New creates a registry holding roles.
func New(roles ...core.Role) (*Registry, error) {
	r := &Registry{roles: make(map[string]core.Role)}
	for _, role := range roles {
		if err := r.Register(role); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Default returns a registry seeded with the built-in roles.
func Default() *Registry {
	roles, err := Parse(defaultRoles)
	if err != nil {
		panic(fmt.Sprintf("registry: invalid embedded defaults: %v", err))
	}
	r, err := New(roles...)
	if err != nil {
		panic(fmt.Sprintf("registry: invalid embedded defaults: %v", err))
	}
	return r
}

// Validate checks a single role definition.
func Validate(role core.Role) error {
	var errs []error
	if role.ID == "" {
		errs = append(errs, errors.New("role id is required"))
	}
	if role.MemoryWindow < 0 {
		errs = append(errs, fmt.Errorf("role %q: memory_window must be >= 0", role.ID))
	}
	return errors.Join(errs...)
}

// Register adds or replaces a role. Replacing keeps the original position.
func (r *Registry) Register(role core.Role) error {
	if err := Validate(role); err != nil {
		return err
	}
	if role.Name == "" {
		role.Name = role.ID
	}
	role.Expertise = append([]string(nil), role.Expertise...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.roles[role.ID]; !exists {
		r.order = append(r.order, role.ID)
	}
	r.roles[role.ID] = role
	return nil
}

// Remove deletes a role and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[id]; !ok {
		return false
	}
	delete(r.roles, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Resolve implements core.RoleRegistry.
func (r *Registry) Resolve(id string) (core.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[id]
	if !ok {
		return core.Role{}, fmt.Errorf("%w: %s", core.ErrUnknownRole, id)
	}
	role.Expertise = append([]string(nil), role.Expertise...)
	return role, nil
}

// List returns all roles in registration order.
func (r *Registry) List() []core.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Role, 0, len(r.order))
	for _, id := range r.order {
		role := r.roles[id]
		role.Expertise = append([]string(nil), role.Expertise...)
		out = append(out, role)
	}
	return out
}

// LoadFile merges the roles of a YAML catalogue into the registry.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read roles file: %w", err)
	}
	roles, err := Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, role := range roles {
		if err := r.Register(role); err != nil {
			return err
		}
	}
	return nil
}

// Parse decodes a YAML role catalogue. Duplicate ids within one document are
// rejected.
func Parse(data []byte) ([]core.Role, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roles: %w", err)
	}

	seen := make(map[string]bool, len(f.Roles))
	for _, role := range f.Roles {
		if err := Validate(role); err != nil {
			return nil, err
		}
		if seen[role.ID] {
			return nil, fmt.Errorf("duplicate role id %q", role.ID)
		}
		seen[role.ID] = true
	}
	return f.Roles, nil
}

// Presets maps case types to recommended role panels.
var Presets = map[string][]string{
	"default":             {"ethicist", "healthcare_professional", "patient_advocate"},
	"autonomy":            {"attending_physician", "patient_advocate", "ethicist", "family_representative"},
	"beneficence":         {"attending_physician", "nurse_manager", "ethicist", "patient_advocate"},
	"justice":             {"hospital_administrator", "ethicist", "attending_physician", "social_worker"},
	"resource_allocation": {"hospital_administrator", "attending_physician", "ethicist", "nurse_manager"},
	"technology":          {"ethicist", "healthcare_professional", "policy_expert", "technologist"},
}

// Preset returns the role panel for a case type, falling back to "default".
func Preset(caseType string) []string {
	ids, ok := Presets[caseType]
	if !ok {
		ids = Presets["default"]
	}
	return append([]string(nil), ids...)
}
