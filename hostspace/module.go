package hostspace

import (
	"context"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Module is a unit of host functionality that can be loaded into the host
// space and, optionally, into a compartment. Exports and Values are bound
// under "id.name" when the module loads. Source is an optional
// compartment-side shim evaluated during LoadModule injection. Binary is
// an optional native payload; its exports are produced by the space's
// NativeLoader and merged with Exports at load time.
type Module struct {
	ID      string
	Version string
	Exports map[string]Func
	Values  map[string]any
	Source  string
	Binary  []byte
}

// RegisterModule adds a module version to the registry. The same ID may be
// registered at several versions; Load resolves the highest one matching
// the requested constraint.
func (s *Space) RegisterModule(m *Module) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("module must have an id")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("module %s: invalid version %q: %w", m.ID, m.Version, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.modules[m.ID] {
		if existing.Version == m.Version {
			return fmt.Errorf("module %s@%s already registered", m.ID, m.Version)
		}
	}
	s.modules[m.ID] = append(s.modules[m.ID], m)
	return nil
}

// Load resolves a module by ID and constraint, loads it into the host
// space and returns it. Loading binds every export and value under
// "id.name" and runs the native payload through the NativeLoader.
// A module loads at most once per space; subsequent Loads return the
// already-loaded version regardless of constraint.
func (s *Space) Load(ctx context.Context, id, constraint string) (*Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.loaded[id]; ok {
		return m, nil
	}

	m, err := s.resolveLocked(id, constraint)
	if err != nil {
		return nil, err
	}

	exports := make(map[string]Func, len(m.Exports))
	for name, fn := range m.Exports {
		exports[name] = fn
	}
	if len(m.Binary) > 0 {
		if s.native == nil {
			return nil, fmt.Errorf("module %s has a native payload but no native loader is configured", id)
		}
		nativeExports, err := s.native.Load(ctx, m.Binary)
		if err != nil {
			return nil, fmt.Errorf("load native payload of %s: %w", id, err)
		}
		for name, fn := range nativeExports {
			exports[name] = fn
		}
	}

	for name, fn := range exports {
		s.bindings[m.ID+"."+name] = fn
	}
	for name, v := range m.Values {
		s.bindings[m.ID+"."+name] = v
	}

	s.loaded[id] = m
	s.logger.Debug("module loaded into host space",
		"module", m.ID, "version", m.Version, "exports", len(exports))
	return m, nil
}

// Loaded reports whether the module has been loaded into this space.
func (s *Space) Loaded(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.loaded[id]
	return ok
}

// resolveLocked picks the highest registered version satisfying the
// constraint. Empty and "latest" constraints match any version.
func (s *Space) resolveLocked(id, constraint string) (*Module, error) {
	versions := s.modules[id]
	if len(versions) == 0 {
		return nil, &ModuleNotFoundError{ID: id, Constraint: constraint}
	}

	if constraint == "" || constraint == "latest" {
		constraint = ">= 0.0.0-0"
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("invalid version constraint %q for module %s: %w", constraint, id, err)
	}

	var best *Module
	var bestVer *semver.Version
	for _, m := range versions {
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			continue
		}
		if !c.Check(v) {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			best, bestVer = m, v
		}
	}
	if best == nil {
		return nil, &ModuleNotFoundError{ID: id, Constraint: constraint}
	}

	return best, nil
}

// Versions returns the registered versions of a module in ascending order.
func (s *Space) Versions(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parsed := make([]*semver.Version, 0, len(s.modules[id]))
	for _, m := range s.modules[id] {
		if v, err := semver.NewVersion(m.Version); err == nil {
			parsed = append(parsed, v)
		}
	}
	sort.Sort(semver.Collection(parsed))

	out := make([]string, len(parsed))
	for i, v := range parsed {
		out[i] = v.Original()
	}
	return out
}
