// Package hostspace holds the host side of the injection boundary: the
// namespace of bindings that can be aliased into compartments, and the
// registry of modules whose exports populate that namespace on load.
package hostspace

import (
	"context"
	"log/slog"
	"sync"
)

// Func is a host-side callable binding. Arguments and results use plain Go
// values (nil, bool, float64, string, []any, map[string]any); the
// compartment bridge converts them at the boundary.
type Func func(args ...any) (any, error)

// NativeLoader instantiates a native module binary and returns its exports
// as host callables. Implemented by nativemod over wazero.
type NativeLoader interface {
	Load(ctx context.Context, binary []byte) (map[string]Func, error)
}

// Space is the host namespace. Bindings are either callables (Func) or
// plain values; both can be aliased into a compartment under their name.
type Space struct {
	mu       sync.RWMutex
	bindings map[string]any
	modules  map[string][]*Module
	loaded   map[string]*Module
	native   NativeLoader
	logger   *slog.Logger
}

// Option configures a Space.
type Option func(*Space)

// WithNativeLoader sets the loader used for modules carrying a native binary.
func WithNativeLoader(l NativeLoader) Option {
	return func(s *Space) { s.native = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Space) { s.logger = l }
}

// New creates an empty host space.
func New(opts ...Option) *Space {
	s := &Space{
		bindings: make(map[string]any),
		modules:  make(map[string][]*Module),
		loaded:   make(map[string]*Module),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BindFunc registers a callable under the given (possibly qualified) name.
func (s *Space) BindFunc(name string, fn Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[name] = fn
}

// BindValue registers a plain value under the given name. Used for the
// host-global variables some injected routines close over, such as the
// bind variables of sort comparators.
func (s *Space) BindValue(name string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[name] = v
}

// Resolve looks up a binding by name. The result is a Func for callables
// or the bound value otherwise.
func (s *Space) Resolve(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.bindings[name]
	return v, ok
}

// Names returns the bound names, unordered.
func (s *Space) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.bindings))
	for n := range s.bindings {
		names = append(names, n)
	}
	return names
}
