// Package registry implements the process-wide list of pending capability
// actions. Trusted setup code populates it before any compartment reaches
// its injection point; from then on it is read-only and shared by every
// compartment the process creates.
package registry

import (
	"sync"

	"github.com/crucible-dev/crucible/policy"
)

// Kind discriminates the capability action variants.
type Kind int

const (
	// ShareNames aliases host bindings into the compartment namespace.
	ShareNames Kind = iota
	// ShareFromModule loads a module into the host space first, then
	// aliases the named exports.
	ShareFromModule
	// LoadModule loads a module and evaluates its shim inside the
	// compartment under a relaxed whitelist.
	LoadModule
	// ExecuteCode evaluates an opaque fragment inside the compartment
	// under a relaxed whitelist.
	ExecuteCode
)

func (k Kind) String() string {
	switch k {
	case ShareNames:
		return "share"
	case ShareFromModule:
		return "share_from_module"
	case LoadModule:
		return "load_module"
	case ExecuteCode:
		return "execute_code"
	default:
		return "unknown"
	}
}

// Action is one pending injection step. Fields are populated per Kind.
type Action struct {
	Kind            Kind
	Names           []string
	ModuleID        string
	Constraint      string
	Imports         []string
	ExtraOps        []policy.Tag
	Code            string
	AllowNestedLoad bool
}

// Registry is the append-only, ordered action list.
//
// Precondition: registration must complete before the first compartment is
// injected. The mutex makes reads safe afterwards; concurrent registration
// and injection is not supported.
type Registry struct {
	mu      sync.RWMutex
	actions []Action
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// ActionOption configures a LoadModule or ExecuteCode registration.
type ActionOption func(*Action)

// WithConstraint sets the module version constraint (semver ranges or
// "latest").
func WithConstraint(constraint string) ActionOption {
	return func(a *Action) { a.Constraint = constraint }
}

// WithImports sets the module exports to alias into the compartment after
// the module loads.
func WithImports(names ...string) ActionOption {
	return func(a *Action) { a.Imports = names }
}

// WithExtraOps grants additional operation tags for the duration of the
// action's relaxed execution.
func WithExtraOps(tags ...policy.Tag) ActionOption {
	return func(a *Action) { a.ExtraOps = tags }
}

// WithNestedLoad permits the fragment to use load-family operations.
func WithNestedLoad() ActionOption {
	return func(a *Action) { a.AllowNestedLoad = true }
}

// RegisterShare appends a name-sharing action.
func (r *Registry) RegisterShare(names ...string) {
	r.append(Action{Kind: ShareNames, Names: names})
}

// RegisterShareFromModule appends a module-backed name-sharing action. The
// module is loaded into the host space at injection time, before aliasing.
func (r *Registry) RegisterShareFromModule(moduleID string, names ...string) {
	r.append(Action{Kind: ShareFromModule, ModuleID: moduleID, Names: names})
}

// RegisterLoadModule appends a module-load action.
func (r *Registry) RegisterLoadModule(moduleID string, opts ...ActionOption) {
	a := Action{Kind: LoadModule, ModuleID: moduleID}
	for _, opt := range opts {
		opt(&a)
	}
	r.append(a)
}

// RegisterExecuteCode appends a code-fragment action.
func (r *Registry) RegisterExecuteCode(code string, opts ...ActionOption) {
	a := Action{Kind: ExecuteCode, Code: code}
	for _, opt := range opts {
		opt(&a)
	}
	r.append(a)
}

func (r *Registry) append(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
}

// Actions returns the registered actions in registration order. The slice
// is a copy; the registry is never cleared.
func (r *Registry) Actions() []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Action, len(r.actions))
	copy(out, r.actions)
	return out
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}
