package crucible

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/crucible-dev/crucible/compartment"
	"github.com/crucible-dev/crucible/hostspace"
	"github.com/crucible-dev/crucible/policy"
	"github.com/crucible-dev/crucible/registry"
)

// NativeLoaderAlias is the one-shot loader binding made available to a
// native module's shim while it runs, and removed immediately after.
const NativeLoaderAlias = "__nativeload"

// Injector applies registered capability actions against one target
// compartment. All work is synchronous and completes before any untrusted
// code runs in the compartment.
type Injector struct {
	space  *hostspace.Space
	logger *slog.Logger
}

// InjectorOption configures an Injector.
type InjectorOption func(*Injector)

// WithInjectorLogger sets the logger.
func WithInjectorLogger(l *slog.Logger) InjectorOption {
	return func(i *Injector) { i.logger = l }
}

// NewInjector creates an injector resolving capabilities against the given
// host space.
func NewInjector(space *hostspace.Space, opts ...InjectorOption) *Injector {
	i := &Injector{
		space:  space,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ApplyAll applies every action against the compartment. Name-sharing
// actions run fully before module/code actions so injected code can call
// already-shared capabilities; relative order is preserved within each
// side. Unresolvable names and modules are skipped with a warning; a
// failing module/code evaluation aborts the remaining actions and
// propagates to the caller.
func (i *Injector) ApplyAll(ctx context.Context, c *compartment.Compartment, actions []registry.Action) error {
	var shares, rest []registry.Action
	for _, a := range actions {
		switch a.Kind {
		case registry.ShareNames, registry.ShareFromModule:
			shares = append(shares, a)
		default:
			rest = append(rest, a)
		}
	}

	for _, a := range shares {
		i.applyShare(ctx, c, a)
	}

	for _, a := range rest {
		switch a.Kind {
		case registry.LoadModule:
			if err := i.applyLoadModule(ctx, c, a); err != nil {
				return err
			}
		case registry.ExecuteCode:
			if err := i.applyExecuteCode(c, a); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown capability action kind %d", a.Kind)
		}
	}
	return nil
}

// applyShare aliases host bindings into the compartment. Failures are
// local: each unresolvable entry is logged and skipped, never fatal.
func (i *Injector) applyShare(ctx context.Context, c *compartment.Compartment, a registry.Action) {
	prefix := ""
	if a.Kind == registry.ShareFromModule {
		// The module loads into the host space first, under full host
		// privilege, before any alias is created.
		if _, err := i.space.Load(ctx, a.ModuleID, a.Constraint); err != nil {
			i.warnUnresolved(c, &UnresolvedCapabilityError{Name: a.ModuleID, Module: a.ModuleID}, err)
			return
		}
		prefix = a.ModuleID + "."
	}

	for _, name := range a.Names {
		qualified := prefix + name
		v, ok := i.space.Resolve(qualified)
		if !ok {
			i.warnUnresolved(c, &UnresolvedCapabilityError{Name: qualified, Module: a.ModuleID}, nil)
			continue
		}
		if err := c.Bind(qualified, v); err != nil {
			i.warnUnresolved(c, &UnresolvedCapabilityError{Name: qualified, Module: a.ModuleID}, err)
		}
	}
}

// applyLoadModule loads a module into the host space, evaluates its shim
// inside the compartment under a relaxed whitelist, and aliases the
// requested imports. Modules carrying a native payload get the one-shot
// loader binding for the duration of the shim only.
func (i *Injector) applyLoadModule(ctx context.Context, c *compartment.Compartment, a registry.Action) error {
	m, err := i.space.Load(ctx, a.ModuleID, a.Constraint)
	if err != nil {
		if errors.Is(err, hostspace.ErrModuleNotFound) {
			i.warnUnresolved(c, &UnresolvedCapabilityError{Name: a.ModuleID, Module: a.ModuleID}, err)
			return nil
		}
		return fmt.Errorf("load module %s: %w", a.ModuleID, err)
	}

	if m.Source != "" {
		if len(m.Binary) > 0 {
			if err := c.Bind(NativeLoaderAlias, i.nativeLoaderFunc(c, m)); err != nil {
				return fmt.Errorf("bind native loader for %s: %w", m.ID, err)
			}
			defer c.Unbind(NativeLoaderAlias)
		}

		extra := append([]policy.Tag{policy.GroupLoad}, a.ExtraOps...)
		if err := i.executeRelaxed(c, m.Source, extra); err != nil {
			return err
		}
	}

	for _, imp := range a.Imports {
		qualified := m.ID + "." + imp
		v, ok := i.space.Resolve(qualified)
		if !ok {
			i.warnUnresolved(c, &UnresolvedCapabilityError{Name: qualified, Module: m.ID}, nil)
			continue
		}
		if err := c.Bind(qualified, v); err != nil {
			i.warnUnresolved(c, &UnresolvedCapabilityError{Name: qualified, Module: m.ID}, err)
		}
	}
	return nil
}

func (i *Injector) applyExecuteCode(c *compartment.Compartment, a registry.Action) error {
	extra := a.ExtraOps
	if a.AllowNestedLoad {
		extra = append(append([]policy.Tag{}, extra...), policy.GroupLoad)
	}
	return i.executeRelaxed(c, a.Code, extra)
}

// executeRelaxed evaluates code inside the compartment under a temporarily
// widened whitelist. The pre-relaxation snapshot is restored on every
// path, including evaluation failure.
func (i *Injector) executeRelaxed(c *compartment.Compartment, code string, extra []policy.Tag) error {
	snap := c.Whitelist().Snapshot()
	c.Whitelist().Relax(extra...)
	c.ApplyWhitelist()
	defer func() {
		c.Whitelist().Restore(snap)
		c.ApplyWhitelist()
	}()

	if _, err := c.Eval(code); err != nil {
		return &RelaxedExecutionError{Fragment: code, Cause: err}
	}
	return nil
}

// nativeLoaderFunc builds the one-shot loader capability: called from the
// module's shim with an export name, it aliases that export into the
// compartment. It never outlives the shim evaluation.
func (i *Injector) nativeLoaderFunc(c *compartment.Compartment, m *hostspace.Module) hostspace.Func {
	return func(args ...any) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("%s: export name required", NativeLoaderAlias)
		}
		name, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("%s: export name must be a string", NativeLoaderAlias)
		}
		qualified := m.ID + "." + name
		v, found := i.space.Resolve(qualified)
		if !found {
			return nil, &UnresolvedCapabilityError{Name: qualified, Module: m.ID}
		}
		if err := c.Bind(qualified, v); err != nil {
			return nil, err
		}
		return true, nil
	}
}

func (i *Injector) warnUnresolved(c *compartment.Compartment, ue *UnresolvedCapabilityError, cause error) {
	attrs := []any{
		"compartment", c.Name(),
		"capability", ue.Name,
	}
	if ue.Module != "" {
		attrs = append(attrs, "module", ue.Module)
	}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	i.logger.Warn("skipping unresolved capability", attrs...)
}
