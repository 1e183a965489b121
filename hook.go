package crucible

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/crucible-dev/crucible/compartment"
	"github.com/crucible-dev/crucible/registry"
)

// DefaultIdentityPattern matches the compartments of the trusted-language
// runtime. Patterns use doublestar glob syntax against compartment names.
const DefaultIdentityPattern = "trusted/*"

// FailMode selects the policy for partial injection failure.
type FailMode int

const (
	// FailOpen logs the failure and hands the compartment back usable,
	// with whatever was injected before the failure. This favors host
	// availability over injection completeness.
	FailOpen FailMode = iota
	// FailClosed propagates the failure to the lifecycle caller so the
	// compartment is withheld entirely.
	FailClosed
)

// Factory constructs compartments. Hosts route all compartment creation
// through a hook-wrapped factory so every instance passes the injection
// point.
type Factory func(ctx context.Context, name string) (*compartment.Compartment, error)

// Hook observes compartment lifecycle events and triggers injection
// exactly once per matching compartment instance.
type Hook struct {
	registry *registry.Registry
	injector *Injector
	pattern  string
	failMode FailMode
	logger   *slog.Logger
}

// HookOption configures a Hook.
type HookOption func(*Hook)

// WithIdentityPattern sets the doublestar pattern that recognizes
// trusted-language compartments. Non-matching compartments pass through
// untouched.
func WithIdentityPattern(pattern string) HookOption {
	return func(h *Hook) { h.pattern = pattern }
}

// WithFailMode sets the partial-failure policy.
func WithFailMode(mode FailMode) HookOption {
	return func(h *Hook) { h.failMode = mode }
}

// WithHookLogger sets the logger.
func WithHookLogger(l *slog.Logger) HookOption {
	return func(h *Hook) { h.logger = l }
}

// NewHook creates an injection hook reading actions from the given
// registry. The identity pattern is validated here; an invalid pattern is
// a setup error, not a runtime condition.
func NewHook(reg *registry.Registry, inj *Injector, opts ...HookOption) (*Hook, error) {
	h := &Hook{
		registry: reg,
		injector: inj,
		pattern:  DefaultIdentityPattern,
		failMode: FailOpen,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if !doublestar.ValidatePattern(h.pattern) {
		return nil, fmt.Errorf("invalid identity pattern %q", h.pattern)
	}
	return h, nil
}

// OnCompartmentReady fires when a compartment is about to begin accepting
// untrusted code. Non-matching compartments are ignored. Injection happens
// at most once per instance regardless of how many times the event fires;
// the injected flag is set before any action runs so a re-entrant
// lifecycle event cannot trigger a second pass.
func (h *Hook) OnCompartmentReady(ctx context.Context, c *compartment.Compartment) error {
	match, _ := doublestar.Match(h.pattern, c.Name())
	if !match {
		return nil
	}
	if !c.MarkInjected() {
		return nil
	}

	if err := h.injector.ApplyAll(ctx, c, h.registry.Actions()); err != nil {
		ie := &InjectionError{Compartment: c.Name(), Cause: err}
		if h.failMode == FailClosed {
			return ie
		}
		h.logger.Error("capability injection failed; compartment continues without remaining capabilities",
			"compartment", c.Name(), "error", err)
	}
	return nil
}

// WrapFactory decorates a compartment factory so every construction passes
// through the hook. Under FailClosed a failed injection fails the
// construction itself; the partially injected compartment is closed.
func (h *Hook) WrapFactory(next Factory) Factory {
	return func(ctx context.Context, name string) (*compartment.Compartment, error) {
		c, err := next(ctx, name)
		if err != nil {
			return nil, err
		}
		if err := h.OnCompartmentReady(ctx, c); err != nil {
			c.Close()
			return nil, err
		}
		return c, nil
	}
}
