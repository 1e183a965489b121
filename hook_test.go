package crucible

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-dev/crucible/compartment"
	"github.com/crucible-dev/crucible/hostspace"
	"github.com/crucible-dev/crucible/registry"
)

func newHook(t *testing.T, space *hostspace.Space, reg *registry.Registry, opts ...HookOption) *Hook {
	t.Helper()
	h, err := NewHook(reg, NewInjector(space), opts...)
	require.NoError(t, err)
	return h
}

func Test_NewHook_InvalidPattern(t *testing.T) {
	_, err := NewHook(registry.New(), NewInjector(hostspace.New()),
		WithIdentityPattern("trusted/[")) // unterminated character class
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid identity pattern")
}

func Test_OnCompartmentReady_InjectsOnce(t *testing.T) {
	space := hostspace.New()
	reg := registry.New()
	reg.RegisterExecuteCode(`fired = (fired or 0) + 1`)

	h := newHook(t, space, reg)
	c := newTestCompartment(t, "trusted/main")
	ctx := context.Background()

	require.NoError(t, h.OnCompartmentReady(ctx, c))
	require.NoError(t, h.OnCompartmentReady(ctx, c))
	require.NoError(t, h.OnCompartmentReady(ctx, c))

	out, err := c.Eval(`return fired`)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0}, out, "injection must run exactly once per instance")
	assert.True(t, c.Injected())
}

func Test_OnCompartmentReady_IgnoresNonMatching(t *testing.T) {
	space := hostspace.New()
	space.BindFunc("foo", incrFunc())
	reg := registry.New()
	reg.RegisterShare("foo")

	h := newHook(t, space, reg)
	c := newTestCompartment(t, "web/templates")
	before := c.Whitelist().Tags()

	require.NoError(t, h.OnCompartmentReady(context.Background(), c))

	assert.False(t, c.Injected())
	assert.Equal(t, before, c.Whitelist().Tags())
	out, err := c.Eval(`return foo == nil`)
	require.NoError(t, err)
	assert.Equal(t, []any{true}, out)
}

func Test_OnCompartmentReady_FailOpen(t *testing.T) {
	space := hostspace.New()
	space.BindFunc("foo", incrFunc())
	reg := registry.New()
	reg.RegisterShare("foo")
	reg.RegisterExecuteCode(`error("setup broke")`)

	h := newHook(t, space, reg)
	c := newTestCompartment(t, "trusted/main")

	// Fail-open: the lifecycle caller never sees the error and the
	// compartment keeps whatever was injected before the failure.
	require.NoError(t, h.OnCompartmentReady(context.Background(), c))

	out, err := c.Eval(`return foo(1)`)
	require.NoError(t, err)
	assert.Equal(t, []any{2.0}, out)
}

func Test_OnCompartmentReady_FailClosed(t *testing.T) {
	space := hostspace.New()
	reg := registry.New()
	reg.RegisterExecuteCode(`error("setup broke")`)

	h := newHook(t, space, reg, WithFailMode(FailClosed))
	c := newTestCompartment(t, "trusted/main")

	err := h.OnCompartmentReady(context.Background(), c)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInjectionFailed)
	assert.ErrorIs(t, err, ErrRelaxedExecution)

	var ie *InjectionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "trusted/main", ie.Compartment)
}

func Test_WrapFactory_InjectsThroughConstruction(t *testing.T) {
	space := hostspace.New()
	space.BindFunc("foo", incrFunc())
	reg := registry.New()
	reg.RegisterShare("foo")

	h := newHook(t, space, reg)
	factory := h.WrapFactory(func(_ context.Context, name string) (*compartment.Compartment, error) {
		return compartment.New(name)
	})

	c, err := factory(context.Background(), "trusted/main")
	require.NoError(t, err)
	t.Cleanup(c.Close)

	assert.True(t, c.Injected())
	out, err := c.Eval(`return foo(41)`)
	require.NoError(t, err)
	assert.Equal(t, []any{42.0}, out)
}

func Test_WrapFactory_FailClosed_FailsConstruction(t *testing.T) {
	space := hostspace.New()
	reg := registry.New()
	reg.RegisterExecuteCode(`error("nope")`)

	h := newHook(t, space, reg, WithFailMode(FailClosed))
	factory := h.WrapFactory(func(_ context.Context, name string) (*compartment.Compartment, error) {
		return compartment.New(name)
	})

	_, err := factory(context.Background(), "trusted/main")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInjectionFailed)
}

func Test_WrapFactory_PatternGlob(t *testing.T) {
	space := hostspace.New()
	reg := registry.New()
	reg.RegisterExecuteCode(`marked = true`)

	h := newHook(t, space, reg, WithIdentityPattern("plua/**"))
	factory := h.WrapFactory(func(_ context.Context, name string) (*compartment.Compartment, error) {
		return compartment.New(name)
	})
	ctx := context.Background()

	tests := []struct {
		name     string
		injected bool
	}{
		{"plua/backend/1", true},
		{"plua/backend/2", true},
		{"sql/backend", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := factory(ctx, tt.name)
			require.NoError(t, err)
			t.Cleanup(c.Close)
			assert.Equal(t, tt.injected, c.Injected())
		})
	}
}
