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

func newTestCompartment(t *testing.T, name string) *compartment.Compartment {
	t.Helper()
	c, err := compartment.New(name)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func incrFunc() hostspace.Func {
	return func(args ...any) (any, error) {
		return args[0].(float64) + 1, nil
	}
}

type fakeNativeLoader struct {
	exports map[string]hostspace.Func
}

func (f *fakeNativeLoader) Load(_ context.Context, _ []byte) (map[string]hostspace.Func, error) {
	return f.exports, nil
}

func Test_ApplyAll_SharesBeforeCode(t *testing.T) {
	space := hostspace.New()
	space.BindFunc("foo", incrFunc())

	// The code fragment calls foo even though the share is registered
	// after it; naming actions always apply first.
	reg := registry.New()
	reg.RegisterExecuteCode(`result = foo(41)`)
	reg.RegisterShare("foo")

	c := newTestCompartment(t, "trusted/main")
	inj := NewInjector(space)
	require.NoError(t, inj.ApplyAll(context.Background(), c, reg.Actions()))

	out, err := c.Eval(`return result`)
	require.NoError(t, err)
	assert.Equal(t, []any{42.0}, out)
}

func Test_ApplyAll_UnresolvedNameIsSkipped(t *testing.T) {
	space := hostspace.New()
	space.BindFunc("good", incrFunc())

	reg := registry.New()
	reg.RegisterShare("missing", "good")

	c := newTestCompartment(t, "trusted/main")
	require.NoError(t, NewInjector(space).ApplyAll(context.Background(), c, reg.Actions()))

	out, err := c.Eval(`return missing == nil, good(1)`)
	require.NoError(t, err)
	assert.Equal(t, []any{true, 2.0}, out)
}

func Test_ApplyAll_UnresolvedModuleIsSkipped(t *testing.T) {
	space := hostspace.New()
	space.BindFunc("good", incrFunc())

	reg := registry.New()
	reg.RegisterShareFromModule("absent", "whatever")
	reg.RegisterLoadModule("also-absent")
	reg.RegisterShare("good")

	c := newTestCompartment(t, "trusted/main")
	require.NoError(t, NewInjector(space).ApplyAll(context.Background(), c, reg.Actions()))

	out, err := c.Eval(`return good(1)`)
	require.NoError(t, err)
	assert.Equal(t, []any{2.0}, out)
}

func Test_ApplyAll_ValueShares(t *testing.T) {
	// Comparator bind variables invisible inside the compartment unless
	// explicitly shared; plain value shares, no separate mechanism.
	space := hostspace.New()
	space.BindValue("cmp.a", 3.0)
	space.BindValue("cmp.b", 7.0)

	reg := registry.New()
	reg.RegisterShare("cmp.a", "cmp.b")
	reg.RegisterExecuteCode(`cmp.max = (cmp.a > cmp.b) and cmp.a or cmp.b`)

	c := newTestCompartment(t, "trusted/main")
	require.NoError(t, NewInjector(space).ApplyAll(context.Background(), c, reg.Actions()))

	out, err := c.Eval(`return cmp.max`)
	require.NoError(t, err)
	assert.Equal(t, []any{7.0}, out)
}

func Test_ApplyAll_ExecuteCode_ExtraOps(t *testing.T) {
	space := hostspace.New()
	reg := registry.New()
	reg.RegisterExecuteCode(`compiled = loadstring("return 6*7")()`, registry.WithNestedLoad())

	c := newTestCompartment(t, "trusted/main")
	require.NoError(t, NewInjector(space).ApplyAll(context.Background(), c, reg.Actions()))

	out, err := c.Eval(`return compiled, loadstring == nil`)
	require.NoError(t, err)
	assert.Equal(t, []any{42.0, true}, out, "loadstring must be gone again after injection")
}

func Test_ApplyAll_FailedFragment_RestoresWhitelist(t *testing.T) {
	space := hostspace.New()
	reg := registry.New()
	reg.RegisterExecuteCode(`error("setup exploded")`, registry.WithNestedLoad())

	c := newTestCompartment(t, "trusted/main")
	before := c.Whitelist().Tags()

	err := NewInjector(space).ApplyAll(context.Background(), c, reg.Actions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRelaxedExecution)

	var ree *RelaxedExecutionError
	require.ErrorAs(t, err, &ree)
	assert.Contains(t, ree.Fragment, "setup exploded")

	assert.Equal(t, before, c.Whitelist().Tags(), "whitelist must equal its pre-action state")
	out, evalErr := c.Eval(`return loadstring == nil`)
	require.NoError(t, evalErr)
	assert.Equal(t, []any{true}, out)
}

func Test_ApplyAll_FailureAbortsRemainingActions(t *testing.T) {
	space := hostspace.New()
	reg := registry.New()
	reg.RegisterExecuteCode(`error("first")`)
	reg.RegisterExecuteCode(`after = true`)

	c := newTestCompartment(t, "trusted/main")
	require.Error(t, NewInjector(space).ApplyAll(context.Background(), c, reg.Actions()))

	out, err := c.Eval(`return after == nil`)
	require.NoError(t, err)
	assert.Equal(t, []any{true}, out)
}

func Test_ApplyAll_LoadModule_SourceAndImports(t *testing.T) {
	space := hostspace.New()
	require.NoError(t, space.RegisterModule(&hostspace.Module{
		ID:      "strutil",
		Version: "1.0.0",
		Exports: map[string]hostspace.Func{
			"upper": func(args ...any) (any, error) {
				return args[0].(string), nil
			},
		},
		Source: `strutil_ready = true`,
	}))

	reg := registry.New()
	reg.RegisterLoadModule("strutil", registry.WithImports("upper", "missing"))

	c := newTestCompartment(t, "trusted/main")
	require.NoError(t, NewInjector(space).ApplyAll(context.Background(), c, reg.Actions()))

	out, err := c.Eval(`return strutil_ready, strutil.upper("x"), strutil.missing == nil`)
	require.NoError(t, err)
	assert.Equal(t, []any{true, "x", true}, out)
}

func Test_ApplyAll_LoadModule_SourceFailurePropagates(t *testing.T) {
	space := hostspace.New()
	require.NoError(t, space.RegisterModule(&hostspace.Module{
		ID:      "broken",
		Version: "1.0.0",
		Source:  `error("shim failed")`,
	}))

	reg := registry.New()
	reg.RegisterLoadModule("broken")

	c := newTestCompartment(t, "trusted/main")
	before := c.Whitelist().Tags()

	err := NewInjector(space).ApplyAll(context.Background(), c, reg.Actions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRelaxedExecution)
	assert.Equal(t, before, c.Whitelist().Tags())
}

func Test_ApplyAll_NativeModule_OneShotLoader(t *testing.T) {
	loader := &fakeNativeLoader{exports: map[string]hostspace.Func{
		"crc32": func(args ...any) (any, error) { return "cbf43926", nil },
	}}
	space := hostspace.New(hostspace.WithNativeLoader(loader))
	require.NoError(t, space.RegisterModule(&hostspace.Module{
		ID:      "checksum",
		Version: "1.0.0",
		Binary:  []byte{0x00, 0x61, 0x73, 0x6d},
		Source:  `__nativeload("crc32")`,
	}))

	reg := registry.New()
	reg.RegisterLoadModule("checksum")

	c := newTestCompartment(t, "trusted/main")
	require.NoError(t, NewInjector(space).ApplyAll(context.Background(), c, reg.Actions()))

	// The export made it in; the loader capability did not outlive the shim.
	assert.False(t, c.Bound(NativeLoaderAlias))
	out, err := c.Eval(`return checksum.crc32("data"), __nativeload == nil`)
	require.NoError(t, err)
	assert.Equal(t, []any{"cbf43926", true}, out)
}

func Test_ApplyAll_NativeModule_LoaderRevokedOnFailure(t *testing.T) {
	loader := &fakeNativeLoader{exports: map[string]hostspace.Func{}}
	space := hostspace.New(hostspace.WithNativeLoader(loader))
	require.NoError(t, space.RegisterModule(&hostspace.Module{
		ID:      "checksum",
		Version: "1.0.0",
		Binary:  []byte{0x00},
		Source:  `__nativeload("does-not-exist")`,
	}))

	reg := registry.New()
	reg.RegisterLoadModule("checksum")

	c := newTestCompartment(t, "trusted/main")
	err := NewInjector(space).ApplyAll(context.Background(), c, reg.Actions())
	require.Error(t, err)

	assert.False(t, c.Bound(NativeLoaderAlias))
	out, evalErr := c.Eval(`return __nativeload == nil`)
	require.NoError(t, evalErr)
	assert.Equal(t, []any{true}, out)
}
