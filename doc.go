// Package crucible injects pre-registered capabilities into sandboxed Lua
// compartments at construction time.
//
// A compartment forbids untrusted code from calling host functions or
// loading modules. Trusted operator code registers a curated set of
// capabilities (host bindings, versioned modules, setup fragments) in a
// Registry before any compartment exists; the injection Hook then applies
// them exactly once to every compartment whose name matches the identity
// pattern, temporarily relaxing the compartment's operation whitelist
// while setup code runs and restoring it before control returns.
//
// Typical wiring:
//
//	space := hostspace.New()
//	space.BindFunc("foo", fooFn)
//
//	reg := registry.New()
//	reg.RegisterShare("foo")
//	reg.RegisterExecuteCode(`helper = function(x) return foo(x) end`)
//
//	hook, err := crucible.NewHook(reg, crucible.NewInjector(space))
//	...
//	newCompartment := hook.WrapFactory(
//		func(ctx context.Context, name string) (*compartment.Compartment, error) {
//			return compartment.New(name)
//		})
//
// Registration must finish before the first compartment is constructed;
// the registry is never cleared and applies to every subsequent instance.
package crucible
