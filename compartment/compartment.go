// Package compartment wraps a Lua state into a sandboxed execution context
// governed by an operation whitelist. Only the base, table, string and math
// libraries are opened; every governed global is captured pristine at
// construction and re-materialized or nil'd whenever the whitelist is
// applied.
package compartment

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/crucible-dev/crucible/hostspace"
	"github.com/crucible-dev/crucible/policy"
)

// Compartment is a sandboxed Lua execution context. It is not safe for
// concurrent use; injection and evaluation are single-threaded by contract.
type Compartment struct {
	name      string
	state     *lua.LState
	whitelist *policy.Whitelist
	pristine  map[policy.Tag]lua.LValue
	aliases   map[string]struct{}
	injected  bool
}

// Option configures a Compartment.
type Option func(*config)

type config struct {
	tags []policy.Tag
}

// WithWhitelist sets the initial operation whitelist tags. Defaults to
// policy.DefaultTags.
func WithWhitelist(tags ...policy.Tag) Option {
	return func(c *config) { c.tags = tags }
}

// New creates a compartment with the given identity name. The whitelist is
// enforced immediately: globals outside it are already nil before any code
// runs.
func New(name string, opts ...Option) (*Compartment, error) {
	cfg := config{tags: policy.DefaultTags}
	for _, opt := range opts {
		opt(&cfg)
	}

	state := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(state)
	lua.OpenTable(state)
	lua.OpenString(state)
	lua.OpenMath(state)

	c := &Compartment{
		name:      name,
		state:     state,
		whitelist: policy.New(cfg.tags...),
		pristine:  make(map[policy.Tag]lua.LValue),
		aliases:   make(map[string]struct{}),
	}

	// Capture the pristine value of every governed global before the first
	// enforcement pass removes the forbidden ones.
	for _, tag := range policy.Catalog() {
		c.pristine[tag] = c.getPath(string(tag))
	}
	c.ApplyWhitelist()

	return c, nil
}

// Name returns the compartment's identity, matched by the injection hook.
func (c *Compartment) Name() string {
	return c.name
}

// Whitelist returns the compartment's operation whitelist. Callers that
// mutate it must call ApplyWhitelist to enforce the change.
func (c *Compartment) Whitelist() *policy.Whitelist {
	return c.whitelist
}

// ApplyWhitelist syncs the Lua globals with the whitelist: permitted
// operations get their pristine value back, forbidden ones become nil.
func (c *Compartment) ApplyWhitelist() {
	for _, tag := range policy.Catalog() {
		if c.whitelist.Permits(tag) {
			c.setPath(string(tag), c.pristine[tag])
			continue
		}
		c.setPath(string(tag), lua.LNil)
	}
}

// MarkInjected flips the one-way injected flag. It returns false when the
// compartment was already injected; the transition happens at most once
// per instance.
func (c *Compartment) MarkInjected() bool {
	if c.injected {
		return false
	}
	c.injected = true
	return true
}

// Injected reports whether injection has begun for this compartment.
func (c *Compartment) Injected() bool {
	return c.injected
}

// Bind aliases a host binding into the compartment namespace. Qualified
// names ("digest.md5hex") create intermediate tables as needed. Callables
// (hostspace.Func) are bridged as Lua functions; other values convert
// directly.
func (c *Compartment) Bind(name string, v any) error {
	var lv lua.LValue
	if fn, ok := v.(hostspace.Func); ok {
		lv = c.bridge(name, fn)
	} else {
		lv = goToLua(c.state, v)
	}
	if err := c.setPathChecked(name, lv); err != nil {
		return err
	}
	c.aliases[name] = struct{}{}
	return nil
}

// Unbind removes a previously bound alias from the namespace.
func (c *Compartment) Unbind(name string) {
	c.setPath(name, lua.LNil)
	delete(c.aliases, name)
}

// Bound reports whether an alias is currently bound.
func (c *Compartment) Bound(name string) bool {
	_, ok := c.aliases[name]
	return ok
}

// Eval compiles and runs a code fragment inside the compartment, returning
// its results as Go values. The Lua stack is restored on both paths.
func (c *Compartment) Eval(code string) ([]any, error) {
	base := c.state.GetTop()
	fn, err := c.state.LoadString(code)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	c.state.Push(fn)
	if err := c.state.PCall(0, lua.MultRet, nil); err != nil {
		c.state.SetTop(base)
		return nil, err
	}

	top := c.state.GetTop()
	var out []any
	for i := base + 1; i <= top; i++ {
		out = append(out, luaToGo(c.state.Get(i)))
	}
	c.state.SetTop(base)
	return out, nil
}

// Close releases the underlying Lua state.
func (c *Compartment) Close() {
	c.state.Close()
}

// bridge wraps a host callable as a Lua function converting values at the
// boundary. Host errors surface as Lua errors under the alias name.
func (c *Compartment) bridge(name string, fn hostspace.Func) *lua.LFunction {
	return c.state.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		args := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			args = append(args, luaToGo(L.Get(i)))
		}
		out, err := fn(args...)
		if err != nil {
			L.RaiseError("%s: %v", name, err)
			return 0
		}
		if out == nil {
			return 0
		}
		L.Push(goToLua(L, out))
		return 1
	})
}

func (c *Compartment) getPath(path string) lua.LValue {
	parts := strings.Split(path, ".")
	cur := c.state.GetGlobal(parts[0])
	for _, part := range parts[1:] {
		if _, ok := cur.(*lua.LTable); !ok {
			return lua.LNil
		}
		cur = c.state.GetField(cur, part)
	}
	return cur
}

// setPath writes a value at a dotted path, silently skipping paths whose
// containing table is absent.
func (c *Compartment) setPath(path string, v lua.LValue) {
	_ = c.setPathChecked(path, v)
}

func (c *Compartment) setPathChecked(path string, v lua.LValue) error {
	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		c.state.SetGlobal(path, v)
		return nil
	}

	cur := c.state.GetGlobal(parts[0])
	if cur == lua.LNil {
		tbl := c.state.NewTable()
		c.state.SetGlobal(parts[0], tbl)
		cur = tbl
	}
	for _, part := range parts[1 : len(parts)-1] {
		tbl, ok := cur.(*lua.LTable)
		if !ok {
			return fmt.Errorf("bind %s: %q is not a table", path, part)
		}
		next := c.state.GetField(tbl, part)
		if next == lua.LNil {
			nt := c.state.NewTable()
			c.state.SetField(tbl, part, nt)
			next = nt
		}
		cur = next
	}
	tbl, ok := cur.(*lua.LTable)
	if !ok {
		return fmt.Errorf("bind %s: target is not a table", path)
	}
	c.state.SetField(tbl, parts[len(parts)-1], v)
	return nil
}
