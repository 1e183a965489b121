package compartment

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// luaToGo converts a Lua value to its Go counterpart. Tables with a
// contiguous integer prefix become slices, other tables become maps.
// Unconvertible values (functions, userdata) pass through as lua.LValue.
func luaToGo(lv lua.LValue) any {
	switch v := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		maxn := v.MaxN()
		if maxn == 0 {
			m := make(map[string]any)
			v.ForEach(func(k, val lua.LValue) {
				m[fmt.Sprint(luaToGo(k))] = luaToGo(val)
			})
			return m
		}
		arr := make([]any, 0, maxn)
		for i := 1; i <= maxn; i++ {
			arr = append(arr, luaToGo(v.RawGetInt(i)))
		}
		return arr
	default:
		return v
	}
}

// goToLua converts a Go value to a Lua value. Unknown types are rendered
// as strings rather than rejected; host bindings own their value shapes.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, goToLua(L, item))
		}
		return tbl
	case lua.LValue:
		return val
	default:
		return lua.LString(fmt.Sprint(val))
	}
}
