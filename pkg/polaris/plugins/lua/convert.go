package lua

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
	"github.com/jholhewres/polaris/pkg/polaris/plugins"
)

const maxDepth = 32

// toLua converts a decoded JSON-like Go value into a Lua value.
func toLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case float64:
		return lua.LNumber(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case []any:
		t := L.NewTable()
		for _, e := range x {
			t.Append(toLua(L, e))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, e := range x {
			t.RawSetString(k, toLua(L, e))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

// fromLua converts a Lua value into a JSON-friendly Go value. Tables with
// only consecutive integer keys starting at 1 become slices.
func fromLua(v lua.LValue) (any, error) {
	return fromLuaDepth(v, 0)
}

func fromLuaDepth(v lua.LValue, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("table nesting exceeds %d levels", maxDepth)
	}
	switch x := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(x), nil
	case lua.LString:
		return string(x), nil
	case lua.LNumber:
		return float64(x), nil
	case *lua.LTable:
		if n := x.Len(); n > 0 && countKeys(x) == n {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				e, err := fromLuaDepth(x.RawGetInt(i), depth+1)
				if err != nil {
					return nil, err
				}
				out = append(out, e)
			}
			return out, nil
		}
		out := make(map[string]any)
		var ferr error
		x.ForEach(func(k, e lua.LValue) {
			if ferr != nil {
				return
			}
			val, err := fromLuaDepth(e, depth+1)
			if err != nil {
				ferr = err
				return
			}
			out[k.String()] = val
		})
		return out, ferr
	default:
		return nil, fmt.Errorf("cannot convert lua %s", v.Type())
	}
}

func countKeys(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}

func userTable(L *lua.LState, u channels.User) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("id", lua.LString(u.ID))
	t.RawSetString("first_name", lua.LString(u.FirstName))
	t.RawSetString("last_name", lua.LString(u.LastName))
	t.RawSetString("username", lua.LString(u.Username))
	return t
}

// messageTable exposes a message to scripts. The replied-to message is
// included one level deep.
func messageTable(L *lua.LState, msg *channels.Message, withReply bool) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("id", lua.LString(msg.ID))
	t.RawSetString("content", lua.LString(msg.Content))
	t.RawSetString("input", lua.LString(plugins.Input(msg.Content)))
	t.RawSetString("type", lua.LString(string(msg.Type)))
	t.RawSetString("date", lua.LNumber(msg.Date.Unix()))

	conv := L.NewTable()
	conv.RawSetString("id", lua.LString(msg.Conversation.ID))
	conv.RawSetString("title", lua.LString(msg.Conversation.Title))
	conv.RawSetString("is_group", lua.LBool(msg.Conversation.IsGroup()))
	t.RawSetString("conversation", conv)
	t.RawSetString("sender", userTable(L, msg.Sender))

	if withReply && msg.Reply != nil {
		t.RawSetString("reply", messageTable(L, msg.Reply, false))
	}
	return t
}

func matchTable(L *lua.LState, m plugins.Match) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("pattern", lua.LString(m.Command.Pattern))
	groups := L.NewTable()
	for _, g := range m.Groups {
		groups.Append(lua.LString(g))
	}
	t.RawSetString("groups", groups)
	return t
}

// readCommands parses the global commands table. Entries are either a
// pattern string or a table with pattern, description, hidden and
// parameters fields.
func readCommands(v lua.LValue) ([]plugins.Command, error) {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		if v == lua.LNil {
			return nil, nil
		}
		return nil, fmt.Errorf("commands must be a table, got %s", v.Type())
	}

	var cmds []plugins.Command
	for i := 1; i <= tbl.Len(); i++ {
		switch e := tbl.RawGetInt(i).(type) {
		case lua.LString:
			cmds = append(cmds, plugins.Command{Pattern: string(e)})
		case *lua.LTable:
			cmd := plugins.Command{
				Pattern:     lua.LVAsString(e.RawGetString("pattern")),
				Description: lua.LVAsString(e.RawGetString("description")),
				Hidden:      lua.LVAsBool(e.RawGetString("hidden")),
			}
			if cmd.Pattern == "" {
				return nil, fmt.Errorf("commands[%d]: missing pattern", i)
			}
			if params, ok := e.RawGetString("parameters").(*lua.LTable); ok {
				cmd.Parameters = readParameters(params)
			}
			cmds = append(cmds, cmd)
		default:
			return nil, fmt.Errorf("commands[%d]: unexpected %s", i, e.Type())
		}
	}
	return cmds, nil
}

func readParameters(tbl *lua.LTable) []plugins.Parameter {
	var params []plugins.Parameter
	for i := 1; i <= tbl.Len(); i++ {
		switch p := tbl.RawGetInt(i).(type) {
		case lua.LString:
			params = append(params, plugins.Parameter{Name: string(p), Required: true})
		case *lua.LTable:
			params = append(params, plugins.Parameter{
				Name:     lua.LVAsString(p.RawGetString("name")),
				Required: lua.LVAsBool(p.RawGetString("required")),
			})
		}
	}
	return params
}
