package script

import (
	"sort"

	lua "github.com/yuin/gopher-lua"

	tinysse "github.com/tinysse/tinysse"
)

// ToLua converts a host Value into the Lua value a script sees.
func ToLua(L *lua.LState, v tinysse.Value) lua.LValue {
	switch v.Kind {
	case tinysse.KindNull:
		return lua.LNil
	case tinysse.KindBool:
		return lua.LBool(v.Bool)
	case tinysse.KindInt:
		return lua.LNumber(v.Int)
	case tinysse.KindFloat:
		return lua.LNumber(v.Float)
	case tinysse.KindString:
		return lua.LString(v.Str)
	case tinysse.KindBytes:
		return lua.LString(string(v.Bytes))
	case tinysse.KindSeq:
		tbl := L.NewTable()
		for i, item := range v.Seq {
			tbl.RawSetInt(i+1, ToLua(L, item))
		}
		return tbl
	case tinysse.KindMap:
		tbl := L.NewTable()
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			tbl.RawSetString(k, ToLua(L, v.Map[k]))
		}
		return tbl
	case tinysse.KindForeign:
		ud := L.NewUserData()
		ud.Value = v.Foreign
		return ud
	default:
		return lua.LNil
	}
}

// FromLua converts a Lua value produced by a script back into a host Value.
// Tables are treated as sequences when they have a contiguous 1..n integer
// key run with no other keys, and as maps otherwise.
func FromLua(lv lua.LValue) tinysse.Value {
	switch v := lv.(type) {
	case *lua.LNilType:
		return tinysse.Null
	case lua.LBool:
		return tinysse.BoolValue(bool(v))
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return tinysse.IntValue(int64(f))
		}
		return tinysse.FloatValue(f)
	case lua.LString:
		return tinysse.StringValue(string(v))
	case *lua.LTable:
		return tableToValue(v)
	case *lua.LUserData:
		return tinysse.ForeignValue(v.Value)
	default:
		return tinysse.StringValue(lv.String())
	}
}

func tableToValue(t *lua.LTable) tinysse.Value {
	n := t.Len()
	isSeq := n > 0
	extra := false
	t.ForEach(func(k, _ lua.LValue) {
		if num, ok := k.(lua.LNumber); ok {
			if int(num) < 1 || int(num) > n || float64(int(num)) != float64(num) {
				extra = true
			}
			return
		}
		extra = true
	})
	if isSeq && !extra {
		seq := make([]tinysse.Value, 0, n)
		for i := 1; i <= n; i++ {
			seq = append(seq, FromLua(t.RawGetInt(i)))
		}
		return tinysse.SeqValue(seq)
	}

	m := make(map[string]tinysse.Value)
	t.ForEach(func(k, val lua.LValue) {
		m[lua.LVAsString(k)] = FromLua(val)
	})
	return tinysse.MapValue(m)
}

// MessageToLuaTable renders a Message as the table shape scripts receive in
// publish/message/catchup hooks: {id=, event=, data=, comment={...}}.
func MessageToLuaTable(L *lua.LState, m tinysse.Message) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("id", lua.LString(m.Id))
	tbl.RawSetString("event", lua.LString(m.Event))
	tbl.RawSetString("data", lua.LString(m.Data))
	comments := L.NewTable()
	for i, c := range m.Comment {
		comments.RawSetInt(i+1, lua.LString(c))
	}
	tbl.RawSetString("comment", comments)
	return tbl
}

// LuaTableToMessage is the inverse of MessageToLuaTable, used when a hook
// returns a (possibly mutated) message table.
func LuaTableToMessage(tbl *lua.LTable) tinysse.Message {
	m := tinysse.Message{
		Id:    lua.LVAsString(tbl.RawGetString("id")),
		Event: lua.LVAsString(tbl.RawGetString("event")),
		Data:  lua.LVAsString(tbl.RawGetString("data")),
	}
	if ct, ok := tbl.RawGetString("comment").(*lua.LTable); ok {
		n := ct.Len()
		for i := 1; i <= n; i++ {
			m.Comment = append(m.Comment, lua.LVAsString(ct.RawGetInt(i)))
		}
	}
	return m
}
