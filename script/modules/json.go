package modules

import (
	"encoding/json"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/tinysse/tinysse/script"
)

// JSON installs the json module: encode/decode, the null sentinel, an
// array() marker forcing empty-sequence encoding, and print/pprint debug
// helpers.
type JSON struct{}

// jsonArrayMarker is the sentinel userdata payload behind json.array(): a
// Lua table wrapped with this tag always encodes as a JSON array, even when
// empty, distinguishing it from an empty object.
type jsonArrayMarker struct{ tbl *lua.LTable }

// jsonNullMarker is the sentinel value returned by json.null, distinct from
// Lua nil so it survives being stored in a table (nil would just delete the
// key).
type jsonNullMarker struct{}

func (JSON) Install(e *script.Engine) error {
	tbl := e.L.NewTable()
	tbl.RawSetString("encode", e.L.NewFunction(jsonEncode))
	tbl.RawSetString("decode", e.L.NewFunction(jsonDecode))
	tbl.RawSetString("array", e.L.NewFunction(jsonArray))
	tbl.RawSetString("print", e.L.NewFunction(jsonPrint))
	tbl.RawSetString("pprint", e.L.NewFunction(jsonPPrint))

	nullUD := e.L.NewUserData()
	nullUD.Value = jsonNullMarker{}
	tbl.RawSetString("null", nullUD)

	e.L.SetGlobal("json", tbl)
	return nil
}

func jsonArray(L *lua.LState) int {
	t := L.OptTable(1, L.NewTable())
	ud := L.NewUserData()
	ud.Value = jsonArrayMarker{tbl: t}
	L.Push(ud)
	return 1
}

func jsonEncode(L *lua.LState) int {
	v := L.CheckAny(1)
	out, err := marshalLua(v)
	if err != nil {
		L.RaiseError("json.encode: %v", err)
		return 0
	}
	b, err := json.Marshal(out)
	if err != nil {
		L.RaiseError("json.encode: %v", err)
		return 0
	}
	L.Push(lua.LString(b))
	return 1
}

func jsonPrint(L *lua.LState) int {
	v := L.CheckAny(1)
	out, err := marshalLua(v)
	if err != nil {
		L.RaiseError("json.print: %v", err)
		return 0
	}
	b, _ := json.Marshal(out)
	fmt.Println(string(b))
	return 0
}

func jsonPPrint(L *lua.LState) int {
	v := L.CheckAny(1)
	out, err := marshalLua(v)
	if err != nil {
		L.RaiseError("json.pprint: %v", err)
		return 0
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
	return 0
}

func marshalLua(v lua.LValue) (any, error) {
	switch v := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LNumber:
		return float64(v), nil
	case lua.LString:
		return string(v), nil
	case *lua.LUserData:
		switch payload := v.Value.(type) {
		case jsonNullMarker:
			return nil, nil
		case jsonArrayMarker:
			return marshalArrayTable(payload.tbl)
		}
		return nil, fmt.Errorf("cannot encode userdata")
	case *lua.LTable:
		if v.Len() > 0 {
			return marshalArrayTable(v)
		}
		m := map[string]any{}
		var err error
		v.ForEach(func(k, val lua.LValue) {
			out, e := marshalLua(val)
			if e != nil {
				err = e
				return
			}
			m[k.String()] = out
		})
		return m, err
	default:
		return nil, fmt.Errorf("cannot encode %s", v.Type().String())
	}
}

func marshalArrayTable(t *lua.LTable) (any, error) {
	n := t.Len()
	arr := make([]any, n)
	for i := 1; i <= n; i++ {
		out, err := marshalLua(t.RawGetInt(i))
		if err != nil {
			return nil, err
		}
		arr[i-1] = out
	}
	return arr, nil
}

func jsonDecode(L *lua.LState) int {
	s := L.CheckString(1)
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		L.RaiseError("json.decode: %v", err)
		return 0
	}
	L.Push(unmarshalToLua(L, v))
	return 1
}

func unmarshalToLua(L *lua.LState, v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case float64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []any:
		tbl := L.NewTable()
		for i, item := range v {
			tbl.RawSetInt(i+1, unmarshalToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range v {
			tbl.RawSetString(k, unmarshalToLua(L, item))
		}
		return tbl
	default:
		return lua.LNil
	}
}
