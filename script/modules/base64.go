package modules

import (
	"encoding/base64"

	lua "github.com/yuin/gopher-lua"

	"github.com/tinysse/tinysse/script"
)

// Base64 installs the base64 module: standard and URL-safe alphabets, with
// the module callable as an encode() shorthand.
type Base64 struct{}

func (Base64) Install(e *script.Engine) error {
	tbl := e.L.NewTable()
	tbl.RawSetString("encode", e.L.NewFunction(b64Encode(base64.StdEncoding)))
	tbl.RawSetString("decode", e.L.NewFunction(b64Decode(base64.StdEncoding)))
	tbl.RawSetString("urlsafe_encode", e.L.NewFunction(b64Encode(base64.URLEncoding)))
	tbl.RawSetString("urlsafe_decode", e.L.NewFunction(b64Decode(base64.URLEncoding)))

	mt := e.L.NewTable()
	mt.RawSetString("__call", e.L.NewFunction(func(L *lua.LState) int {
		L.Remove(1)
		return b64Encode(base64.StdEncoding)(L)
	}))
	e.L.SetMetatable(tbl, mt)

	e.L.SetGlobal("base64", tbl)
	return nil
}

func b64Encode(enc *base64.Encoding) lua.LGFunction {
	return func(L *lua.LState) int {
		s := L.CheckString(1)
		L.Push(lua.LString(enc.EncodeToString([]byte(s))))
		return 1
	}
}

func b64Decode(enc *base64.Encoding) lua.LGFunction {
	return func(L *lua.LState) int {
		s := L.CheckString(1)
		out, err := enc.DecodeString(s)
		if err != nil {
			L.RaiseError("base64.decode: %v", err)
			return 0
		}
		L.Push(lua.LString(out))
		return 1
	}
}
