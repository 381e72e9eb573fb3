// Package modules implements the host API surface installed into every
// script.Engine: uuid, json, base64, url, log, http, sqlite, sleep, mutex,
// fernet and template. uuid, http, sqlite, fernet and template are wired to
// third-party Go libraries; json, base64, url and log use the standard
// library; sleep and mutex are built on the engine's yield/resume ops.
package modules

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/google/uuid"

	"github.com/tinysse/tinysse/script"
)

// UUID installs the uuid module: v4() and v7() generators, with the module
// table itself callable as a v4() shorthand (`uuid()` reads like `uuid.v4()`).
type UUID struct{}

func (UUID) Install(e *script.Engine) error {
	tbl := e.L.NewTable()
	tbl.RawSetString("v4", e.L.NewFunction(uuidV4))
	tbl.RawSetString("v7", e.L.NewFunction(uuidV7))

	mt := e.L.NewTable()
	mt.RawSetString("__call", e.L.NewFunction(func(L *lua.LState) int {
		L.Remove(1) // drop the table itself from the call args
		return uuidV4(L)
	}))
	e.L.SetMetatable(tbl, mt)

	e.L.SetGlobal("uuid", tbl)
	return nil
}

func uuidV4(L *lua.LState) int {
	L.Push(lua.LString(uuid.New().String()))
	return 1
}

func uuidV7(L *lua.LState) int {
	id, err := uuid.NewV7()
	if err != nil {
		L.RaiseError("uuid.v7: %v", err)
		return 0
	}
	L.Push(lua.LString(id.String()))
	return 1
}
