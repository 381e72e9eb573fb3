package modules

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/tinysse/tinysse/script"
)

// Sleep installs the global sleep(ms) primitive: an awaitable timed
// suspension that yields ("sleep", ms) to the engine's scheduling lane
// rather than blocking it. The lane-level mechanics live in
// script/async.go's runSleep; this just exposes the Lua-facing call.
type Sleep struct{}

func (Sleep) Install(e *script.Engine) error {
	e.L.SetGlobal("sleep", e.L.NewFunction(func(L *lua.LState) int {
		ms := L.CheckNumber(1)
		return L.Yield(lua.LString("sleep"), ms)
	}))
	return nil
}
