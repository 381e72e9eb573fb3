package modules

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/tinysse/tinysse/script"
)

// mutexPrelude is loaded once per engine to give scripts an ergonomic
// mutex(): calling the returned value with a function acquires the lock,
// runs the function, and always releases it (even on error), matching
// "invoking it with a function runs that function under exclusive
// ownership of the lock. Recursive acquisition deadlocks by design."
//
// The lock/unlock primitives are Go host functions (__mutex_new,
// __mutex_acquire, __mutex_release); the acquire-then-call-then-release
// sequencing has to live in Lua because a suspended host function can't be
// re-entered after it yields — only the Lua bytecode that called it
// resumes. See script/engine.go's Call for the mechanics.
const mutexPrelude = `
function mutex()
  local handle = __mutex_new()
  return function(fn)
    __mutex_acquire(handle)
    local ok, result = pcall(fn)
    __mutex_release(handle)
    if not ok then
      error(result, 0)
    end
    return result
  end
end
`

// Mutex installs the mutex() factory.
type Mutex struct{}

func (Mutex) Install(e *script.Engine) error {
	e.L.SetGlobal("__mutex_new", e.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(e.NewMutexHandle()))
		return 1
	}))
	e.L.SetGlobal("__mutex_acquire", e.L.NewFunction(func(L *lua.LState) int {
		handle := L.CheckNumber(1)
		return L.Yield(lua.LString("mutex_lock"), handle)
	}))
	e.L.SetGlobal("__mutex_release", e.L.NewFunction(func(L *lua.LState) int {
		handle := int(L.CheckNumber(1))
		e.ReleaseMutex(handle)
		return 0
	}))

	return e.LoadString(mutexPrelude)
}
