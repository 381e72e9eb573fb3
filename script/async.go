package script

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// runSleep backs the sleep(ms) primitive: it yields ("sleep", ms) and is
// resumed once the timer fires, so the lane is free for other hooks in the
// meantime.
func (e *Engine) runSleep(ctx context.Context, args []lua.LValue) ([]lua.LValue, error) {
	ms := int64(0)
	if len(args) > 0 {
		if n, ok := args[0].(lua.LNumber); ok {
			ms = int64(n)
		}
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runMutexLock backs the acquire half of the mutex() primitive: it yields
// ("mutex_lock", handle), blocks off-lane until the named semaphore channel
// can be sent to, then resumes the coroutine so the Lua-side prelude can run
// the protected function and release afterward.
func (e *Engine) runMutexLock(ctx context.Context, args []lua.LValue) ([]lua.LValue, error) {
	if len(args) == 0 {
		return nil, nil
	}
	handle, ok := args[0].(lua.LNumber)
	if !ok {
		return nil, nil
	}

	e.mu.Lock()
	ch, ok := e.mutexes[int(handle)]
	e.mu.Unlock()
	if !ok {
		return nil, nil
	}

	select {
	case ch <- struct{}{}:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewMutexHandle allocates a fresh binary-semaphore channel and returns its
// handle id, used by the mutex module's factory function.
func (e *Engine) NewMutexHandle() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextLock++
	id := e.nextLock
	e.mutexes[id] = make(chan struct{}, 1)
	return id
}

// ReleaseMutex drains one token from the named semaphore, unblocking the
// next runMutexLock waiting to send. Called synchronously (never yields):
// releasing a lock never has to wait.
func (e *Engine) ReleaseMutex(handle int) {
	e.mu.Lock()
	ch, ok := e.mutexes[handle]
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-ch:
	default:
	}
}
