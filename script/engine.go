// Package script owns the Lua scripting runtime that backs the hook
// pipeline: a single mutable interpreter state, serialized through one
// scheduling lane, with host primitives (sleep, mutex, http) implemented as
// Lua coroutines that yield back to a Go-driven event loop at every
// suspension point.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// AsyncOp is a host operation a coroutine yields to request: it runs off
// the scripting lane (so other hooks may interleave) and resumes the
// coroutine with its result once done.
type AsyncOp interface {
	// Run executes the operation and returns the values to resume the
	// coroutine with, or an error to raise inside the script.
	Run(ctx context.Context, args []lua.LValue) ([]lua.LValue, error)
}

// AsyncOpFunc adapts a function to AsyncOp.
type AsyncOpFunc func(ctx context.Context, args []lua.LValue) ([]lua.LValue, error)

func (f AsyncOpFunc) Run(ctx context.Context, args []lua.LValue) ([]lua.LValue, error) {
	return f(ctx, args)
}

// Module installs a host API surface into the engine's Lua state when
// Engine.Install runs (registering globals, package.loaded entries, or async ops).
type Module interface {
	Install(e *Engine) error
}

// Engine owns a single *lua.LState and a scheduling lane goroutine that
// exclusively touches it. Every hook invocation, and every step of the
// coroutine driving that invocation, executes on the lane; asynchronous
// primitives run off-lane and resubmit a continuation job once done, so
// the lane is only ever busy running actual Lua bytecode.
type Engine struct {
	L      *lua.LState
	Log    *slog.Logger
	Unsafe bool

	jobs chan func()
	done chan struct{}

	mu       sync.Mutex
	asyncOps map[string]AsyncOp
	mutexes  map[int]chan struct{}
	nextLock int
}

// New creates an Engine, installs the base Lua libraries (sandboxed unless
// unsafe is true) and starts its scheduling lane.
func New(unsafe bool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibs(L)
	if unsafe {
		openUnsafeLibs(L)
	}

	e := &Engine{
		L:        L,
		Log:      logger,
		Unsafe:   unsafe,
		jobs:     make(chan func()),
		done:     make(chan struct{}),
		asyncOps: make(map[string]AsyncOp),
		mutexes:  make(map[int]chan struct{}),
	}
	e.registerAsync("sleep", AsyncOpFunc(e.runSleep))
	e.registerAsync("mutex_lock", AsyncOpFunc(e.runMutexLock))
	go e.loop()
	return e
}

func openSafeLibs(L *lua.LState) {
	safe := []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	}
	for _, lib := range safe {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
}

func openUnsafeLibs(L *lua.LState) {
	unsafe := []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.OsLibName, lua.OpenOs},
		{lua.IoLibName, lua.OpenIo},
	}
	for _, lib := range unsafe {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
}

// Install runs each module's Install hook. Call this before LoadString.
func (e *Engine) Install(modules ...Module) error {
	for _, m := range modules {
		if err := m.Install(e); err != nil {
			return err
		}
	}
	return nil
}

// LoadString compiles and runs script source in the engine (top-level code,
// used to install the hook functions the pipeline will later call).
func (e *Engine) LoadString(source string) error {
	result := make(chan error, 1)
	e.submit(func() {
		result <- e.L.DoString(source)
	})
	return <-result
}

// Close stops the scheduling lane and closes the underlying Lua state.
func (e *Engine) Close() {
	close(e.done)
	e.L.Close()
}

func (e *Engine) loop() {
	for {
		select {
		case job := <-e.jobs:
			job()
		case <-e.done:
			return
		}
	}
}

// submit enqueues a job to run exclusively on the lane and blocks the
// caller until it has been accepted (not necessarily completed — call
// synchronously from within job() and signal completion yourself if you
// need to wait for the result).
func (e *Engine) submit(job func()) {
	select {
	case e.jobs <- job:
	case <-e.done:
	}
}

func (e *Engine) registerAsync(op string, exec AsyncOp) {
	e.mu.Lock()
	e.asyncOps[op] = exec
	e.mu.Unlock()
}

// RegisterAsync exposes registerAsync to modules outside the package.
func (e *Engine) RegisterAsync(op string, exec AsyncOp) { e.registerAsync(op, exec) }

var errNoSuchHook = errors.New("script: hook not defined")

// HasGlobalFunction reports whether name is bound to a function in the
// engine's globals, without invoking it. Used by the pipeline to fall back
// to default-accept behavior when a hook isn't implemented.
func (e *Engine) HasGlobalFunction(name string) bool {
	result := make(chan bool, 1)
	e.submit(func() {
		_, ok := e.L.GetGlobal(name).(*lua.LFunction)
		result <- ok
	})
	return <-result
}

// callState tracks one in-flight hook invocation across its yield/resume
// steps.
type callState struct {
	engine *Engine
	co     *lua.LState
	cancel func()
	result chan callResult
}

type callResult struct {
	values []lua.LValue
	err    error
}

// Call invokes the global Lua function named fnName with args, driving it
// through as many yield/resume cycles as its body requires. Each step runs
// on the scheduling lane; the async operations a yield requests run off-lane
// so other hooks may interleave while this one is suspended.
func (e *Engine) Call(ctx context.Context, fnName string, args ...lua.LValue) ([]lua.LValue, error) {
	result := make(chan callResult, 1)
	e.submit(func() {
		fn, ok := e.L.GetGlobal(fnName).(*lua.LFunction)
		if !ok {
			result <- callResult{err: errNoSuchHook}
			return
		}
		co, cancel := e.L.NewThread()
		if cancel == nil {
			// NewThread only returns a CancelFunc when the parent state has a context.
			cancel = func() {}
		}
		cs := &callState{engine: e, co: co, cancel: cancel, result: result}
		cs.step(ctx, fn, args, true)
	})

	select {
	case r := <-result:
		return r.values, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// step resumes the coroutine once. first indicates fn should be started
// rather than resumed at its last yield point.
func (cs *callState) step(ctx context.Context, fn *lua.LFunction, args []lua.LValue, first bool) {
	var state lua.ResumeState
	var err error
	var values []lua.LValue

	if first {
		state, err, values = cs.engine.L.Resume(cs.co, fn, args...)
	} else {
		state, err, values = cs.engine.L.Resume(cs.co, nil, args...)
	}

	switch state {
	case lua.ResumeError:
		cs.cancel()
		cs.result <- callResult{err: fmt.Errorf("script: %w", err)}
	case lua.ResumeOK:
		cs.cancel()
		cs.result <- callResult{values: values}
	case lua.ResumeYield:
		cs.handleYield(ctx, values)
	default:
		cs.cancel()
		cs.result <- callResult{err: fmt.Errorf("script: unexpected resume state %v", state)}
	}
}

func (cs *callState) handleYield(ctx context.Context, values []lua.LValue) {
	if len(values) == 0 {
		cs.cancel()
		cs.result <- callResult{err: errors.New("script: yield with no operation tag")}
		return
	}
	opName, ok := values[0].(lua.LString)
	if !ok {
		cs.cancel()
		cs.result <- callResult{err: errors.New("script: yield operation tag must be a string")}
		return
	}

	cs.engine.mu.Lock()
	op, ok := cs.engine.asyncOps[string(opName)]
	cs.engine.mu.Unlock()
	if !ok {
		cs.cancel()
		cs.result <- callResult{err: fmt.Errorf("script: unknown async op %q", opName)}
		return
	}

	args := values[1:]
	go func() {
		resumeArgs, err := op.Run(ctx, args)
		if err != nil {
			resumeArgs = []lua.LValue{lua.LNil, lua.LString(err.Error())}
		}
		cs.engine.submit(func() {
			cs.step(ctx, nil, resumeArgs, false)
		})
	}()
}
