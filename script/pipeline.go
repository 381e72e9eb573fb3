package script

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	tinysse "github.com/tinysse/tinysse"
)

// These constants name, for each HookPipeline method, the global Lua function a
// script may define to implement it. A script that leaves one undefined
// gets DefaultPipeline's behavior for that hook.
const (
	fnStartup     = "startup"
	fnTick        = "tick"
	fnPublish     = "publish"
	fnSubscribe   = "subscribe"
	fnCatchup     = "catchup"
	fnMessage     = "message"
	fnUnsubscribe = "unsubscribe"
	fnTimeout     = "timeout"
)

// Pipeline implements tinysse.HookPipeline by dispatching each call through
// an Engine's scheduling lane, falling back to tinysse.DefaultPipeline's
// behavior for any hook the loaded script does not define.
type Pipeline struct {
	Engine  *Engine
	Default tinysse.DefaultPipeline
}

var _ tinysse.HookPipeline = (*Pipeline)(nil)

// NewPipeline wraps an already-loaded Engine in a Pipeline.
func NewPipeline(e *Engine) *Pipeline {
	return &Pipeline{Engine: e}
}

func reqSnapshotToLua(L *lua.LState, r tinysse.Snapshot) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("method", lua.LString(r.Method))
	tbl.RawSetString("path", lua.LString(r.Path))
	tbl.RawSetString("query", lua.LString(r.Query))
	tbl.RawSetString("client_addr", lua.LString(r.ClientAddr))
	headers := L.NewTable()
	for k, vs := range r.Headers {
		seq := L.NewTable()
		for i, v := range vs {
			seq.RawSetInt(i+1, lua.LString(v))
		}
		headers.RawSetString(k, seq)
	}
	tbl.RawSetString("headers", headers)
	return tbl
}

func bagToLua(L *lua.LState, bag map[string]tinysse.Value) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range bag {
		tbl.RawSetString(k, ToLua(L, v))
	}
	return tbl
}

func luaToBag(tbl *lua.LTable) map[string]tinysse.Value {
	bag := map[string]tinysse.Value{}
	tbl.ForEach(func(k, v lua.LValue) {
		bag[k.String()] = FromLua(v)
	})
	return bag
}

func subCtxToLua(L *lua.LState, sub *tinysse.SubscribeCtx) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("id", lua.LNumber(sub.ID))
	tbl.RawSetString("req", reqSnapshotToLua(L, sub.Req))
	tbl.RawSetString("bag", bagToLua(L, sub.Bag))
	return tbl
}

func applyBagFromLua(sub *tinysse.SubscribeCtx, tbl *lua.LTable) {
	if bagV, ok := tbl.RawGetString("bag").(*lua.LTable); ok {
		sub.Bag = luaToBag(bagV)
	}
}

func (p *Pipeline) Startup(ctx context.Context, cli tinysse.Value) error {
	if !p.Engine.HasGlobalFunction(fnStartup) {
		return p.Default.Startup(ctx, cli)
	}
	_, err := p.Engine.Call(ctx, fnStartup, ToLua(p.Engine.L, cli))
	if err != nil {
		return fmt.Errorf("startup hook: %w", err)
	}
	return nil
}

func (p *Pipeline) Tick(ctx context.Context, count uint64) {
	if !p.Engine.HasGlobalFunction(fnTick) {
		p.Default.Tick(ctx, count)
		return
	}
	if _, err := p.Engine.Call(ctx, fnTick, lua.LNumber(count)); err != nil {
		p.Engine.Log.Error("tick hook failed", "error", err)
	}
}

func (p *Pipeline) Publish(ctx context.Context, pub *tinysse.PublishCtx) error {
	if !p.Engine.HasGlobalFunction(fnPublish) {
		return p.Default.Publish(ctx, pub)
	}

	L := p.Engine.L
	arg := L.NewTable()
	arg.RawSetString("req", reqSnapshotToLua(L, pub.Req))
	arg.RawSetString("msg", MessageToLuaTable(L, pub.Msg))
	arg.RawSetString("bag", bagToLua(L, pub.Bag))

	results, err := p.Engine.Call(ctx, fnPublish, arg)
	if err != nil {
		return fmt.Errorf("publish hook: %w", err)
	}
	if len(results) == 0 {
		return fmt.Errorf("publish hook rejected the message")
	}
	if _, ok := results[0].(*lua.LTable); !ok {
		return fmt.Errorf("publish hook rejected the message")
	}
	if updated, ok := arg.RawGetString("msg").(*lua.LTable); ok {
		pub.Msg = LuaTableToMessage(updated)
	}
	if updated, ok := arg.RawGetString("bag").(*lua.LTable); ok {
		pub.Bag = luaToBag(updated)
	}
	return nil
}

func (p *Pipeline) Subscribe(ctx context.Context, sub *tinysse.SubscribeCtx) error {
	if !p.Engine.HasGlobalFunction(fnSubscribe) {
		return p.Default.Subscribe(ctx, sub)
	}

	arg := subCtxToLua(p.Engine.L, sub)
	results, err := p.Engine.Call(ctx, fnSubscribe, arg)
	if err != nil {
		return fmt.Errorf("subscribe hook: %w", err)
	}
	if len(results) == 0 {
		return fmt.Errorf("subscribe hook rejected the connection")
	}
	if _, ok := results[0].(*lua.LTable); !ok {
		return fmt.Errorf("subscribe hook rejected the connection")
	}
	applyBagFromLua(sub, arg)
	return nil
}

func (p *Pipeline) Catchup(ctx context.Context, sub *tinysse.SubscribeCtx, lastEventID string) []tinysse.Message {
	if !p.Engine.HasGlobalFunction(fnCatchup) {
		return p.Default.Catchup(ctx, sub, lastEventID)
	}

	arg := subCtxToLua(p.Engine.L, sub)
	results, err := p.Engine.Call(ctx, fnCatchup, arg, lua.LString(lastEventID))
	if err != nil {
		p.Engine.Log.Error("catchup hook failed", "error", err)
		return nil
	}
	if len(results) == 0 {
		return nil
	}
	list, ok := results[0].(*lua.LTable)
	if !ok {
		return nil
	}
	var out []tinysse.Message
	for i := 1; i <= list.Len(); i++ {
		if m, ok := list.RawGetInt(i).(*lua.LTable); ok {
			out = append(out, LuaTableToMessage(m))
		}
	}
	return out
}

func (p *Pipeline) Message(ctx context.Context, pub *tinysse.PublishCtx, sub *tinysse.SubscribeCtx) (tinysse.Message, bool) {
	if !p.Engine.HasGlobalFunction(fnMessage) {
		return p.Default.Message(ctx, pub, sub)
	}

	L := p.Engine.L
	pubArg := MessageToLuaTable(L, pub.Msg)
	subArg := subCtxToLua(L, sub)

	results, err := p.Engine.Call(ctx, fnMessage, pubArg, subArg)
	if err != nil {
		p.Engine.Log.Error("message hook failed", "error", err)
		return tinysse.Message{}, false
	}
	if len(results) == 0 {
		return tinysse.Message{}, false
	}
	out, ok := results[0].(*lua.LTable)
	if !ok {
		return tinysse.Message{}, false
	}
	deliver := true
	if len(results) > 1 {
		if b, isBool := results[1].(lua.LBool); isBool {
			deliver = bool(b)
		}
	}
	return LuaTableToMessage(out), deliver
}

func (p *Pipeline) Unsubscribe(ctx context.Context, sub *tinysse.SubscribeCtx) {
	if !p.Engine.HasGlobalFunction(fnUnsubscribe) {
		p.Default.Unsubscribe(ctx, sub)
		return
	}
	if _, err := p.Engine.Call(ctx, fnUnsubscribe, subCtxToLua(p.Engine.L, sub)); err != nil {
		p.Engine.Log.Error("unsubscribe hook failed", "error", err)
	}
}

func (p *Pipeline) Timeout(ctx context.Context, sub *tinysse.SubscribeCtx, elapsedMs int64) (int64, bool) {
	if !p.Engine.HasGlobalFunction(fnTimeout) {
		return p.Default.Timeout(ctx, sub, elapsedMs)
	}

	results, err := p.Engine.Call(ctx, fnTimeout, subCtxToLua(p.Engine.L, sub), lua.LNumber(elapsedMs))
	if err != nil {
		p.Engine.Log.Error("timeout hook failed", "error", err)
		return 0, false
	}
	if len(results) == 0 {
		return 0, false
	}
	n, ok := results[0].(lua.LNumber)
	if !ok {
		return 0, false
	}
	return int64(n), true
}
