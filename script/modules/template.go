package modules

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/flosch/pongo2/v6"

	"github.com/tinysse/tinysse/script"
)

// Template installs the template module: a named template set backed by an
// in-memory loader, supporting inheritance/blocks (pongo2's native
// {% extends %}/{% block %} tags) and autoescape mode selection.
type Template struct{}

// setLoader is a pongo2.TemplateLoader backed by named in-memory strings, so
// scripts can register templates by name via set.add(name, source) and
// reference each other through {% extends "name" %} / {% include "name" %}.
type setLoader struct {
	sources map[string]string
}

func newSetLoader() *setLoader { return &setLoader{sources: map[string]string{}} }

func (l *setLoader) Abs(base, name string) string { return name }

func (l *setLoader) Get(path string) (io.Reader, error) {
	source, ok := l.sources[path]
	if !ok {
		return nil, fmt.Errorf("template: no such template %q", path)
	}
	return strings.NewReader(source), nil
}

func (Template) Install(e *script.Engine) error {
	tbl := e.L.NewTable()
	tbl.RawSetString("set", e.L.NewFunction(templateNewSet))
	tbl.RawSetString("render", e.L.NewFunction(templateRenderString))
	e.L.SetGlobal("template", tbl)
	return nil
}

// templateSet wraps a pongo2.TemplateSet plus its autoescape mode. pongo2
// itself always HTML-escapes {{ }} output, so "json" and "none" modes are
// implemented by marking every context value pongo2-safe up front (via
// pongo2.AsSafeValue) and, for "json", pre-encoding it as a JSON string
// literal before injection.
type templateSet struct {
	set        *pongo2.TemplateSet
	loader     *setLoader
	autoescape string
}

func templateNewSet(L *lua.LState) int {
	opts := L.OptTable(1, L.NewTable())
	mode := lua.LVAsString(opts.RawGetString("autoescape"))
	if mode == "" {
		mode = "html"
	}

	loader := newSetLoader()
	set := pongo2.NewSet("script", loader)
	ts := &templateSet{set: set, loader: loader, autoescape: mode}

	ud := L.NewUserData()
	ud.Value = ts

	mt := L.NewTable()
	methods := L.NewTable()
	methods.RawSetString("add", L.NewFunction(templateSetAdd))
	methods.RawSetString("render", L.NewFunction(templateSetRender))
	mt.RawSetString("__index", methods)
	L.SetMetatable(ud, mt)

	L.Push(ud)
	return 1
}

func templateSetFromArg(L *lua.LState, n int) *templateSet {
	ud, ok := L.CheckUserData(n).Value.(*templateSet)
	if !ok {
		L.RaiseError("template: expected a set handle")
		return nil
	}
	return ud
}

func templateSetAdd(L *lua.LState) int {
	ts := templateSetFromArg(L, 1)
	name := L.CheckString(2)
	source := L.CheckString(3)
	ts.loader.sources[name] = source
	return 0
}

func templateSetRender(L *lua.LState) int {
	ts := templateSetFromArg(L, 1)
	name := L.CheckString(2)
	ctxTbl := L.OptTable(3, L.NewTable())

	if _, ok := ts.loader.sources[name]; !ok {
		L.RaiseError("template: no such template %q", name)
		return 0
	}
	tpl, err := ts.set.FromFile(name)
	if err != nil {
		L.RaiseError("template: %v", err)
		return 0
	}

	out, err := tpl.Execute(luaTableToPongoContext(ctxTbl, ts.autoescape))
	if err != nil {
		L.RaiseError("template: %v", err)
		return 0
	}
	L.Push(lua.LString(out))
	return 1
}

// templateRenderString renders a one-off, standalone template string
// without registering it in a set — the common case of "just render this".
// It always uses pongo2's default html autoescape mode.
func templateRenderString(L *lua.LState) int {
	source := L.CheckString(1)
	ctxTbl := L.OptTable(2, L.NewTable())

	tpl, err := pongo2.FromString(source)
	if err != nil {
		L.RaiseError("template.render: %v", err)
		return 0
	}
	out, err := tpl.Execute(luaTableToPongoContext(ctxTbl, "html"))
	if err != nil {
		L.RaiseError("template.render: %v", err)
		return 0
	}
	L.Push(lua.LString(out))
	return 1
}

func luaTableToPongoContext(t *lua.LTable, autoescape string) pongo2.Context {
	ctx := pongo2.Context{}
	t.ForEach(func(k, v lua.LValue) {
		val := luaScalarToAny(v)
		switch autoescape {
		case "none":
			if s, ok := val.(string); ok {
				val = pongo2.AsSafeValue(s)
			}
		case "json":
			if s, ok := val.(string); ok {
				if encoded, err := jsonMarshalString(s); err == nil {
					val = pongo2.AsSafeValue(encoded)
				}
			}
		}
		ctx[k.String()] = val
	})
	return ctx
}

func jsonMarshalString(s string) (string, error) {
	b, err := json.Marshal(s)
	return string(b), err
}
