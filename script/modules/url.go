package modules

import (
	"net/url"

	lua "github.com/yuin/gopher-lua"

	"github.com/tinysse/tinysse/script"
)

// URL installs the url module: encode/decode for structured URL parts, and
// quote/unquote for application/x-www-form-urlencoded bodies where a key
// maps to an ordered sequence of values.
type URL struct{}

func (URL) Install(e *script.Engine) error {
	tbl := e.L.NewTable()
	tbl.RawSetString("encode", e.L.NewFunction(urlEncode))
	tbl.RawSetString("decode", e.L.NewFunction(urlDecode))
	tbl.RawSetString("quote", e.L.NewFunction(urlQuote))
	tbl.RawSetString("unquote", e.L.NewFunction(urlUnquote))
	e.L.SetGlobal("url", tbl)
	return nil
}

// urlEncode takes a table {scheme=, host=, path=, query={k={v1,v2}}} and
// renders it to a URL string.
func urlEncode(L *lua.LState) int {
	parts := L.CheckTable(1)
	u := &url.URL{
		Scheme: lua.LVAsString(parts.RawGetString("scheme")),
		Host:   lua.LVAsString(parts.RawGetString("host")),
		Path:   lua.LVAsString(parts.RawGetString("path")),
	}
	if qt, ok := parts.RawGetString("query").(*lua.LTable); ok {
		q := url.Values{}
		qt.ForEach(func(k, v lua.LValue) {
			key := k.String()
			switch vals := v.(type) {
			case *lua.LTable:
				for i := 1; i <= vals.Len(); i++ {
					q.Add(key, lua.LVAsString(vals.RawGetInt(i)))
				}
			default:
				q.Add(key, lua.LVAsString(v))
			}
		})
		u.RawQuery = q.Encode()
	}
	L.Push(lua.LString(u.String()))
	return 1
}

// urlDecode parses a URL string into a {scheme=, host=, path=, query={}} table.
func urlDecode(L *lua.LState) int {
	raw := L.CheckString(1)
	u, err := url.Parse(raw)
	if err != nil {
		L.RaiseError("url.decode: %v", err)
		return 0
	}
	out := L.NewTable()
	out.RawSetString("scheme", lua.LString(u.Scheme))
	out.RawSetString("host", lua.LString(u.Host))
	out.RawSetString("path", lua.LString(u.Path))

	q := u.Query()
	qt := L.NewTable()
	for key, vals := range q {
		seq := L.NewTable()
		for i, v := range vals {
			seq.RawSetInt(i+1, lua.LString(v))
		}
		qt.RawSetString(key, seq)
	}
	out.RawSetString("query", qt)
	L.Push(out)
	return 1
}

func urlQuote(L *lua.LState) int {
	L.Push(lua.LString(url.QueryEscape(L.CheckString(1))))
	return 1
}

func urlUnquote(L *lua.LState) int {
	s, err := url.QueryUnescape(L.CheckString(1))
	if err != nil {
		L.RaiseError("url.unquote: %v", err)
		return 0
	}
	L.Push(lua.LString(s))
	return 1
}
