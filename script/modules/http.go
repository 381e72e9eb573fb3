package modules

import (
	"context"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/go-resty/resty/v2"

	"github.com/tinysse/tinysse/script"
)

// HTTP installs the http module: a one-shot request() plus an agent()
// factory returning a reusable client with a shared connection pool and
// default headers, both awaitable (bodies fully buffered both ways).
type HTTP struct{}

func (HTTP) Install(e *script.Engine) error {
	shared := resty.New()

	e.RegisterAsync("http", httpAsyncOp{})

	tbl := e.L.NewTable()
	tbl.RawSetString("request", e.L.NewFunction(httpRequestFn(nil)))
	tbl.RawSetString("agent", e.L.NewFunction(httpAgentFn(shared)))
	e.L.SetGlobal("http", tbl)
	return nil
}

// httpAsyncOp performs the buffered round trip off the scripting lane. args
// decode as [method, url, headersTable, body]; results are pushed back as
// [status, body, headersTable].
type httpAsyncOp struct{}

func (httpAsyncOp) Run(ctx context.Context, args []lua.LValue) ([]lua.LValue, error) {
	req := decodeHTTPRequest(args)
	client := req.client
	if client == nil {
		client = resty.New()
	}

	r := client.R().SetContext(ctx)
	for k, v := range req.headers {
		r.SetHeader(k, v)
	}
	if req.body != "" {
		r.SetBody(req.body)
	}

	resp, err := r.Execute(req.method, req.url)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{}
	for k := range resp.Header() {
		headers[k] = resp.Header().Get(k)
	}
	return []lua.LValue{
		lua.LNumber(resp.StatusCode()),
		lua.LString(resp.Body()),
		headersToLua(headers),
	}, nil
}

func headersToLua(h map[string]string) *lua.LTable {
	t := &lua.LTable{}
	for k, v := range h {
		t.RawSetString(k, lua.LString(v))
	}
	return t
}

type decodedRequest struct {
	client  *resty.Client
	method  string
	url     string
	headers map[string]string
	body    string
}

func decodeHTTPRequest(args []lua.LValue) decodedRequest {
	req := decodedRequest{method: "GET", headers: map[string]string{}}
	if len(args) > 0 {
		if s, ok := args[0].(lua.LString); ok {
			req.method = strings.ToUpper(string(s))
		}
	}
	if len(args) > 1 {
		if s, ok := args[1].(lua.LString); ok {
			req.url = string(s)
		}
	}
	if len(args) > 2 {
		if t, ok := args[2].(*lua.LTable); ok {
			t.ForEach(func(k, v lua.LValue) {
				req.headers[k.String()] = lua.LVAsString(v)
			})
		}
	}
	if len(args) > 3 {
		if s, ok := args[3].(lua.LString); ok {
			req.body = string(s)
		}
	}
	if len(args) > 4 {
		if ud, ok := args[4].(*lua.LUserData); ok {
			if c, ok := ud.Value.(*resty.Client); ok {
				req.client = c
			}
		}
	}
	return req
}

// httpRequestFn implements http.request(method, url, headers, body): it
// yields ("http", ...) so the round trip runs off the scripting lane, then
// returns (status, body, headers) once resumed.
func httpRequestFn(client *resty.Client) lua.LGFunction {
	return func(L *lua.LState) int {
		method := L.OptString(1, "GET")
		url := L.CheckString(2)
		headers := L.OptTable(3, L.NewTable())
		body := L.OptString(4, "")

		args := []lua.LValue{lua.LString("http"), lua.LString(method), lua.LString(url), headers, lua.LString(body)}
		if client != nil {
			ud := L.NewUserData()
			ud.Value = client
			args = append(args, ud)
		}
		return L.Yield(args...)
	}
}

// httpAgentFn returns a callable factory building an agent object: a table
// carrying a resty.Client userdata plus its own request() bound method,
// so per-agent default headers and the connection pool persist across
// calls.
func httpAgentFn(shared *resty.Client) lua.LGFunction {
	return func(L *lua.LState) int {
		opts := L.OptTable(1, L.NewTable())
		client := resty.New()
		if base := lua.LVAsString(opts.RawGetString("base_url")); base != "" {
			client.SetBaseURL(base)
		}
		if headers, ok := opts.RawGetString("headers").(*lua.LTable); ok {
			headers.ForEach(func(k, v lua.LValue) {
				client.SetHeader(k.String(), lua.LVAsString(v))
			})
		}

		agent := L.NewTable()
		ud := L.NewUserData()
		ud.Value = client
		agent.RawSetString("__client", ud)
		agent.RawSetString("request", L.NewFunction(httpRequestFn(client)))
		L.Push(agent)
		return 1
	}
}
