package modules

import (
	"database/sql"

	lua "github.com/yuin/gopher-lua"
	_ "modernc.org/sqlite"

	"github.com/tinysse/tinysse/script"
)

// SQLite installs the sqlite module: open(path) (or ":memory:"), and the
// resulting handle's exec/query methods. Uses modernc.org/sqlite, a
// cgo-free driver, so the module tree stays cgo-free.
//
// Calls run synchronously on the scripting lane rather than through the
// yield/resume machinery: sqlite access here is local-disk and single-lane
// by construction, so there is no concurrent writer to interleave with and
// no benefit to suspending.
type SQLite struct{}

func (SQLite) Install(e *script.Engine) error {
	tbl := e.L.NewTable()
	tbl.RawSetString("open", e.L.NewFunction(sqliteOpen))

	nullUD := e.L.NewUserData()
	nullUD.Value = sqlNullMarker{}
	tbl.RawSetString("null", nullUD)

	e.L.SetGlobal("sqlite", tbl)
	return nil
}

type sqlNullMarker struct{}

type sqliteHandle struct {
	db *sql.DB
}

func sqliteOpen(L *lua.LState) int {
	path := L.CheckString(1)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		L.RaiseError("sqlite.open: %v", err)
		return 0
	}

	handle := &sqliteHandle{db: db}
	ud := L.NewUserData()
	ud.Value = handle

	mt := L.NewTable()
	methods := L.NewTable()
	methods.RawSetString("exec", L.NewFunction(sqliteExec))
	methods.RawSetString("query", L.NewFunction(sqliteQuery))
	methods.RawSetString("close", L.NewFunction(sqliteClose))
	mt.RawSetString("__index", methods)
	L.SetMetatable(ud, mt)

	L.Push(ud)
	return 1
}

func handleFromArg(L *lua.LState, n int) *sqliteHandle {
	ud, ok := L.CheckUserData(n).Value.(*sqliteHandle)
	if !ok {
		L.RaiseError("sqlite: expected a handle")
		return nil
	}
	return ud
}

func sqliteParams(L *lua.LState, from int) []any {
	t := L.OptTable(from, nil)
	if t == nil {
		return nil
	}
	n := t.Len()
	params := make([]any, n)
	for i := 1; i <= n; i++ {
		params[i-1] = luaScalarToAny(t.RawGetInt(i))
	}
	return params
}

func luaScalarToAny(v lua.LValue) any {
	switch v := v.(type) {
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case lua.LBool:
		return bool(v)
	case *lua.LUserData:
		if _, ok := v.Value.(sqlNullMarker); ok {
			return nil
		}
		return nil
	default:
		return nil
	}
}

func sqliteExec(L *lua.LState) int {
	h := handleFromArg(L, 1)
	query := L.CheckString(2)
	params := sqliteParams(L, 3)

	res, err := h.db.Exec(query, params...)
	if err != nil {
		L.RaiseError("sqlite.exec: %v", err)
		return 0
	}
	affected, _ := res.RowsAffected()
	L.Push(lua.LNumber(affected))
	return 1
}

func sqliteQuery(L *lua.LState) int {
	h := handleFromArg(L, 1)
	query := L.CheckString(2)
	params := sqliteParams(L, 3)

	rows, err := h.db.Query(query, params...)
	if err != nil {
		L.RaiseError("sqlite.query: %v", err)
		return 0
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		L.RaiseError("sqlite.query: %v", err)
		return 0
	}

	result := L.NewTable()
	rowIdx := 1
	for rows.Next() {
		scanTargets := make([]any, len(cols))
		values := make([]any, len(cols))
		for i := range scanTargets {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			L.RaiseError("sqlite.query: %v", err)
			return 0
		}

		rowTbl := L.NewTable()
		for i, col := range cols {
			rowTbl.RawSetString(col, anyToLua(L, values[i]))
		}
		result.RawSetInt(rowIdx, rowTbl)
		rowIdx++
	}

	L.Push(result)
	return 1
}

func anyToLua(L *lua.LState, v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case int64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case []byte:
		return lua.LString(v)
	case string:
		return lua.LString(v)
	case bool:
		return lua.LBool(v)
	default:
		return lua.LNil
	}
}

func sqliteClose(L *lua.LState) int {
	h := handleFromArg(L, 1)
	if err := h.db.Close(); err != nil {
		L.RaiseError("sqlite.close: %v", err)
	}
	return 0
}
