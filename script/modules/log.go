package modules

import (
	"fmt"
	"log/slog"

	lua "github.com/yuin/gopher-lua"

	"github.com/tinysse/tinysse/internal/tsselog"
	"github.com/tinysse/tinysse/script"
)

// Log installs the log module: error/warn/info/debug/trace, each with a
// formatted variant (errorf, warnf, ...), writing through the same
// log/slog logger the rest of the process uses.
type Log struct {
	Logger *slog.Logger
}

func (m Log) Install(e *script.Engine) error {
	logger := m.Logger
	if logger == nil {
		logger = e.Log
	}

	tbl := e.L.NewTable()
	levels := []struct {
		name  string
		level slog.Level
	}{
		{"error", slog.LevelError},
		{"warn", slog.LevelWarn},
		{"info", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"trace", tsselog.LevelTrace},
	}
	for _, lv := range levels {
		lv := lv
		tbl.RawSetString(lv.name, e.L.NewFunction(func(L *lua.LState) int {
			logger.Log(nil, lv.level, L.CheckString(1))
			return 0
		}))
		tbl.RawSetString(lv.name+"f", e.L.NewFunction(func(L *lua.LState) int {
			logger.Log(nil, lv.level, formatLua(L))
			return 0
		}))
	}
	e.L.SetGlobal("log", tbl)
	return nil
}

// formatLua implements a small printf-style formatter over the arguments
// past the format string, using %s/%d/%f/%v like fmt.Sprintf but reading
// straight from the Lua stack.
func formatLua(L *lua.LState) string {
	format := L.CheckString(1)
	n := L.GetTop()
	args := make([]any, 0, n-1)
	for i := 2; i <= n; i++ {
		v := L.Get(i)
		switch v := v.(type) {
		case lua.LNumber:
			args = append(args, float64(v))
		case lua.LString:
			args = append(args, string(v))
		case lua.LBool:
			args = append(args, bool(v))
		default:
			args = append(args, v.String())
		}
	}
	return fmt.Sprintf(format, args...)
}
