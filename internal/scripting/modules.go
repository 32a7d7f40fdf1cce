package scripting

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// RegisterModules registers all engine.* Lua tables into L:
//
//	engine.log.debug/info/warn(msg)
//	engine.path.split(legacy_path)   -> array of dot-separated segments
//	engine.path.package(legacy_path) -> first segment
//	engine.path.name(legacy_path)    -> last segment
//	engine.path.join(root, ...)      -> slash-joined target path
//
// Precondition: L must be from NewSandbox.
// Postcondition: engine global is defined in L.
func (m *Manager) RegisterModules(L *lua.LState) {
	engine := L.NewTable()
	L.SetGlobal("engine", engine)

	logTbl := L.NewTable()
	logFn := func(level func(string, ...zap.Field)) lua.LGFunction {
		return func(L *lua.LState) int {
			level(L.CheckString(1), zap.String("component", "lua"))
			return 0
		}
	}
	L.SetField(logTbl, "debug", L.NewFunction(logFn(m.logger.Debug)))
	L.SetField(logTbl, "info", L.NewFunction(logFn(m.logger.Info)))
	L.SetField(logTbl, "warn", L.NewFunction(logFn(m.logger.Warn)))
	L.SetField(engine, "log", logTbl)

	pathTbl := L.NewTable()
	L.SetField(pathTbl, "split", L.NewFunction(func(L *lua.LState) int {
		segs := L.NewTable()
		for _, s := range strings.Split(L.CheckString(1), ".") {
			segs.Append(lua.LString(s))
		}
		L.Push(segs)
		return 1
	}))
	L.SetField(pathTbl, "package", L.NewFunction(func(L *lua.LState) int {
		pkg, _, _ := strings.Cut(L.CheckString(1), ".")
		L.Push(lua.LString(pkg))
		return 1
	}))
	L.SetField(pathTbl, "name", L.NewFunction(func(L *lua.LState) int {
		p := L.CheckString(1)
		L.Push(lua.LString(p[strings.LastIndex(p, ".")+1:]))
		return 1
	}))
	L.SetField(pathTbl, "join", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			if s := strings.Trim(L.CheckString(i), "/"); s != "" {
				parts = append(parts, s)
			}
		}
		L.Push(lua.LString("/" + strings.Join(parts, "/")))
		return 1
	}))
	L.SetField(engine, "path", pathTbl)
}
