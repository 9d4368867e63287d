package script

import (
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// LogModule provides structured logging functions to Lua scripts
type LogModule struct{}

// Loader is the module loader for Lua
func (m *LogModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "debug", L.NewFunction(m.debug))
	L.SetField(mod, "info", L.NewFunction(m.info))
	L.SetField(mod, "warn", L.NewFunction(m.warn))
	L.SetField(mod, "error", L.NewFunction(m.errorLog))

	L.Push(mod)
	return 1
}

func (m *LogModule) debug(L *lua.LState) int {
	msg := L.CheckString(1)
	event := log.Debug().Str("source", "lua")
	for k, v := range parseFields(L, 2) {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
	return 0
}

func (m *LogModule) info(L *lua.LState) int {
	msg := L.CheckString(1)
	event := log.Info().Str("source", "lua")
	for k, v := range parseFields(L, 2) {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
	return 0
}

func (m *LogModule) warn(L *lua.LState) int {
	msg := L.CheckString(1)
	event := log.Warn().Str("source", "lua")
	for k, v := range parseFields(L, 2) {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
	return 0
}

func (m *LogModule) errorLog(L *lua.LState) int {
	msg := L.CheckString(1)
	event := log.Error().Str("source", "lua")
	for k, v := range parseFields(L, 2) {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
	return 0
}

// parseFields converts an optional Lua table argument to log fields
func parseFields(L *lua.LState, argIndex int) map[string]interface{} {
	fields := make(map[string]interface{})

	arg := L.Get(argIndex)
	tbl, ok := arg.(*lua.LTable)
	if !ok {
		return fields
	}

	tbl.ForEach(func(key, value lua.LValue) {
		fields[lua.LVAsString(key)] = luaToGo(value)
	})
	return fields
}

// luaToGo converts a Lua value to a Go value for logging
func luaToGo(v lua.LValue) interface{} {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		m := make(map[string]interface{})
		val.ForEach(func(k, item lua.LValue) {
			m[lua.LVAsString(k)] = luaToGo(item)
		})
		return m
	default:
		return v.String()
	}
}
