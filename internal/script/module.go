package script

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
	lua "github.com/yuin/gopher-lua"
)

// register installs the cable table.
func (e *Engine) register(L *lua.LState) {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"on":          e.luaOn,
		"off":         e.luaOff,
		"out":         e.luaOut,
		"subscribe":   e.luaSubscribe,
		"unsubscribe": e.luaUnsubscribe,
		"topics":      e.luaTopics,
		"decode":      e.luaDecode,
		"log":         e.luaLog,
	})
	L.SetField(mod, "id", lua.LString(e.id))
	L.SetField(mod, "separator", lua.LString(e.bus.Separator()))
	L.SetField(mod, "mode", lua.LString(e.bus.Mode().String()))
	L.SetGlobal("cable", mod)
}

// ctx returns the context of the job currently running.
func (e *Engine) ctx() context.Context {
	return e.jobCtx
}

// on(name, fn [, recv [, id]]) -> id
func (e *Engine) luaOn(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	recv := L.Get(3)
	id := L.OptString(4, "")

	id, err := e.bus.On(name, e.callback(fn), recv, id)
	if err != nil {
		L.RaiseError("cable.on: %v", err)
		return 0
	}
	if id == "" {
		L.Push(lua.LNil)
		return 1
	}

	e.bind(binding{name: name, id: id})

	L.Push(lua.LString(id))
	return 1
}

func (e *Engine) bind(b binding) {
	e.mu.Lock()
	e.bindings[b] = struct{}{}
	e.mu.Unlock()
}

func (e *Engine) unbind(b binding) {
	e.mu.Lock()
	delete(e.bindings, b)
	e.mu.Unlock()
}

// off(name, id) -> bool
func (e *Engine) luaOff(L *lua.LState) int {
	name := L.CheckString(1)
	id := L.CheckString(2)

	removed := e.bus.Off(name, id)
	if removed {
		e.unbind(binding{name: name, id: id})
	}

	L.Push(lua.LBool(removed))
	return 1
}

// out(name [, payload])
func (e *Engine) luaOut(L *lua.LState) int {
	name := L.CheckString(1)
	payload := fromLValue(L.Get(2))

	e.bus.Out(e.ctx(), name, payload)
	return 0
}

// subscribe(topic, fn [, recv [, id]]) -> id
func (e *Engine) luaSubscribe(L *lua.LState) int {
	topic := L.CheckString(1)
	fn := L.CheckFunction(2)
	recv := L.Get(3)
	id := L.OptString(4, "")

	id, err := e.bus.Topic(topic).Subscribe(e.callback(fn), recv, id)
	if err != nil {
		L.RaiseError("cable.subscribe: %v", err)
		return 0
	}

	e.bind(binding{name: topic, id: id, topic: true})

	L.Push(lua.LString(id))
	return 1
}

// unsubscribe(topic, id) -> bool
func (e *Engine) luaUnsubscribe(L *lua.LState) int {
	topic := L.CheckString(1)
	id := L.CheckString(2)

	t, ok := e.bus.LookupTopic(topic)
	removed := ok && t.Unsubscribe(id)
	if removed {
		e.unbind(binding{name: topic, id: id, topic: true})
	}

	L.Push(lua.LBool(removed))
	return 1
}

// topics() -> { name, ... }
func (e *Engine) luaTopics(L *lua.LState) int {
	tbl := L.NewTable()
	for _, name := range e.bus.Topics() {
		tbl.Append(lua.LString(name))
	}
	L.Push(tbl)
	return 1
}

// decode(json) -> value
func (e *Engine) luaDecode(L *lua.LState) int {
	src := L.CheckString(1)
	if !gjson.Valid(src) {
		L.ArgError(1, "invalid JSON")
		return 0
	}
	L.Push(jsonToLValue(L, gjson.Parse(src)))
	return 1
}

// log(level, msg [, fields])
func (e *Engine) luaLog(L *lua.LState) int {
	level := parseLevel(L.CheckString(1))
	msg := L.CheckString(2)

	var args []any
	if fields := L.OptTable(3, nil); fields != nil {
		if m, ok := fromLValue(fields).(map[string]any); ok {
			for _, k := range sortedKeys(m) {
				args = append(args, slog.Any(k, m[k]))
			}
		}
	}

	e.logger.Log(e.ctx(), level, msg, args...)
	return 0
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
