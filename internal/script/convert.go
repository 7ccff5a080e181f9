package script

import (
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	lua "github.com/yuin/gopher-lua"

	"github.com/flagpoonage/cables"
)

// toLValue converts a Go value to a Lua value.
func toLValue(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case []string:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(lua.LString(item))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, toLValue(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, toLValue(L, item))
		}
		return tbl
	case map[string]string:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, lua.LString(item))
		}
		return tbl
	case cables.Emission:
		tbl := L.NewTable()
		tbl.RawSetString("topic", lua.LString(val.Topic))
		tbl.RawSetString("event", lua.LString(val.Event))
		tbl.RawSetString("payload", toLValue(L, val.Payload))
		return tbl
	case gjson.Result:
		return jsonToLValue(L, val)
	case fmt.Stringer:
		return lua.LString(val.String())
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// fromLValue converts a Lua value to a Go value. Tables with only positive
// integer keys become []any; other tables become map[string]any.
func fromLValue(v lua.LValue) any {
	if v == nil || v == lua.LNil {
		return nil
	}

	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		isArray := true
		maxIdx := 0
		val.ForEach(func(k, _ lua.LValue) {
			if num, ok := k.(lua.LNumber); ok && float64(num) >= 1 && float64(num) == float64(int(num)) {
				if idx := int(num); idx > maxIdx {
					maxIdx = idx
				}
			} else {
				isArray = false
			}
		})

		if isArray && maxIdx > 0 {
			arr := make([]any, maxIdx)
			val.ForEach(func(k, v lua.LValue) {
				idx := int(k.(lua.LNumber)) - 1
				arr[idx] = fromLValue(v)
			})
			return arr
		}

		result := make(map[string]any)
		val.ForEach(func(k, v lua.LValue) {
			var key string
			switch kv := k.(type) {
			case lua.LString:
				key = string(kv)
			case lua.LNumber:
				key = fmt.Sprintf("%v", float64(kv))
			default:
				key = k.String()
			}
			result[key] = fromLValue(v)
		})
		return result
	default:
		return v.String()
	}
}

// jsonToLValue converts a parsed JSON value to a Lua value.
func jsonToLValue(L *lua.LState, r gjson.Result) lua.LValue {
	switch r.Type {
	case gjson.Null:
		return lua.LNil
	case gjson.False:
		return lua.LFalse
	case gjson.True:
		return lua.LTrue
	case gjson.Number:
		return lua.LNumber(r.Float())
	case gjson.String:
		return lua.LString(r.Str)
	}

	tbl := L.NewTable()
	if r.IsArray() {
		r.ForEach(func(_, item gjson.Result) bool {
			tbl.Append(jsonToLValue(L, item))
			return true
		})
		return tbl
	}
	r.ForEach(func(k, item gjson.Result) bool {
		tbl.RawSetString(k.String(), jsonToLValue(L, item))
		return true
	})
	return tbl
}

// ParsePayload decodes a JSON document into plain Go values. Input that is
// not valid JSON is returned as a string.
func ParsePayload(s string) any {
	if !gjson.Valid(s) {
		return s
	}
	return gjson.Parse(s).Value()
}

// sortedKeys returns the keys of m in order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
