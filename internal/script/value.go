// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package script

import (
	"fmt"
	"math"
	"strconv"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// Result holds the values returned by a script function, already decoded
// into Go values. Numbers with no fractional part decode as int64, other
// numbers as float64, sequences as []any and other tables as map[string]any.
type Result struct {
	values []any
}

// NewResult builds a Result from decoded values.
func NewResult(values ...any) Result {
	return Result{values: values}
}

// Len reports how many values the function returned.
func (r Result) Len() int {
	return len(r.values)
}

// Values returns the decoded return values.
func (r Result) Values() []any {
	return r.values
}

// IsNil reports whether the function returned nothing or a single nil.
func (r Result) IsNil() bool {
	return len(r.values) == 0 || (len(r.values) == 1 && r.values[0] == nil)
}

// Opaque stands in for script values with no Go representation, such as
// functions and coroutines.
type Opaque struct {
	Type string
}

func (o Opaque) String() string {
	return "<" + o.Type + ">"
}

// toLua converts a Go argument to a Lua value.
func toLua(L *lua.LState, v any) (lua.LValue, error) {
	switch val := v.(type) {
	case nil:
		return lua.LNil, nil
	case bool:
		return lua.LBool(val), nil
	case int:
		return lua.LNumber(val), nil
	case int32:
		return lua.LNumber(val), nil
	case int64:
		return lua.LNumber(val), nil
	case uint32:
		return lua.LNumber(val), nil
	case uint64:
		return lua.LNumber(val), nil
	case float64:
		return lua.LNumber(val), nil
	case string:
		return lua.LString(val), nil
	case []byte:
		return lua.LString(val), nil
	case []any:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			lv, err := toLua(L, item)
			if err != nil {
				return nil, err
			}
			t.Append(lv)
		}
		return t, nil
	case map[string]any:
		t := L.CreateTable(0, len(val))
		for k, item := range val {
			lv, err := toLua(L, item)
			if err != nil {
				return nil, err
			}
			t.RawSetString(k, lv)
		}
		return t, nil
	case lua.LValue:
		return val, nil
	default:
		return nil, oops.In("script").Code(CodeUnsupportedArgument).
			With("type", fmt.Sprintf("%T", v)).
			Errorf("unsupported argument type %T", v)
	}
}

// fromLua converts a Lua value to a Go value.
func fromLua(lv lua.LValue) any {
	return fromLuaVisited(lv, make(map[*lua.LTable]bool))
}

func fromLuaVisited(lv lua.LValue, visited map[*lua.LTable]bool) any {
	if lv == nil {
		return nil
	}

	switch v := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		// Break reference cycles.
		if visited[v] {
			return nil
		}
		visited[v] = true
		defer delete(visited, v)
		return tableToGo(v, visited)
	default:
		return Opaque{Type: lv.Type().String()}
	}
}

// tableToGo converts a table to []any when its keys are exactly 1..n,
// otherwise to map[string]any.
func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	count := 0
	maxN := 0
	isArray := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		kn, ok := k.(lua.LNumber)
		if !ok {
			isArray = false
			return
		}
		n := int(kn)
		if float64(n) != float64(kn) || n <= 0 {
			isArray = false
			return
		}
		if n > maxN {
			maxN = n
		}
	})

	if isArray && maxN > 0 && count == maxN {
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = fromLuaVisited(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = strconv.FormatFloat(float64(kv), 'f', -1, 64)
		default:
			key = k.String()
		}
		m[key] = fromLuaVisited(v, visited)
	})
	return m
}
