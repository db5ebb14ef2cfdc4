package script

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/wemod/internal/kv"
)

const (
	writeTimeout   = 30 * time.Second
	bucketTypeName = "kv_bucket"
	bucketPrefix   = "script:"
)

// log.debug/info/warn/error(msg, fields?)
func logLoader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "debug", L.NewFunction(logAt(zerolog.DebugLevel)))
	L.SetField(mod, "info", L.NewFunction(logAt(zerolog.InfoLevel)))
	L.SetField(mod, "warn", L.NewFunction(logAt(zerolog.WarnLevel)))
	L.SetField(mod, "error", L.NewFunction(logAt(zerolog.ErrorLevel)))
	L.Push(mod)
	return 1
}

func logAt(level zerolog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		event := log.WithLevel(level).Str("source", "lua")
		if tbl, ok := L.Get(2).(*lua.LTable); ok {
			tbl.ForEach(func(k, v lua.LValue) {
				event = event.Interface(lua.LVAsString(k), toGo(v))
			})
		}
		event.Msg(msg)
		return 0
	}
}

// deviceModule exposes the accessories to Lua as the wemo module.
type deviceModule struct {
	r *Runtime
}

func (m *deviceModule) Loader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "get", L.NewFunction(m.get))
	L.SetField(mod, "set", L.NewFunction(m.set))
	L.SetField(mod, "devices", L.NewFunction(m.list))
	L.Push(mod)
	return 1
}

// get(device, characteristic) -> number | nil
func (m *deviceModule) get(L *lua.LState) int {
	a, ok := m.r.devices.Get(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	c := a.Accessory().Characteristic(L.CheckString(2))
	if c == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(c.Value()))
	return 1
}

// set(device, characteristic, value) -> bool
// The write runs in the background; false means the target does not exist.
func (m *deviceModule) set(L *lua.LState) int {
	device := L.CheckString(1)
	name := L.CheckString(2)

	var value float64
	switch v := L.Get(3).(type) {
	case lua.LBool:
		if v {
			value = 1
		}
	case lua.LNumber:
		value = float64(v)
	default:
		L.ArgError(3, "number or boolean expected")
		return 0
	}

	a, ok := m.r.devices.Get(device)
	if !ok {
		log.Warn().Str("device", device).Msg("Lua set for unknown device")
		L.Push(lua.LFalse)
		return 1
	}
	c := a.Accessory().Characteristic(name)
	if c == nil {
		log.Warn().Str("device", device).Str("characteristic", name).Msg("Lua set for unknown characteristic")
		L.Push(lua.LFalse)
		return 1
	}

	m.r.writes.Add(1)
	go func() {
		defer m.r.writes.Done()
		ctx, cancel := context.WithTimeout(m.r.writeCtx, writeTimeout)
		defer cancel()
		if err := c.Set(ctx, value); err != nil {
			log.Warn().Err(err).
				Str("device", device).
				Str("characteristic", name).
				Float64("value", value).
				Msg("Lua write failed")
		}
	}()

	L.Push(lua.LTrue)
	return 1
}

// devices() -> { id, ... }
func (m *deviceModule) list(L *lua.LState) int {
	tbl := L.NewTable()
	for i, a := range m.r.devices.All() {
		tbl.RawSetInt(i+1, lua.LString(a.ID()))
	}
	L.Push(tbl)
	return 1
}

// kvModule gives scripts durable buckets, namespaced apart from device state.
type kvModule struct {
	manager *kv.Manager
}

func (m *kvModule) Loader(L *lua.LState) int {
	mt := L.NewTypeMetatable(bucketTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), bucketMethods))

	mod := L.NewTable()
	L.SetField(mod, "bucket", L.NewFunction(m.bucket))
	L.Push(mod)
	return 1
}

// bucket(name) -> Bucket
func (m *kvModule) bucket(L *lua.LState) int {
	ud := L.NewUserData()
	ud.Value = m.manager.Bucket(bucketPrefix + L.CheckString(1))
	L.SetMetatable(ud, L.GetTypeMetatable(bucketTypeName))
	L.Push(ud)
	return 1
}

var bucketMethods = map[string]lua.LGFunction{
	"store":  bucketStore,
	"get":    bucketGet,
	"delete": bucketDelete,
	"keys":   bucketKeys,
}

func checkBucket(L *lua.LState) kv.Bucket {
	ud := L.CheckUserData(1)
	if b, ok := ud.Value.(kv.Bucket); ok {
		return b
	}
	L.ArgError(1, "bucket expected")
	return nil
}

// store(key, value)
func bucketStore(L *lua.LState) int {
	b := checkBucket(L)
	key := L.CheckString(2)
	if err := b.Store(key, toGo(L.Get(3))); err != nil {
		log.Warn().Err(err).Str("bucket", b.Name()).Str("key", key).Msg("Failed to store value")
	}
	return 0
}

// get(key) -> value | nil
func bucketGet(L *lua.LState) int {
	b := checkBucket(L)
	key := L.CheckString(2)
	v, err := b.Get(key)
	if err != nil {
		log.Warn().Err(err).Str("bucket", b.Name()).Str("key", key).Msg("Failed to get value")
	}
	L.Push(toLua(L, v))
	return 1
}

// delete(key) -> bool
func bucketDelete(L *lua.LState) int {
	b := checkBucket(L)
	deleted, err := b.Delete(L.CheckString(2))
	if err != nil {
		log.Warn().Err(err).Str("bucket", b.Name()).Msg("Failed to delete key")
	}
	L.Push(lua.LBool(deleted))
	return 1
}

// keys() -> { key, ... }
func bucketKeys(L *lua.LState) int {
	b := checkBucket(L)
	keys, err := b.Keys()
	if err != nil {
		log.Warn().Err(err).Str("bucket", b.Name()).Msg("Failed to list keys")
	}
	tbl := L.NewTable()
	for i, k := range keys {
		tbl.RawSetInt(i+1, lua.LString(k))
	}
	L.Push(tbl)
	return 1
}

func toGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		if n := val.Len(); n > 0 {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, toGo(val.RawGetInt(i)))
			}
			return arr
		}
		obj := make(map[string]any)
		val.ForEach(func(k, v lua.LValue) {
			obj[lua.LVAsString(k)] = toGo(v)
		})
		return obj
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}

func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, toLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, toLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}
