// Package luabind exposes odbxuv to gopher-lua scripts as the "opendbxuv"
// module.
//
// Handles are userdata carrying an *odbxuv.Object and a private environment
// table. A request issued inside a coroutine keeps that coroutine alive
// until the handle has no outstanding work. Callbacks always run on the main
// state, through the global eventSource function when the script defines
// one.
package luabind

import (
	"fmt"
	"strings"

	odbxuv "github.com/Theintercooler/OpenDBX-uv-lua"
	lua "github.com/yuin/gopher-lua"
)

// ModuleName is the name scripts require.
const ModuleName = "opendbxuv"

const handleMeta = "odbxuv.handle"

// Runtime adapts a gopher-lua state. Its methods, and the state itself, are
// only used on the loop goroutine.
type Runtime struct {
	L      *lua.LState
	bridge *odbxuv.Bridge
}

// New builds the bridge for L and preloads the module.
func New(L *lua.LState, loop *odbxuv.Loop, driver odbxuv.Driver, opts ...odbxuv.Option) *Runtime {
	r := &Runtime{L: L}
	r.bridge = odbxuv.New(loop, driver, r, opts...)
	L.PreloadModule(ModuleName, r.loader)
	return r
}

func (r *Runtime) Bridge() *odbxuv.Bridge { return r.bridge }

func (r *Runtime) Primary() odbxuv.Context { return r.L }

func (r *Runtime) Callable(v any) bool {
	_, ok := v.(*lua.LFunction)
	return ok
}

// Transfer moves fn from the coroutine stack it was registered on onto the
// main state. Args are still Go values and need no move.
func (r *Runtime) Transfer(from, to odbxuv.Context, fn any, args []any) (any, []any) {
	src, ok := from.(*lua.LState)
	dst, ok2 := to.(*lua.LState)
	if !ok || !ok2 || src == dst || src.Dead {
		return fn, args
	}
	src.Push(fn.(lua.LValue))
	src.XMoveTo(dst, 1)
	moved := dst.Get(-1)
	dst.Pop(1)
	return moved, args
}

// Invoke calls fn on ctx as eventSource(source, fn, args...) when the script
// defines eventSource, and as fn(args...) otherwise.
func (r *Runtime) Invoke(ctx odbxuv.Context, source string, fn any, args []any) error {
	L := ctx.(*lua.LState)
	largs := make([]lua.LValue, 0, len(args)+2)
	callee := fn.(lua.LValue)
	if es, ok := L.GetGlobal("eventSource").(*lua.LFunction); ok {
		largs = append(largs, lua.LString(source), callee)
		callee = es
	}
	for _, a := range args {
		largs = append(largs, r.toLua(L, a))
	}
	return L.CallByParam(lua.P{Fn: callee, NRet: 0, Protect: true}, largs...)
}

// Exec queues chunk to run on the loop. Load and runtime errors go to the
// loop's error handler.
func (r *Runtime) Exec(name, chunk string) error {
	return r.bridge.Loop().Submit(func() error {
		fn, err := r.L.Load(strings.NewReader(chunk), name)
		if err != nil {
			return err
		}
		r.L.Push(fn)
		return r.L.PCall(0, 0, nil)
	})
}

// Eval runs src on the calling (loop) goroutine. It is tried as an
// expression first, so "1 + 1" yields "2".
func (r *Runtime) Eval(src string) ([]string, error) {
	L := r.L
	fn, err := L.LoadString("return " + src)
	if err != nil {
		if fn, err = L.LoadString(src); err != nil {
			return nil, err
		}
	}
	top := L.GetTop()
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return nil, err
	}
	n := L.GetTop() - top
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, L.ToStringMeta(L.Get(top+i)).String())
	}
	L.Pop(n)
	return out, nil
}

// SetPrint replaces the global print function.
func (r *Runtime) SetPrint(fn func(string)) {
	r.L.SetGlobal("print", r.L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		fn(strings.Join(parts, "\t"))
		return 0
	}))
}

func (r *Runtime) loader(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"createHandle":    r.createHandle,
		"setHandler":      r.setHandler,
		"connect":         r.connect,
		"query":           r.query,
		"escape":          r.escape,
		"fetch":           r.fetch,
		"disconnect":      r.disconnect,
		"close":           r.close,
		"getEnv":          r.getEnv,
		"dumpOpenHandles": r.dumpOpenHandles,
	})
	L.SetField(mod, "VERSION", lua.LString(odbxuv.Version))

	mt := L.NewTypeMetatable(handleMeta)
	L.SetField(mt, "__index", mod)
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		obj := r.check(L, 1)
		h := obj.Handle()
		L.Push(lua.LString(fmt.Sprintf("odbxuv %s: %s", h.Kind(), h.ID())))
		return 1
	}))
	L.Push(mod)
	return 1
}

// wrap pushes a new userdata for obj.
func (r *Runtime) wrap(L *lua.LState, obj *odbxuv.Object) {
	ud := L.NewUserData()
	ud.Value = obj
	ud.Env = L.NewTable()
	obj.Env = ud.Env
	L.SetMetatable(ud, L.GetTypeMetatable(handleMeta))
	L.Push(ud)
}

// check returns the handle at n. Tables are accepted as wrappers when
// their userdata field holds the handle.
func (r *Runtime) check(L *lua.LState, n int) *odbxuv.Object {
	v := L.Get(n)
	if tb, ok := v.(*lua.LTable); ok {
		v = L.GetField(tb, "userdata")
	}
	if ud, ok := v.(*lua.LUserData); ok {
		if obj, ok := ud.Value.(*odbxuv.Object); ok {
			return obj
		}
	}
	L.ArgError(n, "odbxuv handle expected, got "+v.Type().String())
	return nil
}

func raise(L *lua.LState, err error) {
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
}

func (r *Runtime) createHandle(L *lua.LState) int {
	r.wrap(L, r.bridge.CreateHandle())
	return 1
}

func (r *Runtime) setHandler(L *lua.LState) int {
	obj := r.check(L, 1)
	name := L.CheckString(2)
	fn := L.CheckFunction(3)
	raise(L, r.bridge.SetHandler(obj, name, fn))
	return 0
}

func (r *Runtime) connect(L *lua.LState) int {
	obj := r.check(L, 1)
	params := odbxuv.ConnectParams{
		Backend:  L.CheckString(2),
		Host:     L.CheckString(3),
		Port:     L.OptString(4, ""),
		Database: L.CheckString(5),
		User:     L.CheckString(6),
		Password: L.CheckString(7),
		Method:   L.OptInt(8, 0),
	}
	raise(L, r.bridge.Connect(L, obj, params))
	return 0
}

func (r *Runtime) query(L *lua.LState) int {
	conn := r.check(L, 1)
	sql := L.CheckString(2)
	flags := L.OptInt(3, 0)
	q, err := r.bridge.Query(L, conn, sql, flags)
	raise(L, err)
	r.wrap(L, q)
	return 1
}

func (r *Runtime) escape(L *lua.LState) int {
	conn := r.check(L, 1)
	s := L.CheckString(2)
	e, err := r.bridge.Escape(L, conn, s)
	raise(L, err)
	r.wrap(L, e)
	return 1
}

func (r *Runtime) fetch(L *lua.LState) int {
	raise(L, r.bridge.Fetch(L, r.check(L, 1)))
	return 0
}

func (r *Runtime) disconnect(L *lua.LState) int {
	raise(L, r.bridge.Disconnect(L, r.check(L, 1)))
	return 0
}

func (r *Runtime) close(L *lua.LState) int {
	raise(L, r.bridge.Close(L, r.check(L, 1)))
	return 0
}

func (r *Runtime) getEnv(L *lua.LState) int {
	env, _ := r.bridge.GetEnv(r.check(L, 1)).(lua.LValue)
	if env == nil {
		env = lua.LNil
	}
	L.Push(env)
	return 1
}

func (r *Runtime) dumpOpenHandles(L *lua.LState) int {
	list := L.NewTable()
	for _, info := range r.bridge.DumpOpenHandles() {
		t := L.NewTable()
		L.SetField(t, "id", lua.LString(info.ID.String()))
		L.SetField(t, "kind", lua.LString(info.Kind.String()))
		L.SetField(t, "status", lua.LString(info.Status.String()))
		L.SetField(t, "refs", lua.LNumber(info.Refs))
		list.Append(t)
	}
	L.Push(list)
	return 1
}

// toLua converts a callback argument.
func (r *Runtime) toLua(L *lua.LState, v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case *odbxuv.AsyncError:
		return r.errorObject(L, v)
	case lua.LValue:
		return v
	default:
		return lua.LString(fmt.Sprint(v))
	}
}

// errorObject builds {message, code, type, source, path} with the global
// errorMeta as metatable when the script defines one.
func (r *Runtime) errorObject(L *lua.LState, e *odbxuv.AsyncError) *lua.LTable {
	t := L.NewTable()
	if mt, ok := L.GetGlobal("errorMeta").(*lua.LTable); ok {
		L.SetMetatable(t, mt)
	}
	if e.Path != "" {
		L.SetField(t, "path", lua.LString(e.Path))
	}
	L.SetField(t, "message", lua.LString(e.Message))
	switch code := e.Code.(type) {
	case string:
		L.SetField(t, "code", lua.LString(code))
	case int:
		L.SetField(t, "code", lua.LNumber(code))
	}
	L.SetField(t, "type", lua.LNumber(e.Type))
	L.SetField(t, "source", lua.LString(e.Source))
	return t
}
