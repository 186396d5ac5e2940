// Package jsbind exposes odbxuv to goja scripts as the native module
// "opendbxuv", loaded with require.
//
// A goja runtime has a single execution context, so callbacks are invoked
// where they were registered and Transfer is the identity.
package jsbind

import (
	"fmt"
	"os"
	"strings"

	odbxuv "github.com/Theintercooler/OpenDBX-uv-lua"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"go.uber.org/zap"
)

// ModuleName is the name scripts require.
const ModuleName = "opendbxuv"

// Runtime adapts a goja runtime. It is only used on the loop goroutine.
type Runtime struct {
	vm     *goja.Runtime
	bridge *odbxuv.Bridge
	out    func(string)
}

// New builds the bridge for vm and enables require, console and print.
func New(vm *goja.Runtime, loop *odbxuv.Loop, driver odbxuv.Driver, opts ...odbxuv.Option) *Runtime {
	r := &Runtime{vm: vm, out: func(s string) { fmt.Fprintln(os.Stdout, s) }}
	r.bridge = odbxuv.New(loop, driver, r, opts...)

	reg := require.NewRegistry()
	reg.RegisterNativeModule(ModuleName, r.loader)
	reg.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(printer{r}))
	reg.Enable(vm)
	console.Enable(vm)
	_ = vm.Set("print", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		r.out(strings.Join(parts, " "))
		return goja.Undefined()
	})
	return r
}

func (r *Runtime) Bridge() *odbxuv.Bridge { return r.bridge }

func (r *Runtime) VM() *goja.Runtime { return r.vm }

func (r *Runtime) Primary() odbxuv.Context { return r.vm }

func (r *Runtime) Callable(v any) bool {
	gv, ok := v.(goja.Value)
	if !ok {
		return false
	}
	_, ok = goja.AssertFunction(gv)
	return ok
}

func (r *Runtime) Transfer(from, to odbxuv.Context, fn any, args []any) (any, []any) {
	return fn, args
}

// Invoke calls eventSource(source, fn, ...args) when the script defines a
// global eventSource function, and fn(...args) otherwise.
func (r *Runtime) Invoke(ctx odbxuv.Context, source string, fn any, args []any) error {
	vm := ctx.(*goja.Runtime)
	callee, _ := goja.AssertFunction(fn.(goja.Value))
	jsargs := make([]goja.Value, 0, len(args)+2)
	if es, ok := goja.AssertFunction(vm.Get("eventSource")); ok {
		callee = es
		jsargs = append(jsargs, vm.ToValue(source), fn.(goja.Value))
	}
	for _, a := range args {
		jsargs = append(jsargs, r.toJS(a))
	}
	_, err := callee(goja.Undefined(), jsargs...)
	return err
}

// Exec queues src to run on the loop.
func (r *Runtime) Exec(name, src string) error {
	return r.bridge.Loop().Submit(func() error {
		_, err := r.vm.RunScript(name, src)
		return err
	})
}

// Eval runs src on the calling (loop) goroutine and returns its completion
// value.
func (r *Runtime) Eval(src string) ([]string, error) {
	v, err := r.vm.RunString(src)
	if err != nil {
		return nil, err
	}
	if v == nil || goja.IsUndefined(v) {
		return nil, nil
	}
	return []string{v.String()}, nil
}

// SetPrint redirects print and console output.
func (r *Runtime) SetPrint(fn func(string)) {
	r.out = fn
}

type printer struct{ r *Runtime }

func (p printer) Log(s string) { p.r.out(s) }

func (p printer) Warn(s string) {
	p.r.bridge.Logger().Warn("console", zap.String("message", s))
	p.r.out(s)
}

func (p printer) Error(s string) {
	p.r.bridge.Logger().Error("console", zap.String("message", s))
	p.r.out(s)
}

func (r *Runtime) loader(vm *goja.Runtime, module *goja.Object) {
	exports := module.Get("exports").(*goja.Object)
	_ = exports.Set("VERSION", odbxuv.Version)

	_ = exports.Set("createHandle", func(call goja.FunctionCall) goja.Value {
		return r.wrap(r.bridge.CreateHandle())
	})
	_ = exports.Set("setHandler", func(call goja.FunctionCall) goja.Value {
		obj := r.check(call, 0)
		fn := call.Argument(2)
		if _, ok := goja.AssertFunction(fn); !ok {
			panic(vm.NewTypeError("setHandler: argument 3 must be a function"))
		}
		r.raise(r.bridge.SetHandler(obj, call.Argument(1).String(), fn))
		return goja.Undefined()
	})
	_ = exports.Set("connect", func(call goja.FunctionCall) goja.Value {
		obj := r.check(call, 0)
		params := odbxuv.ConnectParams{
			Backend:  str(call, 1),
			Host:     str(call, 2),
			Port:     str(call, 3),
			Database: str(call, 4),
			User:     str(call, 5),
			Password: str(call, 6),
			Method:   int(call.Argument(7).ToInteger()),
		}
		r.raise(r.bridge.Connect(vm, obj, params))
		return goja.Undefined()
	})
	_ = exports.Set("query", func(call goja.FunctionCall) goja.Value {
		conn := r.check(call, 0)
		q, err := r.bridge.Query(vm, conn, str(call, 1), int(call.Argument(2).ToInteger()))
		r.raise(err)
		return r.wrap(q)
	})
	_ = exports.Set("escape", func(call goja.FunctionCall) goja.Value {
		conn := r.check(call, 0)
		e, err := r.bridge.Escape(vm, conn, str(call, 1))
		r.raise(err)
		return r.wrap(e)
	})
	_ = exports.Set("fetch", func(call goja.FunctionCall) goja.Value {
		r.raise(r.bridge.Fetch(vm, r.check(call, 0)))
		return goja.Undefined()
	})
	_ = exports.Set("disconnect", func(call goja.FunctionCall) goja.Value {
		r.raise(r.bridge.Disconnect(vm, r.check(call, 0)))
		return goja.Undefined()
	})
	_ = exports.Set("close", func(call goja.FunctionCall) goja.Value {
		r.raise(r.bridge.Close(vm, r.check(call, 0)))
		return goja.Undefined()
	})
	_ = exports.Set("getEnv", func(call goja.FunctionCall) goja.Value {
		env, _ := r.bridge.GetEnv(r.check(call, 0)).(*goja.Object)
		if env == nil {
			return goja.Undefined()
		}
		return env
	})
	_ = exports.Set("dumpOpenHandles", func(call goja.FunctionCall) goja.Value {
		infos := r.bridge.DumpOpenHandles()
		list := make([]any, 0, len(infos))
		for _, info := range infos {
			list = append(list, map[string]any{
				"id":     info.ID.String(),
				"kind":   info.Kind.String(),
				"status": info.Status.String(),
				"refs":   info.Refs,
			})
		}
		return vm.ToValue(list)
	})
}

func (r *Runtime) wrap(obj *odbxuv.Object) goja.Value {
	obj.Env = r.vm.NewObject()
	return r.vm.ToValue(obj)
}

func (r *Runtime) check(call goja.FunctionCall, n int) *odbxuv.Object {
	if obj, ok := call.Argument(n).Export().(*odbxuv.Object); ok && obj != nil {
		return obj
	}
	panic(r.vm.NewTypeError(fmt.Sprintf("argument %d must be an odbxuv handle", n+1)))
}

func (r *Runtime) raise(err error) {
	if err != nil {
		panic(r.vm.NewGoError(err))
	}
}

func str(call goja.FunctionCall, n int) string {
	v := call.Argument(n)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func (r *Runtime) toJS(v any) goja.Value {
	switch v := v.(type) {
	case nil:
		return goja.Null()
	case *odbxuv.AsyncError:
		return r.errorObject(v)
	case goja.Value:
		return v
	default:
		return r.vm.ToValue(v)
	}
}

// errorObject builds {message, code, type, source, path}. A global
// errorMeta object becomes its prototype.
func (r *Runtime) errorObject(e *odbxuv.AsyncError) *goja.Object {
	o := r.vm.NewObject()
	if proto, ok := r.vm.Get("errorMeta").(*goja.Object); ok {
		_ = o.SetPrototype(proto)
	}
	if e.Path != "" {
		_ = o.Set("path", e.Path)
	}
	_ = o.Set("message", e.Message)
	_ = o.Set("code", e.Code)
	_ = o.Set("type", e.Type)
	_ = o.Set("source", e.Source)
	return o
}
