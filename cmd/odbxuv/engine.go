package main

import (
	"fmt"

	odbxuv "github.com/Theintercooler/OpenDBX-uv-lua"
	"github.com/Theintercooler/OpenDBX-uv-lua/jsbind"
	"github.com/Theintercooler/OpenDBX-uv-lua/luabind"
	"github.com/dop251/goja"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

const (
	langLua = "lua"
	langJS  = "js"
)

// engine is the part of a script adapter the command drives.
type engine interface {
	Bridge() *odbxuv.Bridge
	// Exec queues a chunk on the loop.
	Exec(name, src string) error
	// Eval runs src on the loop goroutine.
	Eval(src string) ([]string, error)
	SetPrint(fn func(string))
	Close()
}

func newEngine(lang string, loop *odbxuv.Loop, log *zap.Logger) (engine, error) {
	driver := odbxuv.NewAsyncDriver(loop, odbxuv.WithDriverLogger(log))
	switch lang {
	case langLua:
		L := lua.NewState()
		return luaEngine{luabind.New(L, loop, driver, odbxuv.WithLogger(log))}, nil
	case langJS:
		return jsEngine{jsbind.New(goja.New(), loop, driver, odbxuv.WithLogger(log))}, nil
	default:
		return nil, fmt.Errorf("unknown language %q", lang)
	}
}

type luaEngine struct{ *luabind.Runtime }

func (e luaEngine) Close() { e.L.Close() }

type jsEngine struct{ *jsbind.Runtime }

func (e jsEngine) Close() { e.VM().Interrupt("closed") }
