package odbxuv

import (
	"runtime"
	"testing"
	"weak"

	"github.com/stretchr/testify/require"
)

func TestParseEvent(t *testing.T) {
	for _, name := range []string{"connect", "disconnect", "close", "error", "query", "fetch", "row", "fetched", "escape"} {
		ev, ok := ParseEvent(name)
		require.True(t, ok, name)
		require.Equal(t, name, ev.String())
	}
	_, ok := ParseEvent("rows")
	require.False(t, ok)
}

func TestSetHandler(t *testing.T) {
	h := newHarness(t)
	conn := h.b.CreateHandle()
	require.ErrorIs(t, h.b.SetHandler(conn, "explode", &fakeFn{}), ErrUnknownEvent)
	require.ErrorIs(t, h.b.SetHandler(conn, "connect", "not a function"), ErrNotCallable)

	first := &fakeFn{name: "first"}
	second := &fakeFn{name: "second"}
	require.Nil(t, h.b.SetHandler(conn, "connect", first))
	require.Nil(t, h.b.SetHandler(conn, "connect", second))
	fn, ok := conn.Handler(EventConnect)
	require.True(t, ok)
	require.Same(t, second, fn)
}

func TestEmit(t *testing.T) {
	t.Run("missing handler is only a diagnostic", func(t *testing.T) {
		h := newHarness(t)
		conn := h.b.CreateHandle()
		require.Nil(t, h.b.Connect(h.rt.primary, conn, ConnectParams{}))
		fr := h.native(conn)
		h.deliver(func() error { return fr.connectDone(0, nil) })

		entries := h.logs.FilterMessage("no callback function registered").All()
		require.Len(t, entries, 1)
		require.Equal(t, "connect", entries[0].ContextMap()["event"])
		require.Empty(t, h.errors)
		require.Equal(t, 0, conn.Handle().RefCount())
	})
	t.Run("handlers are not shared between handles", func(t *testing.T) {
		h := newHarness(t)
		a := h.b.CreateHandle()
		b := h.b.CreateHandle()
		h.on(a, "connect", nil)
		require.Nil(t, h.b.Connect(h.rt.primary, a, ConnectParams{}))
		require.Nil(t, h.b.Connect(h.rt.primary, b, ConnectParams{}))
		fa, fb := h.native(a), h.native(b)
		h.deliver(func() error { return fb.connectDone(0, nil) })
		require.Empty(t, h.rt.calls)
		h.deliver(func() error { return fa.connectDone(0, nil) })
		require.Equal(t, []string{"connect"}, h.rt.sources())
	})
	t.Run("callbacks run on the primary context", func(t *testing.T) {
		h := newHarness(t)
		conn := h.b.CreateHandle()
		h.record(conn, "connect")
		require.Nil(t, h.b.Connect(h.rt.primary, conn, ConnectParams{}))
		fr := h.native(conn)
		h.deliver(func() error { return fr.connectDone(0, nil) })
		require.Same(t, h.rt.primary, h.rt.calls[0].ctx)
		require.Empty(t, h.rt.transfers)
	})
	t.Run("secondary context is anchored and transferred from", func(t *testing.T) {
		h := newHarness(t)
		co := &fakeCtx{name: "coroutine"}
		conn := h.b.CreateHandle()
		h.record(conn, "connect")
		require.Nil(t, conn.Handle().Origin())
		require.Nil(t, h.b.Connect(co, conn, ConnectParams{}))
		require.Same(t, co, conn.Handle().Origin())
		require.Equal(t, 2, h.b.Registry().Len())
		var anchored []any
		h.b.Registry().Each(func(_ Token, v any) { anchored = append(anchored, v) })
		require.Contains(t, anchored, any(co))

		fr := h.native(conn)
		h.deliver(func() error { return fr.connectDone(0, nil) })
		require.Equal(t, []Context{co}, h.rt.transfers)
		require.Same(t, h.rt.primary, h.rt.calls[0].ctx)
		require.Equal(t, 0, h.b.Registry().Len())
		require.Nil(t, conn.Handle().Origin())
	})
	t.Run("idle handle does not keep its context alive", func(t *testing.T) {
		h := newHarness(t)
		co := &fakeCtx{name: "coroutine"}
		ref := weak.Make(co)
		conn := h.b.CreateHandle()
		h.record(conn, "connect")
		require.Nil(t, h.b.Connect(co, conn, ConnectParams{}))
		co = nil
		fr := h.native(conn)
		h.deliver(func() error { return fr.connectDone(0, nil) })
		h.rt.transfers = nil

		for i := 0; i < 10 && ref.Value() != nil; i++ {
			runtime.GC()
		}
		require.Nil(t, ref.Value())
		require.False(t, conn.Handle().Closed())
	})
	t.Run("callback error is reported and the reference released", func(t *testing.T) {
		h := newHarness(t)
		conn := h.b.CreateHandle()
		h.on(conn, "connect", func([]any) error { return errCallback })
		require.Nil(t, h.b.Connect(h.rt.primary, conn, ConnectParams{}))
		fr := h.native(conn)
		h.deliver(func() error { return fr.connectDone(0, nil) })
		require.Equal(t, []error{errCallback}, h.errors)
		require.Equal(t, 0, conn.Handle().RefCount())
		require.Equal(t, 0, h.b.Registry().Len())
	})
	t.Run("event source names the event", func(t *testing.T) {
		h := newHarness(t)
		conn := h.connected(h.rt.primary)
		q, err := h.b.Query(h.rt.primary, conn, "SELECT 1", 0)
		require.Nil(t, err)
		h.record(q, "error")
		fq := h.native(q)
		h.deliver(func() error {
			return fq.queryDone(-2, &NativeError{Code: -2, Message: "no capability"})
		})
		require.Equal(t, "error", h.rt.calls[0].source)
		errObj := h.rt.calls[0].args[0].(*AsyncError)
		require.Equal(t, "after_query", errObj.Source)
		require.Equal(t, "NOCAP", errObj.Code)
	})
}
