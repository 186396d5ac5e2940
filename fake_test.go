package odbxuv

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeCtx is an execution context of fakeRuntime.
type fakeCtx struct{ name string }

// fakeFn is a callable value of fakeRuntime.
type fakeFn struct {
	name string
	fn   func(args []any) error
}

type fakeCall struct {
	ctx    Context
	source string
	fn     string
	args   []any
}

type fakeRuntime struct {
	primary   *fakeCtx
	calls     []fakeCall
	transfers []Context
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{primary: &fakeCtx{name: "main"}}
}

func (r *fakeRuntime) Primary() Context { return r.primary }

func (r *fakeRuntime) Callable(v any) bool {
	f, ok := v.(*fakeFn)
	return ok && f != nil
}

func (r *fakeRuntime) Transfer(from, to Context, fn any, args []any) (any, []any) {
	r.transfers = append(r.transfers, from)
	return fn, args
}

func (r *fakeRuntime) Invoke(ctx Context, source string, fn any, args []any) error {
	f := fn.(*fakeFn)
	r.calls = append(r.calls, fakeCall{ctx: ctx, source: source, fn: f.name, args: args})
	if f.fn != nil {
		return f.fn(args)
	}
	return nil
}

func (r *fakeRuntime) sources() []string {
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.source)
	}
	return out
}

// fakeRes is a native resource whose completions are triggered by tests.
type fakeRes struct {
	Native
	kind   Kind
	conn   *fakeRes
	status ConnStatus
	closed bool
	freed  bool

	connectDone    DoneFunc
	disconnectDone DoneFunc
	queryDone      DoneFunc
	escapeDone     EscapeFunc
	rowFn          RowFunc
	closeDone      CloseFunc
}

type fakeDriver struct {
	created []*fakeRes
	frees   int
	// refuse makes the next request fail to be issued
	refuse *NativeError
}

var _ Driver = (*fakeDriver)(nil)

func (d *fakeDriver) res(kind Kind, conn Resource) *fakeRes {
	r := &fakeRes{kind: kind}
	if c, ok := conn.(*fakeRes); ok {
		r.conn = c
	}
	d.created = append(d.created, r)
	return r
}

func (d *fakeDriver) NewConnection() Resource          { return d.res(KindConnection, nil) }
func (d *fakeDriver) NewQuery(conn Resource) Resource  { return d.res(KindQuery, conn) }
func (d *fakeDriver) NewEscape(conn Resource) Resource { return d.res(KindEscape, conn) }

func (d *fakeDriver) Status(conn Resource) ConnStatus {
	return conn.(*fakeRes).status
}

func (d *fakeDriver) refused() error {
	if d.refuse == nil {
		return nil
	}
	err := d.refuse
	d.refuse = nil
	return err
}

func (d *fakeDriver) Connect(conn Resource, params ConnectParams, done DoneFunc) error {
	if err := d.refused(); err != nil {
		return err
	}
	r := conn.(*fakeRes)
	r.status = ConnConnecting
	r.connectDone = func(status int, nerr *NativeError) error {
		if status < 0 {
			r.status = ConnIdle
		} else {
			r.status = ConnConnected
		}
		return done(status, nerr)
	}
	return nil
}

func (d *fakeDriver) Disconnect(conn Resource, done DoneFunc) error {
	if err := d.refused(); err != nil {
		return err
	}
	r := conn.(*fakeRes)
	r.status = ConnDisconnecting
	r.disconnectDone = func(status int, nerr *NativeError) error {
		r.status = ConnIdle
		return done(status, nerr)
	}
	return nil
}

func (d *fakeDriver) Query(conn, query Resource, sql string, flags int, done DoneFunc) error {
	if err := d.refused(); err != nil {
		return err
	}
	query.(*fakeRes).queryDone = done
	return nil
}

func (d *fakeDriver) Escape(conn, escape Resource, s string, done EscapeFunc) error {
	if err := d.refused(); err != nil {
		return err
	}
	escape.(*fakeRes).escapeDone = done
	return nil
}

func (d *fakeDriver) QueryProcess(query Resource, row RowFunc) error {
	if err := d.refused(); err != nil {
		return err
	}
	query.(*fakeRes).rowFn = row
	return nil
}

func (d *fakeDriver) Close(r Resource, done CloseFunc) {
	fr := r.(*fakeRes)
	fr.closed = true
	fr.closeDone = done
}

func (d *fakeDriver) Free(r Resource) {
	fr := r.(*fakeRes)
	if fr.freed {
		panic("double free in driver")
	}
	fr.freed = true
	d.frees++
}

// harness wires a Bridge to the fakes and collects loop errors and logs.
type harness struct {
	t      *testing.T
	loop   *Loop
	rt     *fakeRuntime
	drv    *fakeDriver
	b      *Bridge
	logs   *observer.ObservedLogs
	errors []error
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{t: t, rt: newFakeRuntime(), drv: &fakeDriver{}, logs: logs}
	h.loop = NewLoop(WithTaskErrorHandler(func(err error) {
		h.errors = append(h.errors, err)
	}))
	opts = append([]Option{WithLogger(zap.New(core))}, opts...)
	h.b = New(h.loop, h.drv, h.rt, opts...)
	return h
}

// deliver runs a completion as a loop task and drains the loop.
func (h *harness) deliver(fn func() error) {
	h.t.Helper()
	require.Nil(h.t, h.loop.Submit(fn))
	require.Nil(h.t, h.loop.Run(context.Background()))
}

func (h *harness) native(obj *Object) *fakeRes {
	return obj.h.native.(*fakeRes)
}

// connected returns a connection handle whose connect already completed.
func (h *harness) connected(ctx Context) *Object {
	h.t.Helper()
	conn := h.b.CreateHandle()
	require.Nil(h.t, h.b.Connect(ctx, conn, ConnectParams{Backend: "fake"}))
	fr := h.native(conn)
	h.deliver(func() error { return fr.connectDone(0, nil) })
	require.Equal(h.t, ConnConnected, fr.status)
	return conn
}

func (h *harness) on(obj *Object, event string, fn func(args []any) error) {
	h.t.Helper()
	require.Nil(h.t, h.b.SetHandler(obj, event, &fakeFn{name: event, fn: fn}))
}

func (h *harness) record(obj *Object, events ...string) {
	h.t.Helper()
	for _, ev := range events {
		h.on(obj, ev, nil)
	}
}

var errCallback = errors.New("callback failed")
