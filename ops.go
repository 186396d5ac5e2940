package odbxuv

import (
	"fmt"

	"go.uber.org/zap"
)

// CreateHandle allocates a new connection handle.
func (b *Bridge) CreateHandle() *Object {
	return b.newObject(KindConnection, b.driver.NewConnection())
}

// GetEnv returns the private side table of obj.
func (b *Bridge) GetEnv(obj *Object) any {
	return obj.Env
}

func (b *Bridge) check(op string, obj *Object, kind Kind) (*Handle, error) {
	if obj == nil || obj.h == nil {
		return nil, usageError(op, ErrNotHandle)
	}
	h := obj.h
	if h.kind != kind {
		return nil, usageError(op, fmt.Errorf("%w: want %s, got %s", ErrWrongKind, kind, h.kind))
	}
	if h.native == nil {
		return nil, usageError(op, ErrAlreadyClosed)
	}
	return h, nil
}

func (b *Bridge) checkConnected(op string, obj *Object) (*Handle, error) {
	h, err := b.check(op, obj, KindConnection)
	if err != nil {
		return nil, err
	}
	if b.driver.Status(h.native) != ConnConnected {
		return nil, usageError(op, ErrNotConnected)
	}
	return h, nil
}

// Connect binds the connection to a database. "connect" or "error" fires
// on completion. ctx is the context issuing the request.
func (b *Bridge) Connect(ctx Context, conn *Object, params ConnectParams) error {
	h, err := b.check("connect", conn, KindConnection)
	if err != nil {
		return err
	}
	native := h.native
	if err := b.driver.Connect(native, params, func(status int, nerr *NativeError) error {
		return b.complete(native, "after_connect", EventConnect, status, nerr)
	}); err != nil {
		return enqueueError("connect", err)
	}
	b.addRef(h, ctx)
	return nil
}

// Disconnect unbinds a connected connection. "disconnect" or "error" fires
// on completion.
func (b *Bridge) Disconnect(ctx Context, conn *Object) error {
	h, err := b.checkConnected("disconnect", conn)
	if err != nil {
		return err
	}
	native := h.native
	if err := b.driver.Disconnect(native, func(status int, nerr *NativeError) error {
		return b.complete(native, "after_disconnect", EventDisconnect, status, nerr)
	}); err != nil {
		return enqueueError("disconnect", err)
	}
	b.addRef(h, ctx)
	return nil
}

// Query issues sql on a connected connection and returns the query handle.
// "query" or "error" fires on the query handle on completion.
func (b *Bridge) Query(ctx Context, conn *Object, sql string, flags int) (*Object, error) {
	h, err := b.checkConnected("query", conn)
	if err != nil {
		return nil, err
	}
	q := b.newObject(KindQuery, b.driver.NewQuery(h.native))
	q.h.conn = h
	native := q.h.native
	if err := b.driver.Query(h.native, native, sql, flags, func(status int, nerr *NativeError) error {
		return b.completeOp(native, "after_query", EventQuery, status, nerr)
	}); err != nil {
		b.discard(q.h)
		return nil, enqueueError("query", err)
	}
	b.addRef(q.h, ctx)
	b.addRef(h, ctx)
	return q, nil
}

// Escape quotes s for the connection's backend and returns the escape
// handle. "escape" fires with the escaped value.
func (b *Bridge) Escape(ctx Context, conn *Object, s string) (*Object, error) {
	h, err := b.checkConnected("escape", conn)
	if err != nil {
		return nil, err
	}
	e := b.newObject(KindEscape, b.driver.NewEscape(h.native))
	e.h.conn = h
	native := e.h.native
	if err := b.driver.Escape(h.native, native, s, func(value string, status int, nerr *NativeError) error {
		return b.completeOp(native, "after_escape", EventEscape, status, nerr, value)
	}); err != nil {
		b.discard(e.h)
		return nil, enqueueError("escape", err)
	}
	b.addRef(e.h, ctx)
	b.addRef(h, ctx)
	return e, nil
}

// Fetch streams the rows of a completed query: "fetch" once, "row" per
// row, then "fetched". A failure fires "error" and ends the stream.
func (b *Bridge) Fetch(ctx Context, query *Object) error {
	h, err := b.check("fetch", query, KindQuery)
	if err != nil {
		return err
	}
	if h.fetching {
		return usageError("fetch", ErrFetchInProgress)
	}
	b.addRef(h, ctx)
	h.fetching = true
	h.fetchEmitted = false
	native := h.native
	if err := b.driver.QueryProcess(native, func(row Row, status int, nerr *NativeError) error {
		return b.onRow(native, row, status, nerr)
	}); err != nil {
		h.fetching = false
		b.release(h)
		return enqueueError("fetch", err)
	}
	return nil
}

func (b *Bridge) onRow(native Resource, row Row, status int, nerr *NativeError) error {
	h := b.completed(native, "after_fetch")
	if h == nil {
		return nil
	}
	if status < 0 {
		h.fetching = false
		defer b.release(h)
		return b.emit(h, EventError, NewAsyncError(nerr, "after_fetch", ""))
	}
	if row == nil {
		h.fetching = false
		defer b.release(h)
		if err := b.fetchOnce(h); err != nil {
			return err
		}
		return b.emit(h, EventFetched)
	}
	if err := b.fetchOnce(h); err != nil {
		return err
	}
	return b.emit(h, EventRow, row...)
}

func (b *Bridge) fetchOnce(h *Handle) error {
	if h.fetchEmitted {
		return nil
	}
	h.fetchEmitted = true
	return b.emit(h, EventFetch)
}

// completed follows the back-pointer of a finished request.
func (b *Bridge) completed(native Resource, source string) *Handle {
	h := handleOf(native)
	if h == nil {
		b.log.Warn("completion for detached resource", zap.String("source", source))
	}
	return h
}

// complete finishes a request issued on a handle and releases its
// reference, also when the callback fails.
func (b *Bridge) complete(native Resource, source string, ev Event, status int, nerr *NativeError, args ...any) error {
	h := b.completed(native, source)
	if h == nil {
		return nil
	}
	defer b.release(h)
	if status < 0 {
		return b.emit(h, EventError, NewAsyncError(nerr, source, ""))
	}
	return b.emit(h, ev, args...)
}

// completeOp is complete for operation handles, which also hold a
// reference on their connection.
func (b *Bridge) completeOp(native Resource, source string, ev Event, status int, nerr *NativeError, args ...any) error {
	h := handleOf(native)
	if h != nil && h.conn != nil {
		defer b.release(h.conn)
	}
	return b.complete(native, source, ev, status, nerr, args...)
}
