package odbxuv

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Connection is the native connection struct of AsyncDriver.
type Connection struct {
	Native
	status ConnStatus
	closed bool
	worker serial

	// owned by the worker goroutine
	be     Backend
	cursor *QueryOp
}

// QueryOp is the native struct of one query and its result.
type QueryOp struct {
	Native
	conn   *Connection
	closed bool

	// owned by the worker goroutine
	cursor Cursor
}

// EscapeOp is the native struct of one escape request.
type EscapeOp struct {
	Native
	conn   *Connection
	closed bool
}

// AsyncDriver runs blocking backends on one serial worker goroutine per
// connection and delivers completions on the loop.
type AsyncDriver struct {
	loop     *Loop
	backends *Backends
	log      *zap.Logger
}

type DriverOption func(*AsyncDriver)

func WithBackends(b *Backends) DriverOption {
	return func(d *AsyncDriver) {
		d.backends = b
	}
}

func WithDriverLogger(l *zap.Logger) DriverOption {
	return func(d *AsyncDriver) {
		d.log = l
	}
}

func NewAsyncDriver(loop *Loop, opts ...DriverOption) *AsyncDriver {
	d := &AsyncDriver{loop: loop}
	for _, opt := range opts {
		opt(d)
	}
	if d.backends == nil {
		d.backends = NewBackends()
	}
	if d.log == nil {
		d.log = Logger()
	}
	return d
}

var _ Driver = (*AsyncDriver)(nil)

func (d *AsyncDriver) NewConnection() Resource {
	return &Connection{}
}

func (d *AsyncDriver) NewQuery(conn Resource) Resource {
	return &QueryOp{conn: conn.(*Connection)}
}

func (d *AsyncDriver) NewEscape(conn Resource) Resource {
	return &EscapeOp{conn: conn.(*Connection)}
}

func (d *AsyncDriver) Status(conn Resource) ConnStatus {
	c, ok := conn.(*Connection)
	if !ok {
		return ConnClosed
	}
	return c.status
}

func (d *AsyncDriver) connection(r Resource) (*Connection, error) {
	c, ok := r.(*Connection)
	if !ok || c == nil {
		return nil, nativeErrorf(ODBX_ERR_HANDLE, -1, "not a connection")
	}
	if c.closed {
		return nil, nativeErrorf(ODBX_ERR_HANDLE, -1, "connection is closed")
	}
	return c, nil
}

// request runs work on the worker of c and posts the continuation it
// returns to the loop. The loop is held until the continuation ran.
func (d *AsyncDriver) request(c *Connection, work func() Task) {
	d.loop.Hold()
	c.worker.Do(func() {
		done := work()
		d.post(func() error {
			defer d.loop.Release()
			return done()
		})
	})
}

func (d *AsyncDriver) post(t Task) {
	if err := d.loop.Submit(t); err != nil {
		d.log.Warn("dropping completion", zap.Error(err))
		d.loop.Release()
	}
}

func (d *AsyncDriver) Connect(conn Resource, params ConnectParams, done DoneFunc) error {
	c, err := d.connection(conn)
	if err != nil {
		return err
	}
	if c.status != ConnIdle {
		return nativeErrorf(ODBX_ERR_PARAM, 1, "connection is %s", c.status)
	}
	c.status = ConnConnecting
	d.request(c, func() Task {
		be, err := d.backends.Open(context.Background(), params)
		if err == nil {
			c.be = be
		}
		return func() error {
			if err != nil {
				c.status = ConnIdle
				return done(-1, toNativeError(err, -1))
			}
			c.status = ConnConnected
			return done(0, nil)
		}
	})
	return nil
}

func (d *AsyncDriver) Disconnect(conn Resource, done DoneFunc) error {
	c, err := d.connection(conn)
	if err != nil {
		return err
	}
	if c.status != ConnConnected {
		return nativeErrorf(ODBX_ERR_PARAM, 1, "connection is %s", c.status)
	}
	c.status = ConnDisconnecting
	d.request(c, func() Task {
		err := c.finish()
		return func() error {
			c.status = ConnIdle
			if err != nil {
				return done(-1, toNativeError(err, -1))
			}
			return done(0, nil)
		}
	})
	return nil
}

func (d *AsyncDriver) Query(conn, query Resource, sql string, flags int, done DoneFunc) error {
	c, err := d.connection(conn)
	if err != nil {
		return err
	}
	if c.status != ConnConnected {
		return nativeErrorf(ODBX_ERR_PARAM, 1, "connection is %s", c.status)
	}
	q := query.(*QueryOp)
	d.request(c, func() Task {
		// one active result per connection
		if c.cursor != nil {
			c.cursor.release()
		}
		var (
			cur Cursor
			err error
		)
		if c.be == nil {
			err = nativeErrorf(ODBX_ERR_HANDLE, -1, "connection is not bound")
		} else {
			cur, err = c.be.Query(context.Background(), sql, flags)
		}
		if err == nil {
			q.cursor = cur
			c.cursor = q
		}
		return func() error {
			if err != nil {
				return done(-1, toNativeError(err, 1))
			}
			return done(0, nil)
		}
	})
	return nil
}

func (d *AsyncDriver) Escape(conn, escape Resource, s string, done EscapeFunc) error {
	c, err := d.connection(conn)
	if err != nil {
		return err
	}
	if c.status != ConnConnected {
		return nativeErrorf(ODBX_ERR_PARAM, 1, "connection is %s", c.status)
	}
	d.request(c, func() Task {
		var (
			value string
			err   error
		)
		if c.be == nil {
			err = nativeErrorf(ODBX_ERR_HANDLE, -1, "connection is not bound")
		} else {
			value, err = c.be.Escape(s)
		}
		return func() error {
			if err != nil {
				return done("", -1, toNativeError(err, 1))
			}
			return done(value, 0, nil)
		}
	})
	return nil
}

// QueryProcess delivers every remaining row of query as its own loop task,
// followed by a nil row.
func (d *AsyncDriver) QueryProcess(query Resource, row RowFunc) error {
	q, ok := query.(*QueryOp)
	if !ok {
		return nativeErrorf(ODBX_ERR_HANDLE, -1, "not a query")
	}
	if q.closed || q.conn.closed {
		return nativeErrorf(ODBX_ERR_HANDLE, -1, "query is closed")
	}
	d.loop.Hold()
	q.conn.worker.Do(func() {
		if q.cursor == nil {
			err := nativeErrorf(ODBX_ERR_RESULT, 1, "query has no result")
			d.post(func() error {
				defer d.loop.Release()
				return row(nil, -1, err)
			})
			return
		}
		for {
			r, err := q.cursor.Next()
			if errors.Is(err, io.EOF) {
				d.post(func() error {
					defer d.loop.Release()
					return row(nil, 0, nil)
				})
				return
			}
			if err != nil {
				nerr := toNativeError(err, 1)
				d.post(func() error {
					defer d.loop.Release()
					return row(nil, -1, nerr)
				})
				return
			}
			if r == nil {
				r = Row{}
			}
			if err := d.loop.Submit(func() error {
				return row(r, 1, nil)
			}); err != nil {
				d.log.Warn("dropping row", zap.Error(err))
			}
		}
	})
	return nil
}

func (d *AsyncDriver) Close(r Resource, done CloseFunc) {
	switch r := r.(type) {
	case *Connection:
		r.closed = true
		d.request(r, func() Task {
			err := r.finish()
			return func() error {
				r.status = ConnClosed
				if err != nil {
					d.log.Warn("closing backend", zap.Error(err))
				}
				return done()
			}
		})
	case *QueryOp:
		r.closed = true
		d.request(r.conn, func() Task {
			r.release()
			return Task(done)
		})
	case *EscapeOp:
		r.closed = true
		d.request(r.conn, func() Task {
			return Task(done)
		})
	default:
		d.log.Error("close of unknown resource")
	}
}

func (d *AsyncDriver) Free(r Resource) {
	switch r := r.(type) {
	case *Connection:
		r.status = ConnClosed
	case *QueryOp:
		r.conn = nil
	case *EscapeOp:
		r.conn = nil
	}
}

// finish closes the backend. Worker goroutine only.
func (c *Connection) finish() error {
	if c.cursor != nil {
		c.cursor.release()
	}
	if c.be == nil {
		return nil
	}
	err := c.be.Close()
	c.be = nil
	return err
}

// release closes the result of q. Worker goroutine only.
func (q *QueryOp) release() {
	if q.cursor != nil {
		_ = q.cursor.Close()
		q.cursor = nil
	}
	if q.conn != nil && q.conn.cursor == q {
		q.conn.cursor = nil
	}
}

// serial runs jobs one at a time in submission order on a goroutine that
// exists only while jobs are queued.
type serial struct {
	mu      sync.Mutex
	jobs    []func()
	running bool
}

func (s *serial) Do(job func()) {
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	go s.drain()
}

func (s *serial) drain() {
	for {
		s.mu.Lock()
		if len(s.jobs) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		job := s.jobs[0]
		s.jobs[0] = nil
		s.jobs = s.jobs[1:]
		s.mu.Unlock()
		job()
	}
}
