package odbxuv

import (
	"context"
	"io"
)

// odbxBackend is a session of the native OpenDBX library.
type odbxBackend struct {
	h      OdbxHandle
	bound  bool
	active *odbxCursor
}

func openODBX(ctx context.Context, params ConnectParams) (Backend, error) {
	if err := InitLibrary(); err != nil {
		return nil, nativeErrorf(ODBX_ERR_NOTEXIST, -1, "%s: %v", params.Backend, err)
	}
	h, err := odbx_init(params.Backend, params.Host, params.Port)
	if err != nil {
		return nil, err
	}
	if err := odbx_bind(h, params.Database, params.User, params.Password, params.Method); err != nil {
		_ = odbx_finish(h)
		return nil, err
	}
	return &odbxBackend{h: h, bound: true}, nil
}

func (b *odbxBackend) Query(ctx context.Context, sql string, flags int) (Cursor, error) {
	if b.active != nil {
		_ = b.active.Close()
	}
	if err := odbx_query(b.h, sql); err != nil {
		return nil, err
	}
	cur := &odbxCursor{b: b}
	if err := cur.advance(); err != nil {
		_ = cur.Close()
		return nil, err
	}
	b.active = cur
	return cur, nil
}

func (b *odbxBackend) Escape(s string) (string, error) {
	return odbx_escape(b.h, s)
}

func (b *odbxBackend) Close() error {
	if b.h == nil {
		return nil
	}
	if b.active != nil {
		_ = b.active.Close()
	}
	var err error
	if b.bound {
		err = odbx_unbind(b.h)
		b.bound = false
	}
	if ferr := odbx_finish(b.h); err == nil {
		err = ferr
	}
	b.h = nil
	return err
}

// odbxCursor streams rows straight from the library. Results without rows
// are skipped; the cursor ends when odbx_result reports done.
type odbxCursor struct {
	b       *odbxBackend
	res     OdbxResult
	columns []string
	done    bool
}

// advance moves to the next result set carrying rows.
func (c *odbxCursor) advance() error {
	for {
		code, res, err := odbx_result(c.b.h)
		if err != nil {
			return err
		}
		switch code {
		case ODBX_RES_DONE:
			c.done = true
			return nil
		case ODBX_RES_TIMEOUT:
			continue
		case ODBX_RES_NOROWS:
			odbx_result_finish(res)
			continue
		case ODBX_RES_ROWS:
			c.res = res
			n := odbx_column_count(res)
			c.columns = make([]string, n)
			for i := range n {
				c.columns[i] = odbx_column_name(res, i)
			}
			return nil
		default:
			odbx_result_finish(res)
			return nativeErrorf(ODBX_ERR_RESULT, 1, "unexpected result code %d", code)
		}
	}
}

func (c *odbxCursor) Columns() []string { return c.columns }

func (c *odbxCursor) Next() (Row, error) {
	for !c.done {
		if c.res == nil {
			if err := c.advance(); err != nil {
				return nil, err
			}
			continue
		}
		more, err := odbx_row_fetch(c.b.h, c.res)
		if err != nil {
			return nil, err
		}
		if !more {
			odbx_result_finish(c.res)
			c.res = nil
			continue
		}
		row := make(Row, len(c.columns))
		for i := range row {
			row[i] = odbx_field_value(c.res, i)
		}
		return row, nil
	}
	return nil, io.EOF
}

// Close drains the remaining results so the session accepts a new query.
func (c *odbxCursor) Close() error {
	var err error
	for !c.done && err == nil {
		if c.res != nil {
			odbx_result_finish(c.res)
			c.res = nil
		}
		err = c.advance()
	}
	if c.res != nil {
		odbx_result_finish(c.res)
		c.res = nil
	}
	c.done = true
	if c.b.active == c {
		c.b.active = nil
	}
	return err
}
