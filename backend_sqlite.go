package odbxuv

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// sqliteBackend serves the "sqlite3" backend name. As with OpenDBX, host
// is the directory and database the file name inside it.
type sqliteBackend struct {
	db *sqlx.DB
}

func sqliteDSN(params ConnectParams) (string, error) {
	db := params.Database
	switch {
	case db == "":
		return "", nativeErrorf(ODBX_ERR_PARAM, -1, "sqlite3: missing database name")
	case db == ":memory:", strings.HasPrefix(db, "file:"):
		return db, nil
	case filepath.IsAbs(db) || params.Host == "":
		return db, nil
	default:
		return filepath.Join(params.Host, db), nil
	}
}

func openSQLite(ctx context.Context, params ConnectParams) (Backend, error) {
	dsn, err := sqliteDSN(params)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// a single session keeps :memory: databases and results consistent
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteBackend{db: db}, nil
}

// Query runs sql and buffers the complete result, so the connection is
// free again as soon as the query completes.
func (b *sqliteBackend) Query(ctx context.Context, sql string, flags int) (Cursor, error) {
	rows, err := b.db.QueryxContext(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	cur := &rowsCursor{columns: cols}
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		row := make(Row, len(vals))
		for i, v := range vals {
			row[i] = cellString(v)
		}
		cur.rows = append(cur.rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cur, nil
}

func (b *sqliteBackend) Escape(s string) (string, error) {
	if strings.IndexByte(s, 0) >= 0 {
		return "", nativeErrorf(ODBX_ERR_PARAM, 1, "sqlite3: string contains NUL")
	}
	return strings.ReplaceAll(s, "'", "''"), nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}

// rowsCursor iterates a buffered result.
type rowsCursor struct {
	columns []string
	rows    []Row
	pos     int
}

func (c *rowsCursor) Columns() []string { return c.columns }

func (c *rowsCursor) Next() (Row, error) {
	if c.pos >= len(c.rows) {
		return nil, io.EOF
	}
	r := c.rows[c.pos]
	c.rows[c.pos] = nil
	c.pos++
	return r, nil
}

func (c *rowsCursor) Close() error {
	c.rows = nil
	c.pos = 0
	return nil
}

// cellString renders a scanned value as an opaque string cell.
func cellString(v any) any {
	switch v := v.(type) {
	case nil:
		return nil
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case time.Time:
		return v.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(v)
	}
}
