package odbxuv

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Backend is a blocking database session. It is only used from the
// worker goroutine of its connection.
type Backend interface {
	Query(ctx context.Context, sql string, flags int) (Cursor, error)
	Escape(s string) (string, error)
	Close() error
}

// Cursor walks the rows of one result. Next returns io.EOF once the rows
// are exhausted.
type Cursor interface {
	Columns() []string
	Next() (Row, error)
	Close() error
}

// Opener connects a Backend for the given parameters.
type Opener func(ctx context.Context, params ConnectParams) (Backend, error)

// NativePrefix forces a backend name to be served by the OpenDBX library.
const NativePrefix = "odbx:"

// Backends resolves backend names to openers. Names without a registered
// opener fall back to the OpenDBX library.
type Backends struct {
	mu       sync.RWMutex
	openers  map[string]Opener
	fallback Opener
}

func NewBackends() *Backends {
	b := &Backends{
		openers:  make(map[string]Opener),
		fallback: openODBX,
	}
	b.Register("sqlite3", openSQLite)
	return b
}

func (b *Backends) Register(name string, o Opener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openers[name] = o
}

func (b *Backends) Open(ctx context.Context, params ConnectParams) (Backend, error) {
	if name, ok := strings.CutPrefix(params.Backend, NativePrefix); ok {
		params.Backend = name
		return b.fallback(ctx, params)
	}
	b.mu.RLock()
	o, ok := b.openers[params.Backend]
	b.mu.RUnlock()
	if !ok {
		o = b.fallback
	}
	return o(ctx, params)
}

// toNativeError classifies an error returned by a backend.
func toNativeError(err error, typ int) *NativeError {
	var nerr *NativeError
	if errors.As(err, &nerr) {
		return nerr
	}
	return &NativeError{Code: -int(ODBX_ERR_BACKEND), Type: typ, Message: err.Error()}
}
