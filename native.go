package odbxuv

import "weak"

// ConnStatus is the state of a native connection.
type ConnStatus int

const (
	ConnIdle ConnStatus = iota
	ConnConnecting
	ConnConnected
	ConnDisconnecting
	ConnClosed
)

func (s ConnStatus) String() string {
	switch s {
	case ConnIdle:
		return "idle"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnecting:
		return "disconnecting"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectParams describes the database a connection binds to.
type ConnectParams struct {
	Backend  string
	Host     string
	Port     string
	Database string
	User     string
	Password string
	Method   int
}

// Row is one result row; cells are strings or nil for NULL.
type Row []any

// Native is embedded by every native resource struct. It carries the
// non-owning link back to the Handle that owns the resource.
type Native struct {
	data weak.Pointer[Handle]
}

func (n *Native) native() *Native { return n }

func (n *Native) attach(h *Handle) { n.data = weak.Make(h) }

func (n *Native) detach() { n.data = weak.Pointer[Handle]{} }

func (n *Native) handle() *Handle { return n.data.Value() }

// Resource is a native struct owned by exactly one Handle.
type Resource interface {
	native() *Native
}

// handleOf follows the back-pointer of r. It returns nil once the handle
// was detached or freed.
func handleOf(r Resource) *Handle {
	if r == nil {
		return nil
	}
	return r.native().handle()
}

// Completion callbacks run on the loop goroutine. status is negative on
// failure, in which case err describes the failure. A returned error is
// reported by the loop.
type (
	DoneFunc   func(status int, err *NativeError) error
	EscapeFunc func(value string, status int, err *NativeError) error
	// RowFunc is called once per row and once more with a nil row when the
	// result is exhausted. It is not called again after a failure.
	RowFunc   func(row Row, status int, err *NativeError) error
	CloseFunc func() error
)

// Driver is the asynchronous native database library driven by a Bridge.
// Requests return an error only when they cannot be issued at all; every
// accepted request completes exactly once through its callback.
type Driver interface {
	NewConnection() Resource
	NewQuery(conn Resource) Resource
	NewEscape(conn Resource) Resource
	Status(conn Resource) ConnStatus

	Connect(conn Resource, params ConnectParams, done DoneFunc) error
	Query(conn, query Resource, sql string, flags int, done DoneFunc) error
	Escape(conn, escape Resource, s string, done EscapeFunc) error
	QueryProcess(query Resource, row RowFunc) error
	Disconnect(conn Resource, done DoneFunc) error

	// Close is always accepted and completes after every request already
	// queued on the resource.
	Close(r Resource, done CloseFunc)
	// Free releases the resource after its close completed.
	Free(r Resource)
}
