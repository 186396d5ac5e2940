package odbxuv

// Context is an execution context of a script runtime. Contexts are
// compared by identity.
type Context any

// Runtime is implemented by script runtime adapters.
type Runtime interface {
	// Primary returns the context completions are delivered on.
	Primary() Context
	// Callable reports whether v can be invoked as a callback.
	Callable(v any) bool
	// Transfer moves fn and args from the from context onto the to context
	// and returns them as seen there.
	Transfer(from, to Context, fn any, args []any) (any, []any)
	// Invoke calls fn with args on ctx through the runtime's event source
	// trampoline. source is the name of the event being delivered. Args
	// are Go values (string, nil, int, *AsyncError) for the adapter to
	// convert.
	Invoke(ctx Context, source string, fn any, args []any) error
}
