package odbxuv

import "go.uber.org/zap"

// Event names a completion a script can subscribe to.
type Event int

const (
	EventConnect Event = iota
	EventDisconnect
	EventClose
	EventError
	EventQuery
	EventFetch
	EventRow
	EventFetched
	EventEscape
)

var eventNames = [...]string{
	EventConnect:    "connect",
	EventDisconnect: "disconnect",
	EventClose:      "close",
	EventError:      "error",
	EventQuery:      "query",
	EventFetch:      "fetch",
	EventRow:        "row",
	EventFetched:    "fetched",
	EventEscape:     "escape",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[e]
}

// ParseEvent looks up an event by its script name.
func ParseEvent(name string) (Event, bool) {
	for i, n := range eventNames {
		if n == name {
			return Event(i), true
		}
	}
	return 0, false
}

// SetHandler registers fn for the named event on obj, replacing any
// previous registration.
func (b *Bridge) SetHandler(obj *Object, name string, fn any) error {
	ev, ok := ParseEvent(name)
	if !ok {
		return usageError("setHandler", ErrUnknownEvent)
	}
	if !b.rt.Callable(fn) {
		return usageError("setHandler", ErrNotCallable)
	}
	obj.events[ev] = fn
	return nil
}

// Handler returns the callback registered for ev, if any.
func (o *Object) Handler(ev Event) (any, bool) {
	fn, ok := o.events[ev]
	return fn, ok
}

// emit delivers ev to the callback registered on the anchored wrapper of h.
// A missing callback only produces a diagnostic.
func (b *Bridge) emit(h *Handle, ev Event, args ...any) error {
	obj := b.resolve(h)
	fn, ok := obj.events[ev]
	if !ok || !b.rt.Callable(fn) {
		b.log.Warn("no callback function registered",
			zap.Stringer("event", ev),
			zap.Stringer("kind", h.kind),
			zap.Int("args", len(args)),
			zap.Any("found", fn))
		return nil
	}
	primary := b.rt.Primary()
	if origin := h.Origin(); origin != nil {
		fn, args = b.rt.Transfer(origin, primary, fn, args)
	}
	return b.rt.Invoke(primary, ev.String(), fn, args)
}
