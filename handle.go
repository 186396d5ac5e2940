package odbxuv

import (
	"runtime"
	"weak"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind identifies the native struct a Handle owns.
type Kind int

const (
	KindConnection Kind = iota
	KindQuery
	KindEscape
	KindDisconnect
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindQuery:
		return "query"
	case KindEscape:
		return "escape"
	case KindDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of a Handle. A freed handle keeps its last
// status and has no native resource.
type Status int

const (
	StatusOpen Status = iota
	StatusClosing
	StatusClosedWaitingRefs
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	case StatusClosedWaitingRefs:
		return "closed_waiting_refs"
	default:
		return "unknown"
	}
}

// Handle is the bridge side of a script-visible wrapper. It owns one
// native resource and counts the asynchronous operations that still need
// the wrapper. All fields are confined to the loop goroutine.
type Handle struct {
	id     uuid.UUID
	seq    uint64
	kind   Kind
	bridge *Bridge

	native    Resource
	refCount  int
	anchor    Token
	ctxAnchor Token
	status    Status
	wrapper   weak.Pointer[Object]

	// closeRef is set while close() holds its own reference.
	closeRef bool
	// conn is the owning connection of a query or escape handle.
	conn *Handle

	fetching     bool
	fetchEmitted bool
}

// ID identifies the handle in diagnostics.
func (h *Handle) ID() uuid.UUID { return h.id }

// Kind reports which native struct the handle owns.
func (h *Handle) Kind() Kind { return h.kind }

// Status reports the lifecycle state.
func (h *Handle) Status() Status { return h.status }

// RefCount reports the number of outstanding operations.
func (h *Handle) RefCount() int { return h.refCount }

// Closed reports whether the native resource was freed.
func (h *Handle) Closed() bool { return h.native == nil }

// Anchored reports whether the wrapper is held by the registry.
func (h *Handle) Anchored() bool { return h.anchor != NoToken }

// Origin returns the secondary context anchored together with the
// outstanding work, or nil when there is none.
func (h *Handle) Origin() Context {
	if h.ctxAnchor == NoToken {
		return nil
	}
	ctx, _ := h.bridge.registry.Resolve(h.ctxAnchor)
	return ctx
}

// Object is the script-visible wrapper. Adapters keep it inside their
// script value; it holds the per-handle callbacks and side table.
type Object struct {
	h      *Handle
	events map[Event]any
	// Env is the private side table returned by getEnv.
	Env any
}

// Handle returns the bridge side of the wrapper.
func (o *Object) Handle() *Handle { return o.h }

// newObject wraps native in a fresh handle. The wrapper is finalized by the
// collector if the script drops it without closing. The handle keeps no
// reference to the context it was created on.
func (b *Bridge) newObject(kind Kind, native Resource) *Object {
	b.seq++
	h := &Handle{
		id:     uuid.New(),
		seq:    b.seq,
		kind:   kind,
		bridge: b,
		native: native,
		status: StatusOpen,
	}
	obj := &Object{h: h, events: make(map[Event]any)}
	h.wrapper = weak.Make(obj)
	native.native().attach(h)
	b.open[h] = struct{}{}
	runtime.AddCleanup(obj, collected, h)
	return obj
}

// collected runs on the cleanup goroutine once a wrapper is unreachable.
func collected(h *Handle) {
	b := h.bridge
	if err := b.loop.Submit(func() error {
		b.finalize(h)
		return nil
	}); err != nil {
		b.log.Warn("dropping finalization, loop terminated",
			zap.Stringer("kind", h.kind), zap.Stringer("handle", h.id))
	}
}

// addRef records one more outstanding operation issued from ctx. The first
// reference anchors the wrapper, and ctx when it is not primary. Completions
// are delivered from the anchored context until the count drops to zero.
func (b *Bridge) addRef(h *Handle, ctx Context) {
	if h.refCount >= b.refCeiling {
		invariant("%s handle %s exceeds %d references", h.kind, h.id, b.refCeiling)
	}
	if h.refCount == 0 {
		obj := h.wrapper.Value()
		if obj == nil {
			invariant("reference taken on collected %s handle %s", h.kind, h.id)
		}
		h.anchor = b.registry.Anchor(obj)
		if ctx != nil && ctx != b.rt.Primary() {
			h.ctxAnchor = b.registry.Anchor(ctx)
		}
	}
	h.refCount++
}

// release drops one reference. At zero the anchors go away and a deferred
// free is carried out.
func (b *Bridge) release(h *Handle) {
	h.refCount--
	if h.refCount < 0 {
		invariant("negative reference count on %s handle %s", h.kind, h.id)
	}
	if h.refCount > 0 {
		return
	}
	b.registry.Release(h.anchor)
	h.anchor = NoToken
	if h.ctxAnchor != NoToken {
		b.registry.Release(h.ctxAnchor)
		h.ctxAnchor = NoToken
	}
	if h.status == StatusClosedWaitingRefs && h.native != nil {
		b.free(h)
	}
}

// resolve returns the anchored wrapper of h.
func (b *Bridge) resolve(h *Handle) *Object {
	if h.anchor == NoToken {
		invariant("event on unanchored %s handle %s", h.kind, h.id)
	}
	v, ok := b.registry.Resolve(h.anchor)
	if !ok {
		invariant("anchor %d of %s handle %s is gone", h.anchor, h.kind, h.id)
	}
	return v.(*Object)
}
