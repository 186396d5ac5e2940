package odbxuv

import "go.uber.org/zap"

// Handle lifecycle:
//
//	from                 trigger                     to
//	OPEN                 close()                     CLOSING (own reference taken)
//	OPEN                 finalize()                  CLOSING (references collapsed, back-pointer detached)
//	CLOSING              native closed, others > 0   CLOSED_WAITING_REFS
//	CLOSING              native closed, no others    freed
//	CLOSED_WAITING_REFS  last release                freed
//	CLOSED_WAITING_REFS  finalize()                  freed
//
// Freed is terminal: native is nil and every operation reports
// ErrAlreadyClosed.

// Close starts closing obj from ctx. The "close" event fires once the native
// resource is closed; the native free waits for outstanding operations.
func (b *Bridge) Close(ctx Context, obj *Object) error {
	h := obj.h
	if h.native == nil {
		return usageError("close", ErrAlreadyClosed)
	}
	if h.status != StatusOpen {
		return usageError("close", ErrAlreadyClosing)
	}
	b.addRef(h, ctx)
	h.closeRef = true
	h.status = StatusClosing
	b.driver.Close(h.native, func() error {
		return b.onNativeClosed(h)
	})
	return nil
}

func (b *Bridge) onNativeClosed(h *Handle) error {
	if h.native == nil {
		invariant("close completed on freed %s handle %s", h.kind, h.id)
	}
	if !h.closeRef {
		// closed by the collector, nobody is listening
		if h.refCount > 0 {
			h.status = StatusClosedWaitingRefs
			return nil
		}
		b.free(h)
		return nil
	}
	h.closeRef = false
	if h.refCount > 1 {
		h.status = StatusClosedWaitingRefs
		defer b.release(h)
	} else {
		defer func() {
			b.release(h)
			b.free(h)
		}()
	}
	return b.emit(h, EventClose)
}

// finalize runs when the collector found the wrapper of h unreachable.
func (b *Bridge) finalize(h *Handle) {
	if h.native == nil {
		return
	}
	switch h.status {
	case StatusClosing:
		return
	case StatusClosedWaitingRefs:
		b.collapseRefs(h)
		if h.native != nil {
			b.free(h)
		}
	case StatusOpen:
		b.log.Warn("forgot to close handle",
			zap.Stringer("kind", h.kind),
			zap.Stringer("handle", h.id),
			zap.Int("refs", h.refCount))
		h.native.native().detach()
		h.status = StatusClosing
		b.driver.Close(h.native, func() error {
			return b.onNativeClosed(h)
		})
		b.collapseRefs(h)
	}
}

func (b *Bridge) collapseRefs(h *Handle) {
	if h.refCount > 0 {
		h.refCount = 1
		b.release(h)
	}
}

// free releases the native resource. It happens exactly once per handle.
func (b *Bridge) free(h *Handle) {
	if h.native == nil {
		invariant("double free of %s handle %s", h.kind, h.id)
	}
	h.native.native().detach()
	b.driver.Free(h.native)
	h.native = nil
	delete(b.open, h)
}

// discard frees a handle whose first request could not be issued.
func (b *Bridge) discard(h *Handle) {
	h.status = StatusClosing
	b.free(h)
}
