// Package odbxuv bridges garbage-collected script runtimes to an
// asynchronous database driver.
//
// Scripts own Handles (connections and in-flight operations). Native
// completions arrive on the Loop goroutine and are delivered to callbacks
// registered per handle. A handle stays anchored in the Registry for as
// long as native work still needs it, and is closed by the collector when
// a script drops it without calling close.
package odbxuv

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Version is exposed to scripts as VERSION.
const Version = "0.3.0"

// DefaultRefCeiling bounds the reference count of a single handle.
const DefaultRefCeiling = 1024

var ErrLeakedHandles = errors.New("odbxuv: handles still anchored at teardown")

type config struct {
	logger     *zap.Logger
	refCeiling int
}

type Option func(*config)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithRefCeiling changes the per-handle reference ceiling.
func WithRefCeiling(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.refCeiling = n
		}
	}
}

// Bridge is the process-wide state shared by every handle of one script
// runtime. Apart from Shutdown, its methods must be called on the loop
// goroutine.
type Bridge struct {
	loop       *Loop
	registry   *Registry
	driver     Driver
	rt         Runtime
	log        *zap.Logger
	refCeiling int

	seq  uint64
	open map[*Handle]struct{}
}

func New(loop *Loop, driver Driver, rt Runtime, opts ...Option) *Bridge {
	cfg := config{refCeiling: DefaultRefCeiling}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = Logger()
	}
	return &Bridge{
		loop:       loop,
		registry:   NewRegistry(),
		driver:     driver,
		rt:         rt,
		log:        cfg.logger,
		refCeiling: cfg.refCeiling,
		open:       make(map[*Handle]struct{}),
	}
}

func (b *Bridge) Loop() *Loop         { return b.loop }
func (b *Bridge) Registry() *Registry { return b.registry }
func (b *Bridge) Logger() *zap.Logger { return b.log }

// HandleInfo describes one handle that was not freed yet.
type HandleInfo struct {
	ID       uuid.UUID
	Kind     Kind
	Status   Status
	Refs     int
	Anchored bool
}

func (i HandleInfo) String() string {
	return fmt.Sprintf("%s %s status=%s refs=%d", i.Kind, i.ID, i.Status, i.Refs)
}

// DumpOpenHandles lists every handle whose native resource is still
// allocated, oldest first, and logs them.
func (b *Bridge) DumpOpenHandles() []HandleInfo {
	hs := make([]*Handle, 0, len(b.open))
	for h := range b.open {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i].seq < hs[j].seq })
	infos := make([]HandleInfo, 0, len(hs))
	for _, h := range hs {
		info := HandleInfo{
			ID:       h.id,
			Kind:     h.kind,
			Status:   h.status,
			Refs:     h.refCount,
			Anchored: h.anchor != NoToken,
		}
		b.log.Info("open handle", zap.Stringer("handle", info))
		infos = append(infos, info)
	}
	return infos
}

// Shutdown drives the loop until it is idle and reports handles that are
// still anchored. It does not free them: their wrappers are owned by
// the script runtime.
func (b *Bridge) Shutdown(ctx context.Context) error {
	if err := b.loop.Run(ctx); err != nil && !errors.Is(err, ErrLoopTerminated) {
		return err
	}
	n := b.registry.Len()
	if n == 0 {
		return nil
	}
	for h := range b.open {
		if h.anchor != NoToken {
			b.log.Warn("handle still anchored at teardown",
				zap.Stringer("kind", h.kind),
				zap.Stringer("handle", h.id),
				zap.Int("refs", h.refCount))
		}
	}
	return fmt.Errorf("%w: %d anchors", ErrLeakedHandles, n)
}
