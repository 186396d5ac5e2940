package odbxuv

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrLoopAlreadyRunning = errors.New("odbxuv: loop is already running")
	ErrLoopTerminated     = errors.New("odbxuv: loop has been terminated")
)

// Task is a unit of work executed on the loop goroutine.
type Task func() error

// Loop is a single-goroutine event loop. Scripts, handle state and
// completion callbacks are only ever touched from inside its tasks.
//
// Run returns once no task is queued and nothing holds the loop, which is
// how outstanding native requests keep it alive.
type Loop struct {
	mu      sync.Mutex
	queue   []Task
	holds   int
	running bool
	stopped bool
	wake    chan struct{}

	onError func(error)
	log     *zap.Logger
}

type LoopOption func(*Loop)

// WithLoopLogger sets the logger used for task failures.
func WithLoopLogger(l *zap.Logger) LoopOption {
	return func(loop *Loop) {
		loop.log = l
	}
}

// WithTaskErrorHandler replaces the default handler, which logs errors
// returned by tasks.
func WithTaskErrorHandler(fn func(error)) LoopOption {
	return func(loop *Loop) {
		loop.onError = fn
	}
}

func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{wake: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = Logger()
	}
	if l.onError == nil {
		l.onError = func(err error) {
			l.log.Error("uncaught error in loop task", zap.Error(err))
		}
	}
	return l
}

// Submit queues t. It is safe to call from any goroutine.
func (l *Loop) Submit(t Task) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrLoopTerminated
	}
	l.queue = append(l.queue, t)
	l.mu.Unlock()
	l.signal()
	return nil
}

// Hold keeps Run from returning until the matching Release.
func (l *Loop) Hold() {
	l.mu.Lock()
	l.holds++
	l.mu.Unlock()
}

func (l *Loop) Release() {
	l.mu.Lock()
	l.holds--
	if l.holds < 0 {
		l.mu.Unlock()
		invariant("loop released more often than held")
	}
	l.mu.Unlock()
	l.signal()
}

// Stop terminates the loop. Queued tasks are dropped and later Submit
// calls fail with ErrLoopTerminated.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()
	l.signal()
}

// Alive reports whether the loop has queued tasks or holds.
func (l *Loop) Alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) > 0 || l.holds > 0
}

// Run executes tasks until the loop is idle, stopped, or ctx is done. It
// may be called again after it returned because the loop went idle.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrLoopAlreadyRunning
	}
	if l.stopped {
		l.mu.Unlock()
		return ErrLoopTerminated
	}
	l.running = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	for {
		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return nil
		}
		if len(l.queue) > 0 {
			t := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			if err := t(); err != nil {
				l.onError(err)
			}
			continue
		}
		idle := l.holds == 0
		l.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-l.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
