package loops

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// DrainGracePeriod is how long Release waits for tracked goroutines to finish on their own
// before cancelling them, unless fast mode is on.
const DrainGracePeriod = 100 * time.Millisecond

var current atomic.Pointer[Loop]

// Current returns the loop most recently installed by Acquire, or nil if it has been released.
func Current() *Loop {
	return current.Load()
}

// ClearCurrent unsets the current loop unconditionally.
func ClearCurrent() {
	current.Store(nil)
}

func setCurrent(l *Loop) {
	current.Store(l)
}

func clearCurrent(l *Loop) {
	current.CompareAndSwap(l, nil)
}

type loopKey struct{}

// WithLoop returns a context that carries the loop.
func WithLoop(ctx context.Context, l *Loop) context.Context {
	return context.WithValue(ctx, loopKey{}, l)
}

// FromContext returns the loop carried by ctx, or nil.
func FromContext(ctx context.Context) *Loop {
	if ctx == nil {
		return nil
	}
	l, _ := ctx.Value(loopKey{}).(*Loop)
	return l
}

// Acquire creates a loop with the factory, sets its debug mode and logger, and installs it as
// the current loop. The caller must eventually call Release.
func Acquire(factory Factory, debug bool, logger Logger) (*Loop, error) {
	if factory == nil {
		factory = NewBasicLoop
	}
	l, err := factory()
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, errors.New("loop factory returned no loop")
	}
	l.origin = OriginHarness
	l.SetLogger(logger)
	l.SetDebug(debug)
	setCurrent(l)
	if debug {
		l.getLogger().Printf("loop %s (%s): acquired", l.id, l.name)
	}
	return l, nil
}

// Release shuts the loop down. Unless fast is true, it first gives tracked goroutines
// DrainGracePeriod to finish, and reports unawaited Futures and cancelled goroutines as
// warnings. It then cancels whatever is left, waits for it, stops the executor and clears the
// current loop if it is this one. Calling Release more than once has no further effect.
func Release(l *Loop, fast bool) error {
	if l == nil {
		return errors.New("cannot release a nil loop")
	}
	l.shutdown(fast)
	return nil
}

// Passthrough runs action with existing if it is not nil, leaving its lifetime to whoever
// created it. Otherwise it acquires a new basic loop, runs action with it and releases it,
// even if action panics.
func Passthrough(existing *Loop, fast bool, logger Logger, action func(*Loop) error) error {
	if existing != nil {
		return action(existing)
	}
	l, err := Acquire(NewBasicLoop, false, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = Release(l, fast)
	}()
	return action(l)
}
