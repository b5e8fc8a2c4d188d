package loops

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SlowCallbackDuration is how long a work item may run in debug mode before the loop reports
// it with a DebugWarning.
const SlowCallbackDuration = 100 * time.Millisecond

var (
	// ErrLoopClosed is returned when work is submitted to a loop that has been released.
	ErrLoopClosed = errors.New("loop: loop has been closed")
)

// Logger is the logging interface used by loops. framework.Logger satisfies it.
type Logger interface {
	Printf(message string, args ...interface{})
}

type nullLogger struct{}

func (nullLogger) Printf(string, ...interface{}) {}

// Origin says who is responsible for releasing a loop.
type Origin int

const (
	// OriginCaller means the loop was created outside of the provisioner, so the code that
	// created it must release it.
	OriginCaller Origin = iota
	// OriginHarness means the loop was created by Acquire and will be released by the harness.
	OriginHarness
)

func (o Origin) String() string {
	if o == OriginHarness {
		return "harness"
	}
	return "caller"
}

// Loop is a single-threaded execution context. Work submitted with RunUntilComplete runs on
// the loop's executor goroutine, one item at a time; background work started with Go or
// Background is tracked by the loop and cancelled when the loop is released.
//
// Work running on the loop receives a context that carries the loop (see FromContext).
// Calling RunUntilComplete with such a context runs the work inline instead of queueing it,
// so loop-bound helpers can be used both from outside and from inside the loop. The same
// applies to goroutines started with Go or Background while the executor is busy: their
// work runs in the calling goroutine, because the executor may be waiting for them.
type Loop struct {
	id     uuid.UUID
	name   string
	pinned bool
	origin Origin
	debug  atomic.Bool
	logger Logger

	ctx    context.Context
	cancel context.CancelFunc

	work     chan workItem
	done     chan struct{}
	sendLock sync.RWMutex
	closed   bool

	lock       sync.Mutex
	tasks      sync.WaitGroup
	running    int
	closing    bool
	unawaited  []*Future
	captures   []*WarningCapture
	shutdownMu sync.Once
}

type workItem struct {
	ctx    context.Context
	fn     func(context.Context) error
	result chan workResult
}

type workResult struct {
	err        error
	panicked   bool
	panicValue interface{}
}

type runningKey struct{}

// taskKey marks the context of a goroutine started by Go or Background.
type taskKey struct{}

func (l *Loop) taskContext() context.Context {
	return context.WithValue(WithLoop(l.ctx, l), taskKey{}, l)
}

func newLoop(name string, pinned bool) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		id:     uuid.New(),
		name:   name,
		pinned: pinned,
		origin: OriginCaller,
		logger: nullLogger{},
		ctx:    ctx,
		cancel: cancel,
		work:   make(chan workItem),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// NewBasicLoop creates a loop whose executor is an ordinary goroutine.
func NewBasicLoop() (*Loop, error) {
	return newLoop(BasicLoopName, false), nil
}

// NewPinnedLoop creates a loop whose executor goroutine is locked to a single OS thread
// for its whole lifetime.
func NewPinnedLoop() (*Loop, error) {
	return newLoop(PinnedLoopName, true), nil
}

func (l *Loop) run() {
	defer close(l.done)
	if l.pinned {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	for item := range l.work {
		item.result <- l.execute(item)
	}
}

func (l *Loop) execute(item workItem) (result workResult) {
	start := time.Now()
	debug := l.debug.Load()
	logger := l.getLogger()
	if debug {
		logger.Printf("loop %s: running work item", l.id)
	}
	defer func() {
		if r := recover(); r != nil {
			result = workResult{panicked: true, panicValue: r}
		}
		if debug {
			elapsed := time.Since(start)
			logger.Printf("loop %s: work item finished in %s", l.id, elapsed)
			if elapsed > SlowCallbackDuration {
				l.warn(DebugWarning, "", 0, fmt.Sprintf("executing work item took %.3f seconds", elapsed.Seconds()))
			}
		}
	}()
	return workResult{err: item.fn(item.ctx)}
}

// ID returns the unique identifier of the loop, for log messages.
func (l *Loop) ID() string {
	return l.id.String()
}

// Name returns the name of the factory that created the loop.
func (l *Loop) Name() string {
	return l.name
}

// Origin says whether the loop was created by Acquire.
func (l *Loop) Origin() Origin {
	return l.origin
}

// Debug returns true if debug instrumentation is enabled.
func (l *Loop) Debug() bool {
	return l.debug.Load()
}

// SetDebug enables or disables debug instrumentation.
func (l *Loop) SetDebug(debug bool) {
	l.debug.Store(debug)
}

// SetLogger sets the logger used for debug output. It should be called before the loop is used.
func (l *Loop) SetLogger(logger Logger) {
	if logger == nil {
		logger = nullLogger{}
	}
	l.lock.Lock()
	l.logger = logger
	l.lock.Unlock()
}

func (l *Loop) getLogger() Logger {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.logger
}

// Context returns a context that is cancelled when the loop is released.
func (l *Loop) Context() context.Context {
	return l.ctx
}

// Closed returns true once the loop has been released.
func (l *Loop) Closed() bool {
	l.sendLock.RLock()
	defer l.sendLock.RUnlock()
	return l.closed
}

// RunUntilComplete runs fn on the loop and waits for it to finish. If fn panics, the panic is
// re-raised in the calling goroutine, so that test failures reported from inside the loop
// unwind the caller as usual.
//
// There is no timeout: if fn never returns, neither does RunUntilComplete.
func (l *Loop) RunUntilComplete(ctx context.Context, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if running, _ := ctx.Value(runningKey{}).(*Loop); running == l {
		return fn(ctx)
	}

	item := workItem{
		ctx:    context.WithValue(WithLoop(ctx, l), runningKey{}, l),
		fn:     fn,
		result: make(chan workResult, 1),
	}
	l.sendLock.RLock()
	if l.closed {
		l.sendLock.RUnlock()
		return ErrLoopClosed
	}
	if task, _ := ctx.Value(taskKey{}).(*Loop); task == l {
		// The executor may be waiting for this very task, so only hand the work over if it
		// is idle; otherwise run it here.
		select {
		case l.work <- item:
			l.sendLock.RUnlock()
		default:
			l.sendLock.RUnlock()
			return fn(item.ctx)
		}
	} else {
		l.work <- item
		l.sendLock.RUnlock()
	}

	result := <-item.result
	if result.panicked {
		panic(result.panicValue)
	}
	return result.err
}

// Go starts fn in a goroutine tracked by the loop and returns a Future for its result. The
// Future should be awaited (or cancelled); one that is still unawaited when CheckUnawaited
// runs is reported as a RuntimeWarning that points at the call to Go.
func (l *Loop) Go(fn func(context.Context) (interface{}, error)) *Future {
	_, file, line, _ := runtime.Caller(1)
	ctx, cancel := context.WithCancel(l.taskContext())
	f := &Future{file: file, line: line, cancel: cancel, done: make(chan struct{})}

	l.lock.Lock()
	if l.closing {
		l.lock.Unlock()
		cancel()
		f.handled.Store(true)
		f.finish(nil, ErrLoopClosed)
		return f
	}
	l.unawaited = append(l.unawaited, f)
	l.startTaskLocked()
	l.lock.Unlock()

	go func() {
		defer l.finishTask()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				f.finish(nil, fmt.Errorf("panic in loop task: %v", r))
			}
		}()
		v, err := fn(ctx)
		f.finish(v, err)
	}()
	return f
}

// Background starts fn in a goroutine tracked by the loop, without a Future. It is for
// internal work such as serving connections, whose owner waits for it by other means.
func (l *Loop) Background(fn func(context.Context)) error {
	l.lock.Lock()
	if l.closing {
		l.lock.Unlock()
		return ErrLoopClosed
	}
	l.startTaskLocked()
	l.lock.Unlock()

	go func() {
		defer l.finishTask()
		fn(l.taskContext())
	}()
	return nil
}

func (l *Loop) startTaskLocked() {
	l.tasks.Add(1)
	l.running++
}

func (l *Loop) finishTask() {
	l.lock.Lock()
	l.running--
	l.lock.Unlock()
	l.tasks.Done()
}

// PendingTasks returns the number of tracked goroutines that have not finished.
func (l *Loop) PendingTasks() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.running
}

// CheckUnawaited reports a RuntimeWarning for every Future that was created by Go and has
// been neither awaited nor cancelled. Each Future is reported at most once.
func (l *Loop) CheckUnawaited() {
	l.lock.Lock()
	futures := l.unawaited
	l.unawaited = nil
	l.lock.Unlock()

	for _, f := range futures {
		if !f.handled.Load() {
			l.warn(RuntimeWarning, f.file, f.line, "future was never awaited")
		}
	}
}

// shutdown implements Release.
func (l *Loop) shutdown(fast bool) {
	l.shutdownMu.Do(func() {
		if !fast {
			l.CheckUnawaited()
			waitWithTimeout(&l.tasks, DrainGracePeriod)
		}

		l.lock.Lock()
		l.closing = true
		cancelled := l.running
		l.lock.Unlock()

		l.cancel()
		l.tasks.Wait()
		if cancelled > 0 && !fast {
			l.warn(ResourceWarning, "", 0, fmt.Sprintf("%d background task(s) were cancelled when the loop was closed", cancelled))
		}

		l.sendLock.Lock()
		l.closed = true
		close(l.work)
		l.sendLock.Unlock()
		<-l.done

		clearCurrent(l)
		if l.debug.Load() {
			l.getLogger().Printf("loop %s: closed", l.id)
		}
	})
}

func waitWithTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}

// Future is the eventual result of work started with Loop.Go.
type Future struct {
	file    string
	line    int
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	value   interface{}
	err     error
	handled atomic.Bool
}

func (f *Future) finish(value interface{}, err error) {
	f.once.Do(func() {
		f.value, f.err = value, err
		close(f.done)
	})
}

// Await waits for the Future's result, or for ctx to be done.
func (f *Future) Await(ctx context.Context) (interface{}, error) {
	f.handled.Store(true)
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel cancels the context of the work. A cancelled Future counts as handled.
func (f *Future) Cancel() {
	f.handled.Store(true)
	f.cancel()
}

// Done returns a channel that is closed when the work has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Location returns the source location where the Future was created.
func (f *Future) Location() (string, int) {
	return f.file, f.line
}
