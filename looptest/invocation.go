package looptest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/launchdarkly/loop-test-harness/framework"
	"github.com/launchdarkly/loop-test-harness/loops"
)

// ErrAsyncGeneratorTest is returned during collection for a test function that has the
// shape of an asynchronous generator. Only fixtures may have that shape.
var ErrAsyncGeneratorTest = errors.New("asynchronous generator functions cannot be used as tests")

// RuntimeWarningsError fails a test whose loop reported RuntimeWarnings, which usually means
// some asynchronous work was started and never awaited.
type RuntimeWarningsError struct {
	Warnings []loops.Warning
}

func (e *RuntimeWarningsError) Error() string {
	lines := make([]string, 0, len(e.Warnings))
	for _, w := range e.Warnings {
		lines = append(lines, w.String())
	}
	plural := "s"
	if len(lines) == 1 {
		plural = ""
	}
	return fmt.Sprintf("%d Runtime Warning%s,\n%s", len(lines), plural, strings.Join(lines, "\n"))
}

// CollectItem accepts asynchronous test functions, and rejects asynchronous generators.
func (p *Plugin) CollectItem(name string, fn interface{}) (bool, error) {
	switch Classify(fn) {
	case KindAsyncSingle:
		_, ok := asAsyncTest(fn)
		return ok, nil
	case KindAsyncMultistep:
		if _, isFixture := asAsyncGenFixture(fn); !isFixture {
			return false, ErrAsyncGeneratorTest
		}
	}
	return false, nil
}

// CallTest runs an asynchronous test body on the loop the test's fixtures use, or on a new
// loop if it has none. After the body returns, any Future that was never awaited fails the
// test with a RuntimeWarningsError. Synchronous tests are left to the framework.
func (p *Plugin) CallTest(t *framework.T, item *framework.Item) (bool, error) {
	fn, ok := asAsyncTest(item.Func)
	if !ok {
		return false, nil
	}
	opts := OptionsFromConfig(item.Config)
	existing, _ := item.Funcargs[LoopFixture].(*loops.Loop)
	capture := loops.NewWarningCapture()
	defer capture.Stop()

	var bodyErr error
	err := loops.Passthrough(existing, opts.Fast, t.DebugLogger(), func(loop *loops.Loop) error {
		loop.AttachCapture(capture)
		bodyErr = loop.RunUntilComplete(loop.Context(), func(ctx context.Context) error {
			return fn(ctx, t, item.TestArgs())
		})
		loop.CheckUnawaited()
		return nil
	})
	captured := capture.Stop()
	for _, w := range captured {
		if w.Category != loops.RuntimeWarning {
			t.Debug("%s: %s", w.Category, w)
		}
	}
	warnings := loops.Filter(captured, loops.RuntimeWarning)
	if err == nil {
		err = bodyErr
	}
	if err != nil {
		return true, err
	}
	if len(warnings) > 0 {
		return true, &RuntimeWarningsError{Warnings: warnings}
	}
	return true, nil
}
