package looptest

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/launchdarkly/loop-test-harness/framework"
	"github.com/launchdarkly/loop-test-harness/loops"
)

// ErrNoLoopInScope is the cause of the error reported when an asynchronous fixture is used by
// a test that has no loop fixture.
var ErrNoLoopInScope = errors.New(`must depend on the "loop" fixture or be used in tests depending on it`)

// MultistepFixtureError means an asynchronous generator fixture yielded a second value during
// teardown instead of finishing.
type MultistepFixtureError struct {
	Fixture string
}

func (e *MultistepFixtureError) Error() string {
	return fmt.Sprintf("asynchronous generator fixture %q yielded more than once", e.Fixture)
}

// FixtureSetup replaces an asynchronous fixture function with a synchronous one that drives
// it on the test's loop. A fixture that is already synchronous is left alone, so a definition
// is only adapted the first time it is set up.
func (p *Plugin) FixtureSetup(def *framework.FixtureDef) {
	if Classify(def.Func) == KindSync {
		return
	}
	single, isSingle := asAsyncFixture(def.Func)
	multi, isMulti := asAsyncGenFixture(def.Func)
	if !isSingle && !isMulti {
		return // a test shape; the framework reports it as unsupported
	}

	stripRequest := false
	if !def.HasArg(framework.RequestFixtureName) {
		def.ArgNames = append(append([]string(nil), def.ArgNames...), framework.RequestFixtureName)
		stripRequest = true
	}
	name := def.Name
	if isSingle {
		def.Func = framework.FixtureFunc(func(args framework.Args) (interface{}, error) {
			return p.setupAsync(name, single, args, stripRequest)
		})
	} else {
		def.Func = framework.FixtureFunc(func(args framework.Args) (interface{}, error) {
			return p.setupAsyncGen(name, multi, args, stripRequest)
		})
	}
}

// fixtureLoop finds the loop an asynchronous fixture must run on, and the arguments its
// function should receive.
func fixtureLoop(name string, args framework.Args, stripRequest bool) (*loops.Loop, *framework.FixtureRequest, framework.Args, error) {
	req := framework.Value[*framework.FixtureRequest](args, framework.RequestFixtureName)
	if req == nil || !req.HasFixture(LoopFixture) {
		return nil, nil, nil, fmt.Errorf("asynchronous fixture %q %w", name, ErrNoLoopInScope)
	}
	v, err := req.GetFixtureValue(LoopFixture)
	if err != nil {
		return nil, nil, nil, err
	}
	loop, ok := v.(*loops.Loop)
	if !ok {
		return nil, nil, nil, fmt.Errorf("asynchronous fixture %q: the \"loop\" fixture is a %T, not a loop", name, v)
	}
	userArgs := args
	if stripRequest {
		userArgs = args.Without(framework.RequestFixtureName)
	}
	return loop, req, userArgs, nil
}

func (p *Plugin) setupAsync(name string, fn AsyncFixtureFunc, args framework.Args, stripRequest bool) (interface{}, error) {
	loop, _, userArgs, err := fixtureLoop(name, args, stripRequest)
	if err != nil {
		return nil, err
	}
	var result interface{}
	err = loop.RunUntilComplete(loop.Context(), func(ctx context.Context) error {
		v, err := fn(ctx, userArgs)
		result = v
		return err
	})
	return result, err
}

func (p *Plugin) setupAsyncGen(name string, fn AsyncGenFixtureFunc, args framework.Args, stripRequest bool) (interface{}, error) {
	loop, req, userArgs, err := fixtureLoop(name, args, stripRequest)
	if err != nil {
		return nil, err
	}

	var (
		next  func() (interface{}, error, bool)
		stop  func()
		value interface{}
	)
	err = loop.RunUntilComplete(loop.Context(), func(ctx context.Context) error {
		next, stop = iter.Pull2(fn(ctx, userArgs))
		v, yieldErr, ok := next()
		if !ok {
			return fmt.Errorf("asynchronous generator fixture %q finished without yielding a value", name)
		}
		value = v
		return yieldErr
	})
	if err != nil {
		if stop != nil {
			_ = loop.RunUntilComplete(loop.Context(), func(context.Context) error {
				stop()
				return nil
			})
		}
		return nil, err
	}

	req.AddFinalizer(func() error {
		if loop.Closed() {
			stop()
			return fmt.Errorf("asynchronous generator fixture %q: %w", name, loops.ErrLoopClosed)
		}
		return loop.RunUntilComplete(loop.Context(), func(context.Context) error {
			defer stop()
			_, yieldErr, ok := next()
			switch {
			case !ok:
				return nil
			case yieldErr != nil:
				return yieldErr
			default:
				return &MultistepFixtureError{Fixture: name}
			}
		})
	})
	return value, nil
}
