package looptest

import (
	"context"
	"iter"
	"reflect"

	"github.com/launchdarkly/loop-test-harness/framework"
)

// Kind says how a fixture or test function has to be driven.
type Kind int

const (
	// KindSync is a plain function that the framework calls directly.
	KindSync Kind = iota
	// KindAsyncSingle is a function that runs to completion on a loop and returns one result.
	KindAsyncSingle
	// KindAsyncMultistep is a function that returns a sequence: the first value is the setup
	// result, and advancing past it performs teardown.
	KindAsyncMultistep
)

func (k Kind) String() string {
	switch k {
	case KindAsyncSingle:
		return "async"
	case KindAsyncMultistep:
		return "async generator"
	default:
		return "sync"
	}
}

// AsyncFixtureFunc is a fixture that runs on the test's loop.
type AsyncFixtureFunc func(ctx context.Context, args framework.Args) (interface{}, error)

// AsyncGenFixtureFunc is a fixture that runs on the test's loop and yields its value once. Code
// after the yield runs during teardown, on the same loop.
type AsyncGenFixtureFunc func(ctx context.Context, args framework.Args) iter.Seq2[interface{}, error]

// AsyncTestFunc is a test whose body runs on a loop.
type AsyncTestFunc func(ctx context.Context, t *framework.T, args framework.Args) error

// AsyncGenTestFunc has the shape of a multistep test. Such tests are not supported; the shape
// exists so they can be recognized and rejected.
type AsyncGenTestFunc func(ctx context.Context, t *framework.T, args framework.Args) iter.Seq2[interface{}, error]

var (
	asyncFixtureType    = reflect.TypeOf(AsyncFixtureFunc(nil))
	asyncGenFixtureType = reflect.TypeOf(AsyncGenFixtureFunc(nil))
	asyncTestType       = reflect.TypeOf(AsyncTestFunc(nil))
	asyncGenTestType    = reflect.TypeOf(AsyncGenTestFunc(nil))
)

// Classify decides how fn has to be driven, from its type alone. It never calls fn.
func Classify(fn interface{}) Kind {
	t := funcType(fn)
	if t == nil {
		return KindSync
	}
	switch {
	case t.ConvertibleTo(asyncFixtureType), t.ConvertibleTo(asyncTestType):
		return KindAsyncSingle
	case t.ConvertibleTo(asyncGenFixtureType), t.ConvertibleTo(asyncGenTestType):
		return KindAsyncMultistep
	default:
		return KindSync
	}
}

func funcType(fn interface{}) reflect.Type {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil
	}
	return v.Type()
}

func convertFunc(fn interface{}, target reflect.Type) (interface{}, bool) {
	t := funcType(fn)
	if t == nil || !t.ConvertibleTo(target) {
		return nil, false
	}
	return reflect.ValueOf(fn).Convert(target).Interface(), true
}

func asAsyncFixture(fn interface{}) (AsyncFixtureFunc, bool) {
	f, ok := convertFunc(fn, asyncFixtureType)
	if !ok {
		return nil, false
	}
	return f.(AsyncFixtureFunc), true
}

func asAsyncGenFixture(fn interface{}) (AsyncGenFixtureFunc, bool) {
	f, ok := convertFunc(fn, asyncGenFixtureType)
	if !ok {
		return nil, false
	}
	return f.(AsyncGenFixtureFunc), true
}

func asAsyncTest(fn interface{}) (AsyncTestFunc, bool) {
	f, ok := convertFunc(fn, asyncTestType)
	if !ok {
		return nil, false
	}
	return f.(AsyncTestFunc), true
}
