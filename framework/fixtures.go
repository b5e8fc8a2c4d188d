package framework

import (
	"fmt"
	"reflect"
)

// RequestFixtureName is the name of the built-in pseudo-fixture that resolves to the
// FixtureRequest of whatever is asking for it.
const RequestFixtureName = "request"

// FixtureFunc is the only kind of fixture function the framework knows how to call. Plugins
// that support other shapes must replace FixtureDef.Func with a FixtureFunc during
// FixtureSetup.
type FixtureFunc func(args Args) (interface{}, error)

// TestFunc is the only kind of test function the framework knows how to call. Plugins that
// support other shapes must accept them in CollectItem and run them in CallTest.
type TestFunc func(t *T, args Args)

var (
	fixtureFuncType = reflect.TypeOf(FixtureFunc(nil))
	testFuncType    = reflect.TypeOf(TestFunc(nil))
)

// Args holds the resolved values of the names a test or fixture asked for.
type Args map[string]interface{}

// Without returns a copy of the Args with the given names removed.
func (a Args) Without(names ...string) Args {
	ret := make(Args, len(a))
	for k, v := range a {
		ret[k] = v
	}
	for _, n := range names {
		delete(ret, n)
	}
	return ret
}

// Value returns the named argument converted to V, or the zero value of V if it is
// missing or has a different type.
func Value[V any](args Args, name string) V {
	v, _ := args[name].(V)
	return v
}

// FixtureDef describes a fixture: its name, the names it depends on, and the function that
// computes its value. Plugins may modify a FixtureDef in place during FixtureSetup.
type FixtureDef struct {
	Name     string
	ArgNames []string
	Func     interface{}
}

// HasArg returns true if the fixture declares a dependency on the given name.
func (d *FixtureDef) HasArg(name string) bool {
	return containsString(d.ArgNames, name)
}

// AsFixtureFunc converts fn to a FixtureFunc if its signature allows it.
func AsFixtureFunc(fn interface{}) (FixtureFunc, bool) {
	if f, ok := fn.(FixtureFunc); ok {
		return f, true
	}
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() || !v.Type().ConvertibleTo(fixtureFuncType) {
		return nil, false
	}
	return v.Convert(fixtureFuncType).Interface().(FixtureFunc), true
}

// AsTestFunc converts fn to a TestFunc if its signature allows it.
func AsTestFunc(fn interface{}) (TestFunc, bool) {
	if f, ok := fn.(TestFunc); ok {
		return f, true
	}
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() || !v.Type().ConvertibleTo(testFuncType) {
		return nil, false
	}
	return v.Convert(testFuncType).Interface().(TestFunc), true
}

// FixtureRequest gives a fixture (or a test) access to the fixture machinery of the item
// being set up. A fixture receives its own FixtureRequest by declaring a dependency on
// RequestFixtureName.
type FixtureRequest struct {
	state       *itemState
	fixtureName string
}

// FixtureName returns the name of the fixture that owns this request, or "" for a test.
func (r *FixtureRequest) FixtureName() string {
	return r.fixtureName
}

// HasFixture returns true if the item transitively depends on name, as computed during
// collection.
func (r *FixtureRequest) HasFixture(name string) bool {
	return containsString(r.state.item.FixtureNames, name)
}

// GetFixtureValue resolves a fixture by name for the current item. The value is computed
// once per item; later calls return the same value.
func (r *FixtureRequest) GetFixtureValue(name string) (interface{}, error) {
	return r.state.getFixtureValue(name, r)
}

// AddFinalizer registers a function to be called when the item's teardown phase runs.
// Finalizers run in reverse order of registration; an error is reported as a test failure.
func (r *FixtureRequest) AddFinalizer(fn func() error) {
	r.state.addFinalizer(r.fixtureName, fn)
}

// Config returns the session configuration.
func (r *FixtureRequest) Config() *Config {
	return r.state.item.Config
}

// Node returns the item being set up.
func (r *FixtureRequest) Node() *Item {
	return r.state.item
}

// DebugLogger returns the logger that captures debug output for the current test.
func (r *FixtureRequest) DebugLogger() Logger {
	return r.state.context.DebugLogger()
}

type fixtureError struct {
	name string
	err  error
}

func (e fixtureError) Error() string {
	return fmt.Sprintf("fixture %q: %s", e.name, e.err)
}

func (e fixtureError) Unwrap() error {
	return e.err
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
