// Package framework contains the low-level implementation of the test runner that the
// loop harness plugs into. It is similar to Go's testing package, but is run as regular
// Go application code rather than Go tests.
//
// The general model is:
//
// 1. Tests and fixtures are registered with a Session. A fixture is a named value that
// is computed on demand for each test that needs it, possibly depending on other fixtures
// by name, and possibly registering finalizers that run when the test ends.
//
// 2. Collection turns every registered test into one or more Items. Plugins can
// parametrize an item over a set of values (for instance, one item per loop
// implementation).
//
// 3. There is a general notion of a test context which is similar to Go's *testing.T,
// allowing pieces of test logic to be associated with a test identifier and to accumulate
// success/failure results.
//
// Plugins hook into collection, fixture setup and test invocation through the optional
// interfaces described in plugin.go. The framework itself only knows how to call plain
// synchronous functions; everything else is up to plugins.
package framework
