package framework

// T is the handle passed to test functions.
//
// It implements the same basic functionality as Go's testing.T, but in an environment that is
// outside of the Go test runner. To make test assertions, you can use the assert and require
// packages, passing the *T as if it were a *testing.T.
//
// A T may be used from the goroutine that runs the test body even if that is not the goroutine
// that called the test function, as long as only one goroutine uses it at a time.
type T struct {
	context *Context
	item    *Item
}

// Errorf is called by assertions to log a test failure. It does not cause an immediate exit.
func (t *T) Errorf(format string, args ...interface{}) {
	t.context.Errorf(format, args...)
}

// FailNow is called by assertions when a test should fail and immediately exit. The methods in
// the require package call FailNow.
func (t *T) FailNow() {
	t.context.FailNow()
}

// Failed returns true if the test has failed so far.
func (t *T) Failed() bool {
	return t.context.Failed()
}

// Helper exists so that T can be passed to code that expects a *testing.T-like value.
func (t *T) Helper() {}

// Name returns the full identifier of the test.
func (t *T) Name() string {
	return t.context.ID().String()
}

// Item returns the collected item being run.
func (t *T) Item() *Item {
	return t.item
}

// Skip marks the test as skipped and exits immediately.
func (t *T) Skip() {
	t.context.Skip()
}

// SkipWithReason marks the test as skipped with an explanation and exits immediately.
func (t *T) SkipWithReason(reason string) {
	t.context.SkipWithReason(reason)
}

// Defer schedules a function to run at the end of the test, after fixture finalizers that were
// registered later.
func (t *T) Defer(fn func()) {
	t.context.Defer(fn)
}

// Debug logs some debug output for the test. The output will be passed to the test logger at
// the end of the test.
func (t *T) Debug(format string, args ...interface{}) {
	t.context.Debug(format, args...)
}

// DebugLogger returns the logger that captures debug output for this test.
func (t *T) DebugLogger() Logger {
	return t.context.DebugLogger()
}
