// Package demotests contains the self-check suite that the command-line harness runs. It
// exercises the loop plugin the way a real test suite would: asynchronous tests and fixtures,
// every loop implementation that was selected, and the test server and client fixtures.
package demotests
