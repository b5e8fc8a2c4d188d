package framework

// TestLogger receives progress notifications while a session runs. Calls for one test are
// made from the goroutine that runs the session, in the order started, errors, then either
// finished or skipped.
type TestLogger interface {
	TestStarted(id TestID)
	// TestError is called once per error, as soon as it is reported.
	TestError(id TestID, err error)
	// TestFinished receives the test's captured debug output, which includes the output of
	// its fixtures and of the loop it ran on.
	TestFinished(id TestID, failed bool, debugOutput CapturedOutput)
	TestSkipped(id TestID, reason string)
}

type nullTestLogger struct{}

func (nullTestLogger) TestStarted(TestID)                        {}
func (nullTestLogger) TestError(TestID, error)                   {}
func (nullTestLogger) TestFinished(TestID, bool, CapturedOutput) {}
func (nullTestLogger) TestSkipped(TestID, string)                {}
