package demotests

import (
	"github.com/launchdarkly/loop-test-harness/framework"
	"github.com/launchdarkly/loop-test-harness/looptest"
)

// Register adds the loop plugin, the suite's own fixtures and all of its tests to the session.
func Register(s *framework.Session, plugin *looptest.Plugin) {
	s.AddPlugin(plugin)
	for _, def := range fixtures() {
		s.AddFixture(def)
	}

	registerLoopTests(s)
	registerFixtureTests(s)
	registerServerTests(s)
}

// RunTestSuite collects and runs the suite. It returns an error only if the configuration is
// invalid, for instance if an unknown loop was selected.
func RunTestSuite(
	config *framework.Config,
	mainLogger framework.Logger,
	filter framework.Filter,
	testLogger framework.TestLogger,
) (framework.Results, error) {
	s := framework.NewSession(config, mainLogger)
	Register(s, looptest.NewPlugin(nil, mainLogger))
	return s.Run(filter, testLogger)
}
