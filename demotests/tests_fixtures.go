package demotests

import (
	"context"
	"strings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/loop-test-harness/framework"
	"github.com/launchdarkly/loop-test-harness/loops"
	"github.com/launchdarkly/loop-test-harness/looptest"
)

func registerFixtureTests(s *framework.Session) {
	s.AddTest("fixtures/async fixture runs on the test loop",
		func(ctx context.Context, t *framework.T, args framework.Args) error {
			greeting := framework.Value[string](args, greetingFixture)
			loop := loops.FromContext(ctx)
			assert.Equal(t, "hello from the "+loop.Name()+" loop", greeting)
			return nil
		}, looptest.LoopFixture, greetingFixture)

	s.AddTest("fixtures/generator fixture is open during the test",
		func(ctx context.Context, t *framework.T, args framework.Args) error {
			store := framework.Value[*itemStore](args, storeFixture)
			require.NotNil(t, store)
			assert.False(t, store.Closed())
			require.NoError(t, store.Put("a", "1"))
			t.Defer(func() {
				// fixture finalizers were registered first, so they have not run yet
				assert.False(t, store.Closed())
			})
			return nil
		}, looptest.LoopFixture, storeFixture)

	s.AddTest("fixtures/option fixtures",
		func(t *framework.T, args framework.Args) {
			fast := framework.Value[bool](args, looptest.FastFixture)
			debug := framework.Value[bool](args, looptest.LoopDebugFixture)
			opts := looptest.OptionsFromConfig(t.Item().Config)
			assert.Equal(t, opts.Fast, fast)
			assert.Equal(t, opts.LoopDebug, debug)
			t.Debug("fast=%t loop_debug=%t loop=%s", fast, debug, opts.Loop)
		}, looptest.FastFixture, looptest.LoopDebugFixture)

	s.AddTest("fixtures/unused port",
		func(t *framework.T, args framework.Args) {
			port, err := framework.Value[looptest.UnusedPortFunc](args, looptest.UnusedPortFixture)()
			require.NoError(t, err)
			assert.Greater(t, port, 0)
		}, looptest.UnusedPortFixture)

	s.AddTest("fixtures/loop is parametrized",
		func(t *framework.T, args framework.Args) {
			loop := framework.Value[*loops.Loop](args, looptest.LoopFixture)
			assert.True(t, strings.HasSuffix(t.Name(), "["+loop.Name()+"]"), t.Name())
		}, looptest.LoopFixture)
}
