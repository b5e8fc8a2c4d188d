package looptest

import (
	"github.com/launchdarkly/loop-test-harness/framework"
	"github.com/launchdarkly/loop-test-harness/loops"
	"github.com/launchdarkly/loop-test-harness/testservers"
)

// Names of the fixtures provided by the plugin.
const (
	FastFixture          = "fast"
	LoopDebugFixture     = "loop_debug"
	LoopFactoryFixture   = "loop_factory"
	LoopFixture          = "loop"
	UnusedPortFixture    = "unused_port"
	TestServerFixture    = "test_server"
	RawTestServerFixture = "raw_test_server"
	TestClientFixture    = "test_client"
)

// UnusedPortFunc is the value of the unused_port fixture.
type UnusedPortFunc func() (int, error)

// Fixtures returns the fixtures the plugin provides. The loop_factory fixture has no function:
// its value always comes from parametrization.
func (p *Plugin) Fixtures() []*framework.FixtureDef {
	return []*framework.FixtureDef{
		{
			Name:     FastFixture,
			ArgNames: []string{framework.RequestFixtureName},
			Func: framework.FixtureFunc(func(args framework.Args) (interface{}, error) {
				return OptionsFromConfig(requestOf(args).Config()).Fast, nil
			}),
		},
		{
			Name:     LoopDebugFixture,
			ArgNames: []string{framework.RequestFixtureName},
			Func: framework.FixtureFunc(func(args framework.Args) (interface{}, error) {
				return OptionsFromConfig(requestOf(args).Config()).LoopDebug, nil
			}),
		},
		{
			Name:     LoopFixture,
			ArgNames: []string{LoopFactoryFixture, FastFixture, LoopDebugFixture, framework.RequestFixtureName},
			Func:     framework.FixtureFunc(p.loopFixture),
		},
		{
			Name: UnusedPortFixture,
			Func: framework.FixtureFunc(func(framework.Args) (interface{}, error) {
				return UnusedPortFunc(testservers.UnusedPort), nil
			}),
		},
		{
			Name:     TestServerFixture,
			ArgNames: []string{LoopFixture, framework.RequestFixtureName},
			Func:     framework.FixtureFunc(testServerFixture),
		},
		{
			Name:     RawTestServerFixture,
			ArgNames: []string{LoopFixture, framework.RequestFixtureName},
			Func:     framework.FixtureFunc(rawTestServerFixture),
		},
		{
			Name:     TestClientFixture,
			ArgNames: []string{LoopFixture, framework.RequestFixtureName},
			Func:     framework.FixtureFunc(testClientFixture),
		},
	}
}

func requestOf(args framework.Args) *framework.FixtureRequest {
	return framework.Value[*framework.FixtureRequest](args, framework.RequestFixtureName)
}

// loopFixture acquires a loop from the parametrized factory for the current test, and releases
// it when the test ends.
func (p *Plugin) loopFixture(args framework.Args) (interface{}, error) {
	req := requestOf(args)
	factory := framework.Value[loops.Factory](args, LoopFactoryFixture)
	fast := framework.Value[bool](args, FastFixture)
	debug := framework.Value[bool](args, LoopDebugFixture)

	loop, err := loops.Acquire(factory, debug, req.DebugLogger())
	if err != nil {
		return nil, err
	}
	req.DebugLogger().Printf("Using %s loop %s for %s", loop.Name(), loop.ID(), req.Node().Name)
	req.AddFinalizer(func() error {
		err := loops.Release(loop, fast)
		loops.ClearCurrent()
		return err
	})
	return loop, nil
}
