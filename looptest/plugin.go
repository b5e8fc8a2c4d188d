package looptest

import (
	"github.com/launchdarkly/loop-test-harness/framework"
	"github.com/launchdarkly/loop-test-harness/loops"
)

// PluginName is the name the plugin reports to the framework.
const PluginName = "looptest"

// Plugin runs asynchronous tests and fixtures on loops, and provides the loop and test
// server fixtures. Add it to a framework.Session with AddPlugin.
type Plugin struct {
	registry  *loops.Registry
	factories []loops.NamedFactory
	logger    framework.Logger
}

// NewPlugin creates the plugin. If registry is nil, loops.DefaultRegistry is used.
func NewPlugin(registry *loops.Registry, logger framework.Logger) *Plugin {
	if registry == nil {
		registry = loops.DefaultRegistry()
	}
	if logger == nil {
		logger = framework.NullLogger()
	}
	return &Plugin{registry: registry, logger: logger}
}

func (p *Plugin) Name() string {
	return PluginName
}

// Configure validates the loop selection, so that an unknown loop name stops the session
// before any test runs.
func (p *Plugin) Configure(config *framework.Config) error {
	opts := OptionsFromConfig(config)
	factories, err := p.registry.Select(opts.Loop)
	if err != nil {
		return err
	}
	p.factories = factories
	p.logger.Printf("Selected loops: %s", factoryNames(factories))
	return nil
}

// GenerateTests parametrizes every test that depends on the loop factory with the selected
// loop implementations.
func (p *Plugin) GenerateTests(m *framework.Metafunc) error {
	if !m.HasFixture(LoopFactoryFixture) {
		return nil
	}
	if p.factories == nil {
		if err := p.Configure(m.Config); err != nil {
			return err
		}
	}
	values := make([]interface{}, 0, len(p.factories))
	for _, f := range p.factories {
		values = append(values, f.Factory)
	}
	return m.Parametrize(LoopFactoryFixture, values, factoryNames(p.factories))
}

func factoryNames(factories []loops.NamedFactory) []string {
	ret := make([]string, 0, len(factories))
	for _, f := range factories {
		ret = append(ret, f.Name)
	}
	return ret
}
