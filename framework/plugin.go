package framework

// Plugin is anything that can be added to a Session. What a plugin actually does depends on
// which of the optional hook interfaces below it implements.
type Plugin interface {
	Name() string
}

// Configurer is called once at the start of collection, so a plugin can validate the
// session options before any test runs.
type Configurer interface {
	Configure(config *Config) error
}

// FixtureProvider contributes fixtures to the session when the plugin is added.
type FixtureProvider interface {
	Fixtures() []*FixtureDef
}

// ItemCollector is asked about test functions that are not plain TestFuncs. If it returns
// true, the function becomes a test item; a non-nil error means the function is a test but
// cannot be collected.
type ItemCollector interface {
	CollectItem(name string, fn interface{}) (bool, error)
}

// TestGenerator can parametrize a test during collection.
type TestGenerator interface {
	GenerateTests(m *Metafunc) error
}

// FixtureSetupHook is called every time a fixture is about to be executed for an item,
// before its dependencies are resolved. It may modify the FixtureDef in place.
type FixtureSetupHook interface {
	FixtureSetup(def *FixtureDef)
}

// TestCaller may take over calling a test function. It returns false to let the next
// caller, or the framework's default behavior, handle the item.
type TestCaller interface {
	CallTest(t *T, item *Item) (bool, error)
}
