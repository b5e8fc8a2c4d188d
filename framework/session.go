package framework

import (
	"errors"
	"fmt"
	"strings"
)

// Session holds the registered tests, fixtures and plugins for one test run.
type Session struct {
	config   *Config
	plugins  []Plugin
	fixtures map[string]*FixtureDef
	tests    []testDef
	logger   Logger
}

type testDef struct {
	name     string
	fn       interface{}
	argNames []string
}

// Item is a single runnable test produced by collection. A parametrized test produces one
// Item per combination of parameter values.
type Item struct {
	// Name is the test name, including parameter IDs in brackets if it was parametrized.
	Name string
	// OriginalName is the name the test was registered with.
	OriginalName string
	// Func is the test function, as registered.
	Func interface{}
	// ArgNames are the names the test function asked for.
	ArgNames []string
	// FixtureNames is the transitive closure of ArgNames over the fixture dependency graph.
	FixtureNames []string
	// Params holds the parameter values for this item, by argument name.
	Params map[string]interface{}
	// Funcargs holds the value of every name in FixtureNames once setup has finished.
	Funcargs Args
	// Config is the session configuration.
	Config *Config

	skipReason string
}

// TestArgs returns the subset of Funcargs that the test function asked for.
func (i *Item) TestArgs() Args {
	ret := make(Args, len(i.ArgNames))
	for _, name := range i.ArgNames {
		ret[name] = i.Funcargs[name]
	}
	return ret
}

func NewSession(config *Config, logger Logger) *Session {
	if config == nil {
		config = NewConfig()
	}
	if logger == nil {
		logger = NullLogger()
	}
	return &Session{
		config:   config,
		fixtures: make(map[string]*FixtureDef),
		logger:   logger,
	}
}

// Config returns the session configuration.
func (s *Session) Config() *Config {
	return s.config
}

// AddPlugin registers a plugin, and any fixtures it provides.
func (s *Session) AddPlugin(p Plugin) {
	s.plugins = append(s.plugins, p)
	if fp, ok := p.(FixtureProvider); ok {
		for _, def := range fp.Fixtures() {
			s.AddFixture(def)
		}
	}
}

// AddFixture registers a fixture. A fixture with the same name as an existing one replaces it.
func (s *Session) AddFixture(def *FixtureDef) {
	if _, exists := s.fixtures[def.Name]; exists {
		s.logger.Printf("Fixture %q is being overridden", def.Name)
	}
	s.fixtures[def.Name] = def
}

// Fixture returns the registered definition of a fixture, or nil.
func (s *Session) Fixture(name string) *FixtureDef {
	return s.fixtures[name]
}

// AddTest registers a test function. The argNames are the fixtures (or parameters) whose
// values the function needs.
func (s *Session) AddTest(name string, fn interface{}, argNames ...string) {
	s.tests = append(s.tests, testDef{name: name, fn: fn, argNames: argNames})
}

// Collect turns the registered tests into items, giving plugins a chance to validate the
// configuration, accept non-standard test functions, and parametrize tests.
func (s *Session) Collect() ([]*Item, error) {
	for _, p := range s.plugins {
		if c, ok := p.(Configurer); ok {
			if err := c.Configure(s.config); err != nil {
				return nil, err
			}
		}
	}

	var items []*Item
	for _, td := range s.tests {
		if err := s.checkCollectable(td); err != nil {
			return nil, err
		}
		m := &Metafunc{
			Name:         td.name,
			Function:     td.fn,
			FixtureNames: s.fixtureClosure(td.argNames),
			Config:       s.config,
		}
		for _, p := range s.plugins {
			if g, ok := p.(TestGenerator); ok {
				if err := g.GenerateTests(m); err != nil {
					return nil, fmt.Errorf("collecting %q: %w", td.name, err)
				}
			}
		}
		items = append(items, m.items(td)...)
	}
	return items, nil
}

func (s *Session) checkCollectable(td testDef) error {
	if _, ok := AsTestFunc(td.fn); ok {
		return nil
	}
	for _, p := range s.plugins {
		if c, ok := p.(ItemCollector); ok {
			accepted, err := c.CollectItem(td.name, td.fn)
			if err != nil {
				return fmt.Errorf("collecting %q: %w", td.name, err)
			}
			if accepted {
				return nil
			}
		}
	}
	return fmt.Errorf("test %q has unsupported function type %T", td.name, td.fn)
}

func (s *Session) fixtureClosure(argNames []string) []string {
	closure := append([]string(nil), argNames...)
	for i := 0; i < len(closure); i++ {
		def := s.fixtures[closure[i]]
		if def == nil {
			continue
		}
		for _, dep := range def.ArgNames {
			if !containsString(closure, dep) {
				closure = append(closure, dep)
			}
		}
	}
	return closure
}

// Run collects and runs all tests. It returns an error only if collection failed.
func (s *Session) Run(filter Filter, testLogger TestLogger) (Results, error) {
	items, err := s.Collect()
	if err != nil {
		return Results{}, err
	}
	return Run(filter, testLogger, func(c *Context) {
		for _, item := range items {
			item := item
			c.Run(item.Name, func(c *Context) { s.runItem(c, item) })
		}
	}), nil
}

func (s *Session) runItem(c *Context, item *Item) {
	if item.skipReason != "" {
		c.SkipWithReason(item.skipReason)
	}

	state := &itemState{
		session:    s,
		item:       item,
		context:    c,
		values:     make(Args),
		errs:       make(map[string]error),
		inProgress: make(map[string]bool),
	}
	testRequest := &FixtureRequest{state: state}
	for _, name := range item.FixtureNames {
		if _, err := state.getFixtureValue(name, testRequest); err != nil {
			c.Errorf("setup failed: %s", err)
			c.FailNow()
		}
	}
	item.Funcargs = state.values

	t := &T{context: c, item: item}
	for _, p := range s.plugins {
		if caller, ok := p.(TestCaller); ok {
			handled, err := caller.CallTest(t, item)
			if !handled {
				continue
			}
			if err != nil {
				c.Errorf("%s", err)
			}
			return
		}
	}
	fn, _ := AsTestFunc(item.Func)
	fn(t, item.TestArgs())
}

// itemState is the per-item fixture cache.
type itemState struct {
	session    *Session
	item       *Item
	context    *Context
	values     Args
	errs       map[string]error
	inProgress map[string]bool
}

func (st *itemState) getFixtureValue(name string, requester *FixtureRequest) (interface{}, error) {
	if name == RequestFixtureName {
		return requester, nil
	}
	if v, ok := st.values[name]; ok {
		return v, nil
	}
	if err := st.errs[name]; err != nil {
		return nil, err
	}
	if v, ok := st.item.Params[name]; ok {
		st.values[name] = v
		return v, nil
	}
	def := st.session.fixtures[name]
	if def == nil {
		return nil, fixtureError{name: name, err: errors.New("fixture not found")}
	}
	if st.inProgress[name] {
		return nil, fixtureError{name: name, err: errors.New("recursive dependency")}
	}
	st.inProgress[name] = true
	defer delete(st.inProgress, name)

	for _, p := range st.session.plugins {
		if h, ok := p.(FixtureSetupHook); ok {
			h.FixtureSetup(def)
		}
	}
	fn, ok := AsFixtureFunc(def.Func)
	if !ok {
		err := fixtureError{name: name, err: fmt.Errorf("unsupported function type %T", def.Func)}
		st.errs[name] = err
		return nil, err
	}

	req := &FixtureRequest{state: st, fixtureName: name}
	args := make(Args, len(def.ArgNames))
	for _, argName := range append([]string(nil), def.ArgNames...) {
		v, err := st.getFixtureValue(argName, req)
		if err != nil {
			st.errs[name] = err
			return nil, err
		}
		args[argName] = v
	}

	v, err := fn(args)
	if err != nil {
		err = fixtureError{name: name, err: err}
		st.errs[name] = err
		return nil, err
	}
	st.values[name] = v
	return v, nil
}

func (st *itemState) addFinalizer(fixtureName string, fn func() error) {
	c := st.context
	c.Defer(func() {
		if err := fn(); err != nil {
			if fixtureName == "" {
				c.Errorf("teardown failed: %s", err)
			} else {
				c.Errorf("teardown of fixture %q failed: %s", fixtureName, err)
			}
		}
	})
}

// Metafunc describes a test during collection, and lets plugins parametrize it.
type Metafunc struct {
	Name         string
	Function     interface{}
	FixtureNames []string
	Config       *Config

	calls      []callSpec
	emptyParam string
}

type callSpec struct {
	params map[string]interface{}
	ids    []string
}

// HasFixture returns true if the test transitively depends on name.
func (m *Metafunc) HasFixture(name string) bool {
	return containsString(m.FixtureNames, name)
}

// Parametrize multiplies the items produced for this test by the given values of argName.
// If ids is nil, IDs are generated from the argument name and index.
func (m *Metafunc) Parametrize(argName string, values []interface{}, ids []string) error {
	if ids != nil && len(ids) != len(values) {
		return fmt.Errorf("parametrize %q: got %d values but %d ids", argName, len(values), len(ids))
	}
	for _, c := range m.calls {
		if _, exists := c.params[argName]; exists {
			return fmt.Errorf("parametrize %q: already parametrized", argName)
		}
	}
	if len(values) == 0 {
		m.emptyParam = argName
		return nil
	}
	base := m.calls
	if base == nil {
		base = []callSpec{{params: map[string]interface{}{}}}
	}
	var calls []callSpec
	for _, c := range base {
		for i, v := range values {
			id := fmt.Sprintf("%s%d", argName, i)
			if ids != nil {
				id = ids[i]
			}
			params := make(map[string]interface{}, len(c.params)+1)
			for k, pv := range c.params {
				params[k] = pv
			}
			params[argName] = v
			calls = append(calls, callSpec{params: params, ids: append(append([]string(nil), c.ids...), id)})
		}
	}
	m.calls = calls
	return nil
}

func (m *Metafunc) items(td testDef) []*Item {
	newItem := func(name string, params map[string]interface{}) *Item {
		return &Item{
			Name:         name,
			OriginalName: td.name,
			Func:         td.fn,
			ArgNames:     td.argNames,
			FixtureNames: m.FixtureNames,
			Params:       params,
			Config:       m.Config,
		}
	}
	if m.emptyParam != "" {
		item := newItem(td.name, nil)
		item.skipReason = fmt.Sprintf("got empty parameter set for %q", m.emptyParam)
		return []*Item{item}
	}
	if len(m.calls) == 0 {
		return []*Item{newItem(td.name, nil)}
	}
	items := make([]*Item, 0, len(m.calls))
	for _, c := range m.calls {
		items = append(items, newItem(td.name+"["+strings.Join(c.ids, "-")+"]", c.params))
	}
	return items
}
