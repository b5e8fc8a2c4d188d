package framework

import (
	"sort"
	"sync"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

// Config holds the option values for a test session. Plugins define which options exist;
// the framework only stores them.
type Config struct {
	options map[string]ldvalue.Value
	lock    sync.RWMutex
}

func NewConfig() *Config {
	return &Config{options: make(map[string]ldvalue.Value)}
}

// SetOption stores an option value, replacing any previous value.
func (c *Config) SetOption(name string, value ldvalue.Value) {
	c.lock.Lock()
	c.options[name] = value
	c.lock.Unlock()
}

// Option returns the value of an option, or a null value if it was never set.
func (c *Config) Option(name string) ldvalue.Value {
	if c == nil {
		return ldvalue.Null()
	}
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.options[name]
}

// OptionNames returns the names of all options that have been set, sorted.
func (c *Config) OptionNames() []string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	ret := make([]string, 0, len(c.options))
	for name := range c.options {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}
