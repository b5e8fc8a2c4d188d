package loops

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	// BasicLoopName is the name of the default loop implementation.
	BasicLoopName = "basic"
	// PinnedLoopName is the name of the loop implementation whose executor is locked to an OS thread.
	PinnedLoopName = "pinned"

	// AllLoops selects every registered implementation.
	AllLoops = "all"

	optionalSuffix = "?"
)

// Factory creates a new loop.
type Factory func() (*Loop, error)

// NamedFactory is a Factory together with the name it was registered under.
type NamedFactory struct {
	Name    string
	Factory Factory
}

// UnknownLoopError is returned by Select when a required loop implementation is not available.
type UnknownLoopError struct {
	Name      string
	Available []string
}

func (e *UnknownLoopError) Error() string {
	return fmt.Sprintf("unknown loop %q, available loops: [%s]", e.Name, strings.Join(e.Available, " "))
}

// Registry maps loop implementation names to factories.
type Registry struct {
	factories map[string]Factory
	builtins  []string
	lock      sync.Mutex
}

// NewRegistry creates a registry containing the builtin implementations.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]Factory{
			BasicLoopName:  NewBasicLoop,
			PinnedLoopName: NewPinnedLoop,
		},
		builtins: []string{BasicLoopName, PinnedLoopName},
	}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry used by Register.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register makes an alternative loop implementation available in the default registry. It is
// meant to be called from the init function of the package that provides the implementation,
// so that the implementation is only selectable when that package is linked in.
func Register(name string, factory Factory) {
	defaultRegistry.Register(name, factory)
}

// Register adds or replaces a loop implementation.
func (r *Registry) Register(name string, factory Factory) {
	r.lock.Lock()
	r.factories[name] = factory
	r.lock.Unlock()
}

// Available returns the names of all registered implementations, sorted.
func (r *Registry) Available() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	ret := make([]string, 0, len(r.factories))
	for name := range r.factories {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

// Select parses a loop selection: a comma-separated list of names, or "all". A name ending in
// "?" is optional and is skipped silently if no such implementation is registered; any other
// unknown name is an error. Duplicates are ignored, and the order of the list is kept.
func (r *Registry) Select(selection string) ([]NamedFactory, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if strings.TrimSpace(selection) == AllLoops {
		selection = r.allSelectionLocked()
	}

	var ret []NamedFactory
	seen := make(map[string]bool)
	for _, entry := range strings.Split(selection, ",") {
		required := !strings.HasSuffix(strings.TrimSpace(entry), optionalSuffix)
		name := strings.Trim(entry, " "+optionalSuffix)
		if name == "" || seen[name] {
			continue
		}
		factory, ok := r.factories[name]
		if !ok {
			if required {
				return nil, &UnknownLoopError{Name: name, Available: r.availableLocked()}
			}
			continue
		}
		seen[name] = true
		ret = append(ret, NamedFactory{Name: name, Factory: factory})
	}
	return ret, nil
}

func (r *Registry) allSelectionLocked() string {
	names := append([]string(nil), r.builtins...)
	var others []string
	for name := range r.factories {
		if !containsName(r.builtins, name) {
			others = append(others, name+optionalSuffix)
		}
	}
	sort.Strings(others)
	return strings.Join(append(names, others...), ",")
}

func (r *Registry) availableLocked() []string {
	ret := make([]string, 0, len(r.factories))
	for name := range r.factories {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
