package classdesc

import (
	"sort"
	"sync"

	"evgenkit/pkg/object"
)

// PluginTable is the explicit library table consulted when a class name is
// unknown. Only libraries added at startup can be loaded, so stream content
// never triggers arbitrary code loading.
type PluginTable struct {
	mu     sync.Mutex
	libs   map[string]func() error
	loaded map[string]bool
}

// NewPluginTable constructs an empty table.
func NewPluginTable() *PluginTable {
	return &PluginTable{
		libs:   make(map[string]func() error),
		loaded: make(map[string]bool),
	}
}

// Add makes library loadable. load registers the library's classes and runs
// at most once.
func (t *PluginTable) Add(library string, load func() error) error {
	if library == "" || load == nil {
		return object.SetupError{Kind: "library", Name: library, Reason: "empty library name or loader"}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.libs[library]; exists {
		return object.SetupError{Kind: "library", Name: library, Reason: "duplicate library", Err: object.ErrExists}
	}
	t.libs[library] = load
	return nil
}

// MarkLoaded records library as already registered, e.g. when it was
// installed eagerly at startup.
func (t *PluginTable) MarkLoaded(library string) {
	t.mu.Lock()
	t.loaded[library] = true
	t.mu.Unlock()
}

// Load implements Loader.
func (t *PluginTable) Load(library string) error {
	t.mu.Lock()
	if t.loaded[library] {
		t.mu.Unlock()
		return nil
	}
	load, ok := t.libs[library]
	t.mu.Unlock()
	if !ok {
		return object.SetupError{Kind: "library", Name: library, Reason: "library not in plugin table", Err: object.ErrNotFound}
	}
	if err := load(); err != nil {
		return object.SetupError{Kind: "library", Name: library, Reason: "load failed", Err: err}
	}
	t.MarkLoaded(library)
	return nil
}

// Libraries returns the names of all loadable libraries.
func (t *PluginTable) Libraries() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.libs))
	for name := range t.libs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Loaded reports whether library has been loaded.
func (t *PluginTable) Loaded(library string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loaded[library]
}
