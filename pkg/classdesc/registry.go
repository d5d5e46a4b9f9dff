// Package classdesc maps concrete entity classes to platform-independent
// names, base-class chains, versions and factories.
package classdesc

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"evgenkit/pkg/object"
)

// TypeDescriptor is the immutable registration record of one class.
type TypeDescriptor struct {
	name        string
	library     string
	description string
	version     int
	bases       []*TypeDescriptor
	factory     func() object.Entity
	output      func(object.Entity, object.OutputStream) error
	input       func(object.Entity, object.InputStream, int) error
}

// Name returns the registered class name.
func (d *TypeDescriptor) Name() string { return d.name }

// Library returns the library that provides the class.
func (d *TypeDescriptor) Library() string { return d.library }

// Description returns the human description.
func (d *TypeDescriptor) Description() string { return d.description }

// Version returns the persistent-layout version of the class's own state.
func (d *TypeDescriptor) Version() int { return d.version }

// Abstract reports whether the class has no factory.
func (d *TypeDescriptor) Abstract() bool { return d.factory == nil }

// Bases returns the direct base classes in declaration order.
func (d *TypeDescriptor) Bases() []*TypeDescriptor {
	return append([]*TypeDescriptor(nil), d.bases...)
}

// Output writes the class's own state of e.
func (d *TypeDescriptor) Output(e object.Entity, out object.OutputStream) error {
	if d.output == nil {
		return nil
	}
	return d.output(e, out)
}

// Input reads the class's own state of e written with the given version.
func (d *TypeDescriptor) Input(e object.Entity, in object.InputStream, version int) error {
	if d.input == nil {
		return nil
	}
	return d.input(e, in, version)
}

// Class is the registration request for a class whose hooks operate on T.
// T is either the concrete pointer type or an accessor interface that derived
// classes also satisfy through embedding.
type Class[T any] struct {
	Name        string
	Library     string
	Description string
	Version     int
	// Bases defaults to the root class.
	Bases []string
	// New is nil for abstract classes.
	New    func() object.Entity
	Output func(T, object.OutputStream) error
	Input  func(T, object.InputStream, int) error
	// View defaults to a type assertion.
	View func(object.Entity) (T, bool)
}

// Loader loads a library by name so the classes it provides get registered.
type Loader interface {
	Load(library string) error
}

// Registry is the process-wide class table.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*TypeDescriptor
	loader  Loader
}

// NewRegistry constructs a registry holding only the root class.
func NewRegistry() *Registry {
	r := &Registry{classes: make(map[string]*TypeDescriptor)}
	r.classes[object.RootClass] = &TypeDescriptor{
		name:        object.RootClass,
		description: "Root of every configurable class.",
	}
	return r
}

// SetLoader installs the loader consulted for unknown class names.
func (r *Registry) SetLoader(l Loader) {
	r.mu.Lock()
	r.loader = l
	r.mu.Unlock()
}

// Register adds a class. Duplicate names and unknown bases are setup errors.
func Register[T any](r *Registry, c Class[T]) error {
	if c.Name == "" {
		return object.SetupError{Kind: "class", Name: c.Name, Reason: "empty class name"}
	}
	if c.Version < 0 {
		return object.SetupError{Kind: "class", Name: c.Name, Reason: "negative version"}
	}
	if (c.Output == nil) != (c.Input == nil) {
		return object.SetupError{Kind: "class", Name: c.Name, Reason: "output and input hooks must be registered together"}
	}
	view := c.View
	if view == nil {
		view = func(e object.Entity) (T, bool) {
			t, ok := e.(T)
			return t, ok
		}
	}
	d := &TypeDescriptor{
		name:        c.Name,
		library:     c.Library,
		description: c.Description,
		version:     c.Version,
		factory:     c.New,
	}
	if c.Output != nil {
		d.output = func(e object.Entity, out object.OutputStream) error {
			t, ok := view(e)
			if !ok {
				return fmt.Errorf("class %s cannot write %T", c.Name, e)
			}
			return c.Output(t, out)
		}
		d.input = func(e object.Entity, in object.InputStream, version int) error {
			t, ok := view(e)
			if !ok {
				return fmt.Errorf("class %s cannot read into %T", c.Name, e)
			}
			return c.Input(t, in, version)
		}
	}
	bases := c.Bases
	if len(bases) == 0 {
		bases = []string{object.RootClass}
	}
	return r.add(d, bases)
}

func (r *Registry) add(d *TypeDescriptor, bases []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.classes[d.name]; exists {
		return object.SetupError{Kind: "class", Name: d.name, Reason: "duplicate registration", Err: object.ErrExists}
	}
	seen := make(map[string]bool, len(bases))
	for _, name := range bases {
		if seen[name] {
			return object.SetupError{Kind: "class", Name: d.name, Reason: fmt.Sprintf("base %q listed twice", name)}
		}
		seen[name] = true
		base, ok := r.classes[name]
		if !ok {
			return object.SetupError{Kind: "class", Name: d.name, Reason: fmt.Sprintf("unknown base %q", name), Err: object.ErrNotFound}
		}
		d.bases = append(d.bases, base)
	}
	r.classes[d.name] = d
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (*TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.classes[name]
	return d, ok
}

// Ensure returns the descriptor for name, loading library first when the
// class is unknown.
func (r *Registry) Ensure(name, library string) (*TypeDescriptor, error) {
	if d, ok := r.Lookup(name); ok {
		return d, nil
	}
	r.mu.RLock()
	loader := r.loader
	r.mu.RUnlock()
	if loader == nil || library == "" {
		return nil, fmt.Errorf("class %q: %w", name, object.ErrNotFound)
	}
	if err := loader.Load(library); err != nil {
		return nil, fmt.Errorf("class %q: load library %q: %w", name, library, err)
	}
	if d, ok := r.Lookup(name); ok {
		return d, nil
	}
	return nil, fmt.Errorf("class %q not provided by library %q: %w", name, library, object.ErrNotFound)
}

// Create default-constructs an instance of name.
func (r *Registry) Create(name string) (object.Entity, error) {
	return r.CreateFrom(name, "")
}

// CreateFrom default-constructs an instance of name, loading library first
// when the class is unknown.
func (r *Registry) CreateFrom(name, library string) (object.Entity, error) {
	d, err := r.Ensure(name, library)
	if err != nil {
		return nil, err
	}
	return d.New()
}

// New constructs a default instance of the class.
func (d *TypeDescriptor) New() (object.Entity, error) {
	if d.factory == nil {
		return nil, fmt.Errorf("class %q is abstract", d.name)
	}
	e := d.factory()
	if e == nil {
		return nil, errors.New("factory for " + d.name + " returned nil")
	}
	e.Interfaced().SetClassName(d.name)
	return e, nil
}

// Linearize returns name followed by all its ancestors, every class before
// its bases and earlier-declared bases first, duplicates removed. Interface
// lookup walks this order.
func (r *Registry) Linearize(name string) []*TypeDescriptor {
	d, ok := r.Lookup(name)
	if !ok {
		return nil
	}
	var post []*TypeDescriptor
	seen := make(map[string]bool)
	var walk func(*TypeDescriptor)
	walk = func(d *TypeDescriptor) {
		if seen[d.name] {
			return
		}
		seen[d.name] = true
		for i := len(d.bases) - 1; i >= 0; i-- {
			walk(d.bases[i])
		}
		post = append(post, d)
	}
	walk(d)
	out := make([]*TypeDescriptor, len(post))
	for i, d := range post {
		out[len(post)-1-i] = d
	}
	return out
}

// PersistOrder returns the ancestors of name and name itself with every base
// before the classes deriving from it. The stream writes class payloads in
// this order.
func (r *Registry) PersistOrder(name string) []*TypeDescriptor {
	d, ok := r.Lookup(name)
	if !ok {
		return nil
	}
	var out []*TypeDescriptor
	seen := make(map[string]bool)
	var walk func(*TypeDescriptor)
	walk = func(d *TypeDescriptor) {
		if seen[d.name] {
			return
		}
		seen[d.name] = true
		for _, b := range d.bases {
			walk(b)
		}
		out = append(out, d)
	}
	walk(d)
	return out
}

// IsA reports whether class name is base or derives from it.
func (r *Registry) IsA(name, base string) bool {
	for _, d := range r.Linearize(name) {
		if d.name == base {
			return true
		}
	}
	return false
}

// Classes returns every registered descriptor ordered by name.
func (r *Registry) Classes() []*TypeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*TypeDescriptor, 0, len(r.classes))
	for _, d := range r.classes {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}
