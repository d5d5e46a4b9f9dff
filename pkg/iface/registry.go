package iface

import (
	"fmt"
	"sync"

	"evgenkit/pkg/classdesc"
	"evgenkit/pkg/object"
)

// Registry holds the interfaces declared by each class and resolves them
// through the class's base chain.
type Registry struct {
	mu       sync.RWMutex
	classes  *classdesc.Registry
	declared map[string][]Descriptor
	byName   map[string]map[string]Descriptor
}

// NewRegistry constructs a registry bound to classes with the root
// interfaces already declared.
func NewRegistry(classes *classdesc.Registry) *Registry {
	r := &Registry{
		classes:  classes,
		declared: make(map[string][]Descriptor),
		byName:   make(map[string]map[string]Descriptor),
	}
	if err := r.Register(object.RootClass, rootInterfaces()...); err != nil {
		panic(err)
	}
	return r
}

func rootInterfaces() []Descriptor {
	return []Descriptor{
		&Command[object.Entity]{
			Name:           "Comment",
			Description:    "Append a line to the object's comment.",
			DependencySafe: true,
			Handler: func(e object.Entity, args string) (string, error) {
				e.Interfaced().AppendComment(args)
				return "", nil
			},
		},
		&Command[object.Entity]{
			Name:           "ClearComment",
			Description:    "Remove the object's comment.",
			DependencySafe: true,
			Handler: func(e object.Entity, _ string) (string, error) {
				e.Interfaced().SetComment("")
				return "", nil
			},
		},
		&Command[object.Entity]{
			Name:        "Touch",
			Description: "Mark the object as changed so dependents are updated.",
			Handler: func(object.Entity, string) (string, error) {
				return "", nil
			},
		},
		&Command[object.Entity]{
			Name:        "GetComment",
			Description: "Print the object's comment.",
			ReadOnly:    true,
			Handler: func(e object.Entity, _ string) (string, error) {
				return e.Interfaced().Comment(), nil
			},
		},
	}
}

// Classes returns the class registry interfaces are resolved against.
func (r *Registry) Classes() *classdesc.Registry { return r.classes }

// Register declares descriptors on class. The class must be registered and
// names must be unique within it.
func (r *Registry) Register(class string, ds ...Descriptor) error {
	if _, ok := r.classes.Lookup(class); !ok {
		return object.SetupError{Kind: "interface", Name: class, Reason: "unknown class", Err: object.ErrNotFound}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	names := r.byName[class]
	if names == nil {
		names = make(map[string]Descriptor)
	}
	staged := make(map[string]bool, len(ds))
	for _, d := range ds {
		name := d.Info().Name
		if err := d.validate(); err != nil {
			return object.SetupError{Kind: "interface", Name: class + ":" + name, Reason: err.Error()}
		}
		if bound := d.boundTo(); bound != "" && bound != class {
			return object.SetupError{Kind: "interface", Name: class + ":" + name, Reason: "descriptor already registered for class " + bound}
		}
		if _, dup := names[name]; dup || staged[name] {
			return object.SetupError{Kind: "interface", Name: class + ":" + name, Reason: "duplicate interface", Err: object.ErrExists}
		}
		staged[name] = true
	}
	for _, d := range ds {
		if err := d.bind(class); err != nil {
			return object.SetupError{Kind: "interface", Name: class + ":" + d.Info().Name, Reason: err.Error()}
		}
		names[d.Info().Name] = d
		r.declared[class] = append(r.declared[class], d)
	}
	r.byName[class] = names
	return nil
}

// Declared returns the descriptors declared directly on class.
func (r *Registry) Declared(class string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Descriptor(nil), r.declared[class]...)
}

// Find resolves name on class, searching derived classes before bases.
func (r *Registry) Find(class, name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.classes.Linearize(class) {
		if desc, ok := r.byName[d.Name()][name]; ok {
			return desc, true
		}
	}
	return nil, false
}

// All returns every interface visible on class. Derived declarations hide
// base declarations of the same name.
func (r *Registry) All(class string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []Descriptor
	for _, d := range r.classes.Linearize(class) {
		for _, desc := range r.declared[d.Name()] {
			name := desc.Info().Name
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, desc)
		}
	}
	return out
}

func (r *Registry) referencing(class string) []Referencing {
	var out []Referencing
	for _, d := range r.All(class) {
		if ref, ok := d.(Referencing); ok {
			out = append(out, ref)
		}
	}
	return out
}

// Exec runs one interface call on e.
func (r *Registry) Exec(env Env, e object.Entity, name string, call Call) (string, error) {
	class := e.Interfaced().ClassName()
	d, ok := r.Find(class, name)
	if !ok {
		return "", failure(e, name, call, fmt.Sprintf("class %s has no interface %q", class, name), object.ErrNotFound)
	}
	return d.Exec(env, e, call)
}

// References returns every non-null reference held by e, through its
// reference interfaces and its Referrer hook, without duplicates.
func (r *Registry) References(e object.Entity) []object.ID {
	seen := make(map[object.ID]bool)
	var out []object.ID
	add := func(ids []object.ID) {
		for _, id := range ids {
			if id.IsNil() || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, ref := range r.referencing(e.Interfaced().ClassName()) {
		add(ref.Targets(e))
	}
	add(object.References(e))
	return out
}

// Rebind redirects every reference interface of e through rb.
func (r *Registry) Rebind(e object.Entity, rb Rebinding) error {
	for _, ref := range r.referencing(e.Interfaced().ClassName()) {
		if err := ref.Rebind(e, rb); err != nil {
			return err
		}
	}
	return nil
}

// Unlink nulls every interface reference from e to target.
func (r *Registry) Unlink(e object.Entity, target object.ID) bool {
	changed := false
	for _, ref := range r.referencing(e.Interfaced().ClassName()) {
		if ref.Unlink(e, target) {
			changed = true
		}
	}
	return changed
}

// BindDefaults points null DefaultIfNull references of e at the defaults
// supplied by def.
func (r *Registry) BindDefaults(e object.Entity, def func(class string) (object.ID, bool)) bool {
	changed := false
	for _, ref := range r.referencing(e.Interfaced().ClassName()) {
		if ref.BindDefault(e, def) {
			changed = true
		}
	}
	return changed
}
