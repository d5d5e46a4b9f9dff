// Package repository implements the hierarchical namespace of live entities:
// creation, path lookup, textual command dispatch, lifecycle passes, forced
// removal, isolation of runs and whole-repository persistence.
package repository

import (
	"context"
	"fmt"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"evgenkit/internal/clone"
	"evgenkit/pkg/classdesc"
	"evgenkit/pkg/iface"
	"evgenkit/pkg/object"
)

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger used for namespace and lifecycle events.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Repository) { r.log = l.With().Str("component", "repository").Logger() }
}

// Repository is the namespace of live entities. All operations are
// serialized by a single mutex.
type Repository struct {
	mu     sync.Mutex
	g      *graph
	engine *clone.Engine
	dirs   map[string]bool
	cwd    string
	log    zerolog.Logger
}

// New constructs an empty repository containing only the root directory.
func New(classes *classdesc.Registry, ifaces *iface.Registry, opts ...Option) *Repository {
	r := &Repository{
		g:      newGraph(classes, ifaces),
		engine: clone.New(ifaces),
		dirs:   map[string]bool{"/": true},
		cwd:    "/",
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// scope resolves paths relative to the current directory. It assumes the
// repository lock is held.
type scope struct{ r *Repository }

func (s scope) Resolve(p string) (object.Entity, bool) { return s.r.g.Resolve(s.r.abs(p)) }

func (s scope) Entity(id object.ID) (object.Entity, bool) { return s.r.g.Entity(id) }

func (s scope) IsA(class, base string) bool { return s.r.g.IsA(class, base) }

func (r *Repository) abs(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return r.cwd
	}
	if !strings.HasPrefix(p, "/") {
		p = path.Join(r.cwd, p)
	}
	return path.Clean(p)
}

// Classes returns the class registry.
func (r *Repository) Classes() *classdesc.Registry { return r.g.classes }

// Interfaces returns the interface registry.
func (r *Repository) Interfaces() *iface.Registry { return r.g.ifaces }

// Len returns the number of live entities.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.g.arena.Len()
}

// Names returns every entity name in lexical order.
func (r *Repository) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.g.sortedNames()
}

// Lookup resolves p, absolute or relative to the current directory. Absence
// is reported with false, not an error.
func (r *Repository) Lookup(p string) (object.Entity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.g.Resolve(r.abs(p))
}

// Get returns the entity behind id.
func (r *Repository) Get(id object.ID) (object.Entity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.g.arena.Get(id)
}

// Mkdir creates a directory and any missing parents.
func (r *Repository) Mkdir(p string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mkdir(p)
}

func (r *Repository) mkdir(p string) error {
	dir := r.abs(p)
	for d := dir; d != "/"; d = path.Dir(d) {
		if _, taken := r.g.names[d]; taken {
			return fmt.Errorf("mkdir %s: %s is an object: %w", dir, d, object.ErrExists)
		}
	}
	for d := dir; d != "/"; d = path.Dir(d) {
		r.dirs[d] = true
	}
	return nil
}

// Cd changes the current directory.
func (r *Repository) Cd(p string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cd(p)
}

func (r *Repository) cd(p string) error {
	dir := r.abs(p)
	if !r.dirs[dir] {
		return fmt.Errorf("cd %s: no such directory: %w", dir, object.ErrNotFound)
	}
	r.cwd = dir
	return nil
}

// Pwd returns the current directory.
func (r *Repository) Pwd() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cwd
}

// List returns the entries of a directory: subdirectories with a trailing
// slash, then objects, each group sorted.
func (r *Repository) List(p string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(p)
}

func (r *Repository) list(p string) ([]string, error) {
	dir := r.abs(p)
	if !r.dirs[dir] {
		return nil, fmt.Errorf("ls %s: no such directory: %w", dir, object.ErrNotFound)
	}
	var subdirs, objects []string
	for d := range r.dirs {
		if d != "/" && path.Dir(d) == dir {
			subdirs = append(subdirs, path.Base(d)+"/")
		}
	}
	for name := range r.g.names {
		if path.Dir(name) == dir {
			objects = append(objects, path.Base(name))
		}
	}
	sort.Strings(subdirs)
	sort.Strings(objects)
	return append(subdirs, objects...), nil
}

func (r *Repository) checkFree(name string) error {
	if name == "/" {
		return fmt.Errorf("%s: the root directory cannot name an object: %w", name, object.ErrExists)
	}
	if _, taken := r.g.names[name]; taken {
		return fmt.Errorf("%s: %w", name, object.ErrExists)
	}
	if r.dirs[name] {
		return fmt.Errorf("%s is a directory: %w", name, object.ErrExists)
	}
	if parent := path.Dir(name); !r.dirs[parent] {
		return fmt.Errorf("%s: no directory %s: %w", name, parent, object.ErrNotFound)
	}
	return nil
}

// Create constructs an instance of class under p, loading library first when
// the class is not registered yet.
func (r *Repository) Create(class, p, library string) (object.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.create(class, p, library)
}

func (r *Repository) create(class, p, library string) (object.Entity, error) {
	name := r.abs(p)
	if err := r.checkFree(name); err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	e, err := r.g.classes.CreateFrom(class, library)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	r.g.insert(e, name)
	r.log.Debug().Str("class", class).Str("name", name).Msg("object created")
	return e, nil
}

// Add takes ownership of an externally constructed entity of a registered
// class.
func (r *Repository) Add(e object.Entity, p string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := r.abs(p)
	if _, ok := r.g.classes.Lookup(e.Interfaced().ClassName()); !ok {
		return fmt.Errorf("add %s: class %q: %w", name, e.Interfaced().ClassName(), object.ErrNotFound)
	}
	if err := r.checkFree(name); err != nil {
		return fmt.Errorf("add: %w", err)
	}
	r.g.insert(e, name)
	return nil
}

// Rename moves an object to a new path.
func (r *Repository) Rename(from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rename(from, to)
}

func (r *Repository) rename(from, to string) error {
	src, dst := r.abs(from), r.abs(to)
	id, ok := r.g.names[src]
	if !ok {
		return fmt.Errorf("mv %s: %w", src, object.ErrNotFound)
	}
	if err := r.checkFree(dst); err != nil {
		return fmt.Errorf("mv: %w", err)
	}
	e, _ := r.g.arena.Get(id)
	delete(r.g.names, src)
	r.g.names[dst] = id
	e.Interfaced().SetName(dst)
	return nil
}

// Copy clones a single object under a new name. References to other objects
// keep their targets; references to itself point at the copy.
func (r *Repository) Copy(from, to string) (object.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyObject(from, to)
}

func (r *Repository) copyObject(from, to string) (object.Entity, error) {
	src, dst := r.abs(from), r.abs(to)
	id, ok := r.g.names[src]
	if !ok {
		return nil, fmt.Errorf("cp %s: %w", src, object.ErrNotFound)
	}
	if err := r.checkFree(dst); err != nil {
		return nil, fmt.Errorf("cp: %w", err)
	}
	res, err := r.engine.Clone(r.g.arena, r.g.arena, []object.ID{id}, clone.Options{
		KeepExternal: true,
		Follow:       func(object.ID) bool { return false },
	})
	if err != nil {
		return nil, fmt.Errorf("cp %s: %w", src, err)
	}
	cp, _ := r.g.arena.Get(res.Roots[0])
	b := cp.Interfaced()
	b.SetName(dst)
	b.SetState(object.StateUninitialized)
	r.g.names[dst] = res.Roots[0]
	return cp, nil
}

// Remove deletes an object or an empty directory. An object still referenced
// by others is only removed when force is set; every referring interface is
// then nulled and its owner touched.
func (r *Repository) Remove(p string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove(p, force)
}

func (r *Repository) remove(p string, force bool) error {
	name := r.abs(p)
	if r.dirs[name] {
		if entries, _ := r.list(name); len(entries) > 0 {
			return fmt.Errorf("rm %s: directory not empty", name)
		}
		if name == "/" || strings.HasPrefix(r.cwd+"/", name+"/") {
			return fmt.Errorf("rm %s: directory in use", name)
		}
		delete(r.dirs, name)
		return nil
	}
	id, ok := r.g.names[name]
	if !ok {
		return fmt.Errorf("rm %s: %w", name, object.ErrNotFound)
	}
	referrers := r.g.referrers(id)
	if len(referrers) > 0 && !force {
		paths := make([]string, len(referrers))
		for i, e := range referrers {
			paths[i] = e.Interfaced().Name()
		}
		return fmt.Errorf("rm %s: referenced by %s: %w", name, strings.Join(paths, ", "), object.ErrReferenced)
	}
	for _, e := range referrers {
		if _, ok := e.(object.Unlinker); !ok && slices.Contains(object.References(e), id) {
			return fmt.Errorf("rm %s: %s holds a reference that cannot be cleared: %w", name, e.Interfaced().Name(), object.ErrReferenced)
		}
	}
	for _, e := range referrers {
		r.g.ifaces.Unlink(e, id)
		if u, ok := e.(object.Unlinker); ok {
			u.Unlink(id)
		}
		e.Interfaced().Touch()
	}
	for class, def := range r.g.defaults {
		if def == id {
			delete(r.g.defaults, class)
		}
	}
	r.g.arena.Remove(id)
	delete(r.g.names, name)
	r.log.Debug().Str("name", name).Bool("force", force).Int("referrers", len(referrers)).Msg("object removed")
	return nil
}

// SetDefault makes the object at p the default for class. DefaultIfNull
// references of that class bind to it.
func (r *Repository) SetDefault(class, p string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setDefault(class, p)
}

func (r *Repository) setDefault(class, p string) error {
	name := r.abs(p)
	e, ok := r.g.Resolve(name)
	if !ok {
		return fmt.Errorf("setdefault %s: %w", name, object.ErrNotFound)
	}
	if _, ok := r.g.classes.Lookup(class); !ok {
		return fmt.Errorf("setdefault: class %q: %w", class, object.ErrNotFound)
	}
	if !r.g.classes.IsA(e.Interfaced().ClassName(), class) {
		return fmt.Errorf("setdefault: %s is a %s, not a %s", name, e.Interfaced().ClassName(), class)
	}
	r.g.defaults[class] = e.Interfaced().ID()
	return nil
}

// Default returns the default object for class.
func (r *Repository) Default(class string) (object.Entity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.g.defaultFor(class)
	if !ok {
		return nil, false
	}
	return r.g.arena.Get(id)
}

// Referrers returns the names of the objects referencing p.
func (r *Repository) Referrers(p string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.g.names[r.abs(p)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", r.abs(p), object.ErrNotFound)
	}
	var out []string
	for _, e := range r.g.referrers(id) {
		out = append(out, e.Interfaced().Name())
	}
	sort.Strings(out)
	return out, nil
}

// Init initializes every uninitialized object, dependencies first. The first
// failure aborts the pass with an InitError naming the object.
func (r *Repository) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.g.init(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("init pass failed")
		return err
	}
	r.log.Debug().Int("initialized", n).Msg("init pass complete")
	return nil
}

// InitRun moves every object to running. It is refused unless every object
// is initialized.
func (r *Repository) InitRun(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.g.initRun(ctx)
}

// Finish finishes every running object. Calling it again is a no-op.
func (r *Repository) Finish(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.g.finish(ctx)
}

// Update recomputes every touched object and its dependents, dependencies
// first, and clears their touched flags. It returns how many were visited.
func (r *Repository) Update(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.g.update(ctx)
}
