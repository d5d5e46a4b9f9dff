package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"evgenkit/pkg/classdesc"
	"evgenkit/pkg/iface"
	"evgenkit/pkg/object"
)

// graph is a named entity set with its lifecycle. Both the repository and an
// isolated run are built on it. It is not synchronized; owners lock.
type graph struct {
	classes  *classdesc.Registry
	ifaces   *iface.Registry
	arena    *object.Arena
	names    map[string]object.ID
	defaults map[string]object.ID
}

func newGraph(classes *classdesc.Registry, ifaces *iface.Registry) *graph {
	return &graph{
		classes:  classes,
		ifaces:   ifaces,
		arena:    object.NewArena(),
		names:    make(map[string]object.ID),
		defaults: make(map[string]object.ID),
	}
}

// Resolve implements iface.Env for absolute names.
func (g *graph) Resolve(name string) (object.Entity, bool) {
	id, ok := g.names[name]
	if !ok {
		return nil, false
	}
	return g.arena.Get(id)
}

// Entity implements iface.Env.
func (g *graph) Entity(id object.ID) (object.Entity, bool) { return g.arena.Get(id) }

// IsA implements iface.Env.
func (g *graph) IsA(class, base string) bool { return g.classes.IsA(class, base) }

func (g *graph) defaultFor(class string) (object.ID, bool) {
	id, ok := g.defaults[class]
	if !ok {
		return object.Nil, false
	}
	if _, live := g.arena.Get(id); !live {
		return object.Nil, false
	}
	return id, true
}

func (g *graph) insert(e object.Entity, name string) object.ID {
	e.Interfaced().SetName(name)
	id := g.arena.Add(e)
	g.names[name] = id
	return id
}

func (g *graph) sortedNames() []string {
	out := make([]string, 0, len(g.names))
	for name := range g.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// referrers returns every other entity holding a reference to id.
func (g *graph) referrers(id object.ID) []object.Entity {
	var out []object.Entity
	for _, e := range g.arena.Entities() {
		if e.Interfaced().ID() == id {
			continue
		}
		for _, ref := range g.ifaces.References(e) {
			if ref == id {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// dependencyOrder returns the entities reachable from start that satisfy
// include, each after the entities it references. Cycles are broken at the
// first revisit.
func (g *graph) dependencyOrder(start []object.ID, include func(object.ID) bool) []object.ID {
	visited := make(map[object.ID]bool)
	var order []object.ID
	var visit func(object.ID)
	visit = func(id object.ID) {
		if visited[id] || (include != nil && !include(id)) {
			return
		}
		visited[id] = true
		e, ok := g.arena.Get(id)
		if !ok {
			return
		}
		for _, dep := range g.ifaces.References(e) {
			visit(dep)
		}
		order = append(order, id)
	}
	for _, id := range start {
		visit(id)
	}
	return order
}

func (g *graph) init(ctx context.Context) (int, error) {
	ctx = iface.NewContext(ctx, g)
	pending := func(e object.Entity) bool {
		st := e.Interfaced().State()
		return st == object.StateUninitialized || st == object.StateError
	}
	// Defaults are bound before ordering so the objects they point at are
	// initialized first.
	for _, e := range g.arena.Entities() {
		if pending(e) {
			g.ifaces.BindDefaults(e, g.defaultFor)
		}
	}
	count := 0
	for _, id := range g.dependencyOrder(g.arena.IDs(), nil) {
		e, _ := g.arena.Get(id)
		if !pending(e) {
			continue
		}
		b := e.Interfaced()
		b.SetState(object.StateInitializing)
		if in, ok := e.(object.Initializer); ok {
			if err := in.DoInit(ctx); err != nil {
				b.SetState(object.StateError)
				return count, object.InitError{Path: b.Name(), Err: err}
			}
		}
		b.SetState(object.StateInitialized)
		count++
	}
	return count, nil
}

func (g *graph) initRun(ctx context.Context) error {
	order := g.dependencyOrder(g.arena.IDs(), nil)
	for _, id := range order {
		e, _ := g.arena.Get(id)
		if st := e.Interfaced().State(); st != object.StateInitialized {
			return object.InitError{Path: e.Interfaced().Name(), Err: fmt.Errorf("state is %s, every object must be initialized before a run", st)}
		}
	}
	ctx = iface.NewContext(ctx, g)
	for _, id := range order {
		e, _ := g.arena.Get(id)
		if ri, ok := e.(object.RunInitializer); ok {
			if err := ri.DoInitRun(ctx); err != nil {
				return object.InitError{Path: e.Interfaced().Name(), Err: err}
			}
		}
		e.Interfaced().SetState(object.StateRunning)
	}
	return nil
}

// finish calls every running entity's finisher. Failures do not stop the
// pass; they are joined.
func (g *graph) finish(ctx context.Context) error {
	ctx = iface.NewContext(ctx, g)
	var errs []error
	for _, e := range g.arena.Entities() {
		b := e.Interfaced()
		if b.State() != object.StateRunning {
			continue
		}
		if f, ok := e.(object.Finisher); ok {
			if err := f.DoFinish(ctx); err != nil {
				errs = append(errs, fmt.Errorf("finish %s: %w", b.Name(), err))
				continue
			}
		}
		b.SetState(object.StateFinished)
	}
	return errors.Join(errs...)
}

// update propagates the touched flag to every entity depending on a touched
// one and recomputes them dependencies first.
func (g *graph) update(ctx context.Context) (int, error) {
	dirty := make(map[object.ID]bool)
	var queue []object.ID
	for _, e := range g.arena.Entities() {
		if e.Interfaced().Touched() {
			id := e.Interfaced().ID()
			dirty[id] = true
			queue = append(queue, id)
		}
	}
	if len(queue) == 0 {
		return 0, nil
	}
	dependents := make(map[object.ID][]object.ID)
	for _, e := range g.arena.Entities() {
		for _, ref := range g.ifaces.References(e) {
			dependents[ref] = append(dependents[ref], e.Interfaced().ID())
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range dependents[id] {
			if !dirty[dep] {
				dirty[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	start := make([]object.ID, 0, len(dirty))
	for id := range dirty {
		start = append(start, id)
	}
	sort.Slice(start, func(i, j int) bool { return start[i] < start[j] })
	ctx = iface.NewContext(ctx, g)
	order := g.dependencyOrder(start, func(id object.ID) bool { return dirty[id] })
	for _, id := range order {
		e, _ := g.arena.Get(id)
		if u, ok := e.(object.Updater); ok {
			if err := u.DoUpdate(ctx); err != nil {
				return 0, fmt.Errorf("update %s: %w", e.Interfaced().Name(), err)
			}
		}
		e.Interfaced().Untouch()
	}
	return len(order), nil
}
