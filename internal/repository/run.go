package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"evgenkit/internal/clone"
	"evgenkit/internal/stream"
	"evgenkit/pkg/classdesc"
	"evgenkit/pkg/iface"
	"evgenkit/pkg/object"
)

// Driver is implemented by root objects that drive a run once every object
// is running.
type Driver interface {
	Drive(ctx context.Context) error
}

// Run is an isolated copy of an object, everything it reaches and the class
// defaults, living in a private arena. Names are preserved.
type Run struct {
	ID   uuid.UUID
	Root object.ID
	g    *graph
	log  zerolog.Logger
}

// Isolate full-clones the object at p together with the class defaults into
// a new run. The copies start uninitialized and untouched.
func (r *Repository) Isolate(ctx context.Context, p string) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := r.abs(p)
	rootID, ok := r.g.names[name]
	if !ok {
		return nil, fmt.Errorf("isolate %s: %w", name, object.ErrNotFound)
	}
	classes := make([]string, 0, len(r.g.defaults))
	for class := range r.g.defaults {
		if _, ok := r.g.defaultFor(class); ok {
			classes = append(classes, class)
		}
	}
	sort.Strings(classes)
	roots := []object.ID{rootID}
	for _, class := range classes {
		roots = append(roots, r.g.defaults[class])
	}
	g := newGraph(r.g.classes, r.g.ifaces)
	res, err := r.engine.Clone(r.g.arena, g.arena, roots, clone.Options{Mode: clone.Full})
	if err != nil {
		return nil, fmt.Errorf("isolate %s: %w", name, err)
	}
	for _, id := range res.Created {
		e, _ := g.arena.Get(id)
		b := e.Interfaced()
		b.SetState(object.StateUninitialized)
		b.Untouch()
		g.names[b.Name()] = id
	}
	for _, class := range classes {
		g.defaults[class], _ = res.Map.Translate(r.g.defaults[class])
	}
	run := &Run{ID: uuid.New(), Root: res.Roots[0], g: g, log: r.log}
	r.log.Debug().Str("run", run.ID.String()).Str("root", name).Int("objects", g.arena.Len()).Msg("run isolated")
	return run, nil
}

// LoadRun reads a run written by Run.Save.
func LoadRun(rd io.Reader, classes *classdesc.Registry, ifaces *iface.Registry) (*Run, error) {
	g := newGraph(classes, ifaces)
	sr := stream.NewReader(rd, classes, g.arena)
	if err := expectHeader(sr, runKind); err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	rawID := sr.ReadString()
	root := sr.ReadRef()
	if err := readGraph(sr, g); err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("load run: invalid run id %q: %w", rawID, err)
	}
	if root.IsNil() {
		return nil, errors.New("load run: missing root object")
	}
	return &Run{ID: id, Root: root, g: g, log: zerolog.Nop()}, nil
}

// Save streams the run.
func (run *Run) Save(w io.Writer) error {
	sw := stream.NewWriter(w, run.g.classes, run.g.arena.Get)
	sw.WriteString(runKind)
	sw.WriteUint(layoutVersion)
	sw.WriteString(run.ID.String())
	sw.WriteRef(run.Root)
	writeGraph(sw, run.g)
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// RootEntity returns the object the run was isolated from.
func (run *Run) RootEntity() object.Entity {
	e, _ := run.g.arena.Get(run.Root)
	return e
}

// Lookup resolves an absolute name inside the run.
func (run *Run) Lookup(name string) (object.Entity, bool) { return run.g.Resolve(name) }

// Names lists the objects of the run in lexical order.
func (run *Run) Names() []string { return run.g.sortedNames() }

// Classes lists the distinct classes of the run's objects.
func (run *Run) Classes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range run.g.arena.Entities() {
		if c := e.Interfaced().ClassName(); !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// Exec calls interface name of the root object, resolving paths in the
// run's namespace.
func (run *Run) Exec(name string, call iface.Call) (string, error) {
	return run.g.ifaces.Exec(run.g, run.RootEntity(), name, call)
}

// Len returns the number of objects in the run.
func (run *Run) Len() int { return run.g.arena.Len() }

// Init initializes the run's objects, dependencies first.
func (run *Run) Init(ctx context.Context) error {
	_, err := run.g.init(ctx)
	return err
}

// InitRun moves every object of the run to running.
func (run *Run) InitRun(ctx context.Context) error { return run.g.initRun(ctx) }

// Finish finishes every running object of the run.
func (run *Run) Finish(ctx context.Context) error { return run.g.finish(ctx) }

// Execute initializes the run, drives its root when the root is a Driver
// and finishes it. Finish runs whenever the run was started.
func (run *Run) Execute(ctx context.Context) error {
	if err := run.Init(ctx); err != nil {
		return err
	}
	if err := run.InitRun(ctx); err != nil {
		return err
	}
	var driveErr error
	if d, ok := run.RootEntity().(Driver); ok {
		driveErr = d.Drive(iface.NewContext(ctx, run.g))
		if driveErr != nil {
			driveErr = fmt.Errorf("drive %s: %w", run.RootEntity().Interfaced().Name(), driveErr)
		}
	}
	finishErr := run.Finish(ctx)
	run.log.Debug().Str("run", run.ID.String()).Err(errors.Join(driveErr, finishErr)).Msg("run executed")
	return errors.Join(driveErr, finishErr)
}
