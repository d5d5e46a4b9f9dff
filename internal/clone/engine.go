// Package clone duplicates connected entity sets. A fan-out pass copies every
// reachable entity and records it in a translation map; a rebind pass, run
// only once fan-out is complete, redirects the copies' references to the
// copies.
package clone

import (
	"errors"
	"fmt"

	"evgenkit/pkg/iface"
	"evgenkit/pkg/object"
)

// Mode selects the per-entity copy primitive.
type Mode int

const (
	// Shallow copies with Clone.
	Shallow Mode = iota
	// Full copies with FullClone where available and runs PostRebind fix-ups.
	Full
)

// Options tune one clone operation.
type Options struct {
	Mode Mode
	// KeepExternal leaves references to entities outside the cloned set
	// pointing at the originals. Only meaningful when source and destination
	// share an arena.
	KeepExternal bool
	// Follow limits fan-out to the targets it accepts. Nil follows every
	// reference.
	Follow func(object.ID) bool
	// Default supplies targets for DefaultIfNull references whose original
	// target was not cloned.
	Default func(class string) (object.ID, bool)
}

// Result describes a finished clone.
type Result struct {
	Map object.TranslationMap
	// Roots holds the copies of the requested roots in request order.
	Roots []object.ID
	// Created holds every copy in creation order.
	Created []object.ID
}

// Engine clones entities using the reference interfaces of an interface
// registry.
type Engine struct {
	ifaces *iface.Registry
}

// New constructs an engine.
func New(ifaces *iface.Registry) *Engine {
	return &Engine{ifaces: ifaces}
}

// Clone copies roots and everything reachable from them from src into dst.
// Any failure removes every copy already added to dst.
func (en *Engine) Clone(src, dst *object.Arena, roots []object.ID, opts Options) (Result, error) {
	res := Result{Map: make(object.TranslationMap)}
	if err := en.fanOut(src, dst, roots, opts, &res); err != nil {
		discard(dst, res.Created)
		return Result{}, err
	}
	if err := en.rebind(dst, opts, res); err != nil {
		discard(dst, res.Created)
		return Result{}, err
	}
	for _, id := range roots {
		to, _ := res.Map.Translate(id)
		res.Roots = append(res.Roots, to)
	}
	return res, nil
}

func (en *Engine) fanOut(src, dst *object.Arena, roots []object.ID, opts Options, res *Result) error {
	stack := make([]object.ID, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, roots[i])
	}
	isRoot := make(map[object.ID]bool, len(roots))
	for _, id := range roots {
		isRoot[id] = true
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id.IsNil() || res.Map.Contains(id) {
			continue
		}
		if !isRoot[id] && opts.Follow != nil && !opts.Follow(id) {
			continue
		}
		orig, ok := src.Get(id)
		if !ok {
			return object.RebindError{Target: id, Err: fmt.Errorf("clone source missing: %w", object.ErrNotFound)}
		}
		cp := copyOf(orig, opts.Mode)
		if cp == nil {
			return object.RebindError{Path: orig.Interfaced().Name(), Err: errors.New("clone returned nil")}
		}
		res.Map[id] = dst.Add(cp)
		res.Created = append(res.Created, cp.Interfaced().ID())
		refs := en.ifaces.References(orig)
		for i := len(refs) - 1; i >= 0; i-- {
			if !res.Map.Contains(refs[i]) {
				stack = append(stack, refs[i])
			}
		}
	}
	return nil
}

func (en *Engine) rebind(dst *object.Arena, opts Options, res Result) error {
	rb := iface.Rebinding{Map: res.Map, KeepExternal: opts.KeepExternal, Default: opts.Default}
	for _, id := range res.Created {
		e, _ := dst.Get(id)
		if err := en.ifaces.Rebind(e, rb); err != nil {
			return err
		}
		if r, ok := e.(object.Rebinder); ok {
			if err := r.Rebind(res.Map); err != nil {
				return object.RebindError{Path: e.Interfaced().Name(), Err: err}
			}
		}
	}
	if opts.Mode != Full {
		return nil
	}
	for _, id := range res.Created {
		e, _ := dst.Get(id)
		if p, ok := e.(object.PostRebinder); ok {
			if err := p.PostRebind(res.Map); err != nil {
				return object.RebindError{Path: e.Interfaced().Name(), Err: err}
			}
		}
	}
	return nil
}

func copyOf(e object.Entity, mode Mode) object.Entity {
	if mode == Full {
		if fc, ok := e.(object.FullCloner); ok {
			return fc.FullClone()
		}
	}
	return e.Clone()
}

func discard(dst *object.Arena, ids []object.ID) {
	for _, id := range ids {
		dst.Remove(id)
	}
}
