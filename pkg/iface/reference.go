package iface

import (
	"errors"
	"fmt"
	"strings"

	"evgenkit/pkg/object"
)

func resolveTarget(env Env, e object.Entity, name string, call Call, class string, nullable bool) (object.ID, error) {
	path := strings.TrimSpace(call.Args)
	if path == "" || path == "NULL" {
		if !nullable {
			return object.Nil, failure(e, name, call, "reference may not be null", nil)
		}
		return object.Nil, nil
	}
	if env == nil {
		return object.Nil, failure(e, name, call, "no namespace to resolve "+path, nil)
	}
	target, ok := env.Resolve(path)
	if !ok {
		return object.Nil, failure(e, name, call, fmt.Sprintf("no object named %q", path), object.ErrNotFound)
	}
	if class != "" && !env.IsA(target.Interfaced().ClassName(), class) {
		return object.Nil, failure(e, name, call,
			fmt.Sprintf("%s is a %s, not a %s", target.Interfaced().Name(), target.Interfaced().ClassName(), class), nil)
	}
	return target.Interfaced().ID(), nil
}

// Reference exposes a single reference to an entity of class Class.
type Reference[T any] struct {
	owner
	Name        string
	Description string
	// Class is the class the target must derive from. Empty accepts any.
	Class string
	Field func(T) *object.ID

	Nullable bool
	// DefaultIfNull binds the default object of Class when the reference is
	// null at init or when its target was not part of a clone.
	DefaultIfNull bool
	// NoRebind keeps the original target when the owner is cloned.
	NoRebind bool

	ReadOnly       bool
	DependencySafe bool
	View           func(object.Entity) (T, bool)
}

// Info implements Descriptor.
func (r *Reference[T]) Info() Info {
	detail := "class=" + r.Class
	if r.Nullable {
		detail += " nullable"
	}
	if r.DefaultIfNull {
		detail += " default-if-null"
	}
	return Info{
		Name:           r.Name,
		Description:    r.Description,
		Class:          r.class,
		Kind:           KindReference,
		ReadOnly:       r.ReadOnly,
		DependencySafe: r.DependencySafe,
		Detail:         detail,
	}
}

func (r *Reference[T]) validate() error {
	if r.Name == "" || r.Field == nil {
		return errors.New("reference needs a name and a field")
	}
	return nil
}

// TargetClass implements Referencing.
func (r *Reference[T]) TargetClass() string { return r.Class }

// Targets implements Referencing.
func (r *Reference[T]) Targets(e object.Entity) []object.ID {
	t, ok := viewOf(r.View, e)
	if !ok {
		return nil
	}
	if id := *r.Field(t); !id.IsNil() {
		return []object.ID{id}
	}
	return nil
}

// Rebind implements Referencing.
func (r *Reference[T]) Rebind(e object.Entity, rb Rebinding) error {
	if r.NoRebind {
		return nil
	}
	t, ok := viewOf(r.View, e)
	if !ok {
		return nil
	}
	field := r.Field(t)
	to, ok := rb.translate(*field, r.Class, r.DefaultIfNull)
	if !ok {
		return object.RebindError{Path: e.Interfaced().Name(), Interface: r.Name, Target: *field}
	}
	*field = to
	return nil
}

// Unlink implements Referencing.
func (r *Reference[T]) Unlink(e object.Entity, target object.ID) bool {
	t, ok := viewOf(r.View, e)
	if !ok || target.IsNil() {
		return false
	}
	field := r.Field(t)
	if *field != target {
		return false
	}
	*field = object.Nil
	return true
}

// BindDefault implements Referencing.
func (r *Reference[T]) BindDefault(e object.Entity, def func(class string) (object.ID, bool)) bool {
	if !r.DefaultIfNull || def == nil {
		return false
	}
	t, ok := viewOf(r.View, e)
	if !ok {
		return false
	}
	field := r.Field(t)
	if !field.IsNil() {
		return false
	}
	id, ok := def(r.Class)
	if !ok {
		return false
	}
	*field = id
	return true
}

// Exec implements Descriptor.
func (r *Reference[T]) Exec(env Env, e object.Entity, call Call) (string, error) {
	t, ok := viewOf(r.View, e)
	if !ok {
		return "", notCarried(e, r.Name, call)
	}
	if err := checkScalar(e, r.Name, call); err != nil {
		return "", err
	}
	switch call.Action {
	case ActionGet:
		return pathOf(env, *r.Field(t)), nil
	case ActionSet:
		if err := checkMutable(e, r.Name, call, r.ReadOnly); err != nil {
			return "", err
		}
		id, err := resolveTarget(env, e, r.Name, call, r.Class, r.Nullable)
		if err != nil {
			return "", err
		}
		*r.Field(t) = id
		touch(e, r.DependencySafe)
		return "", nil
	}
	return "", unknownAction(e, r.Name, call)
}

// RefVector exposes an ordered list of references to entities of class
// Class. A positive Size fixes the length.
type RefVector[T any] struct {
	owner
	Name        string
	Description string
	Class       string
	Field       func(T) *[]object.ID
	Size        int

	Nullable       bool
	NoRebind       bool
	ReadOnly       bool
	DependencySafe bool
	View           func(object.Entity) (T, bool)
}

// Info implements Descriptor.
func (v *RefVector[T]) Info() Info {
	detail := "class=" + v.Class
	if v.Size > 0 {
		detail += fmt.Sprintf(" size=%d", v.Size)
	}
	if v.Nullable {
		detail += " nullable"
	}
	return Info{
		Name:           v.Name,
		Description:    v.Description,
		Class:          v.class,
		Kind:           KindRefVector,
		ReadOnly:       v.ReadOnly,
		DependencySafe: v.DependencySafe,
		Detail:         detail,
	}
}

func (v *RefVector[T]) validate() error {
	if v.Name == "" || v.Field == nil {
		return errors.New("reference vector needs a name and a field")
	}
	if v.Size < 0 {
		return errors.New("reference vector size must not be negative")
	}
	return nil
}

// TargetClass implements Referencing.
func (v *RefVector[T]) TargetClass() string { return v.Class }

// Targets implements Referencing.
func (v *RefVector[T]) Targets(e object.Entity) []object.ID {
	t, ok := viewOf(v.View, e)
	if !ok {
		return nil
	}
	var out []object.ID
	for _, id := range *v.Field(t) {
		if !id.IsNil() {
			out = append(out, id)
		}
	}
	return out
}

// Rebind implements Referencing. The slice is always reallocated because a
// shallow clone shares its backing array with the original.
func (v *RefVector[T]) Rebind(e object.Entity, rb Rebinding) error {
	t, ok := viewOf(v.View, e)
	if !ok {
		return nil
	}
	field := v.Field(t)
	next := append([]object.ID(nil), (*field)...)
	if !v.NoRebind {
		for i, id := range next {
			to, ok := rb.translate(id, v.Class, false)
			if !ok {
				return object.RebindError{Path: e.Interfaced().Name(), Interface: fmt.Sprintf("%s[%d]", v.Name, i), Target: id}
			}
			next[i] = to
		}
	}
	*field = next
	return nil
}

// Unlink implements Referencing.
func (v *RefVector[T]) Unlink(e object.Entity, target object.ID) bool {
	t, ok := viewOf(v.View, e)
	if !ok || target.IsNil() {
		return false
	}
	field := v.Field(t)
	changed := false
	next := append([]object.ID(nil), (*field)...)
	for i, id := range next {
		if id == target {
			next[i] = object.Nil
			changed = true
		}
	}
	if changed {
		*field = next
	}
	return changed
}

// BindDefault implements Referencing. Vectors have no default binding.
func (v *RefVector[T]) BindDefault(object.Entity, func(string) (object.ID, bool)) bool {
	return false
}

// Exec implements Descriptor.
func (v *RefVector[T]) Exec(env Env, e object.Entity, call Call) (string, error) {
	t, ok := viewOf(v.View, e)
	if !ok {
		return "", notCarried(e, v.Name, call)
	}
	field := v.Field(t)
	cur := *field
	inRange := call.Index >= 0 && call.Index < len(cur)
	switch call.Action {
	case ActionGet:
		if call.Index >= 0 {
			if !inRange {
				return "", failure(e, v.Name, call, fmt.Sprintf("index %d out of range", call.Index), nil)
			}
			return pathOf(env, cur[call.Index]), nil
		}
		paths := make([]string, len(cur))
		for i, id := range cur {
			paths[i] = pathOf(env, id)
		}
		return strings.Join(paths, "\n"), nil
	case ActionSet, ActionInsert, ActionErase, ActionClear:
	default:
		return "", unknownAction(e, v.Name, call)
	}
	if err := checkMutable(e, v.Name, call, v.ReadOnly); err != nil {
		return "", err
	}
	if v.Size > 0 && call.Action != ActionSet {
		return "", failure(e, v.Name, call, fmt.Sprintf("vector has fixed size %d", v.Size), nil)
	}
	var next []object.ID
	switch call.Action {
	case ActionSet:
		if !inRange {
			return "", failure(e, v.Name, call, fmt.Sprintf("index %d out of range", call.Index), nil)
		}
		id, err := resolveTarget(env, e, v.Name, call, v.Class, v.Nullable)
		if err != nil {
			return "", err
		}
		next = append([]object.ID(nil), cur...)
		next[call.Index] = id
	case ActionInsert:
		at := call.Index
		if at == NoIndex {
			at = len(cur)
		}
		if at < 0 || at > len(cur) {
			return "", failure(e, v.Name, call, fmt.Sprintf("index %d out of range", call.Index), nil)
		}
		id, err := resolveTarget(env, e, v.Name, call, v.Class, v.Nullable)
		if err != nil {
			return "", err
		}
		next = make([]object.ID, 0, len(cur)+1)
		next = append(next, cur[:at]...)
		next = append(next, id)
		next = append(next, cur[at:]...)
	case ActionErase:
		if !inRange {
			return "", failure(e, v.Name, call, fmt.Sprintf("index %d out of range", call.Index), nil)
		}
		next = make([]object.ID, 0, len(cur)-1)
		next = append(next, cur[:call.Index]...)
		next = append(next, cur[call.Index+1:]...)
	case ActionClear:
		next = nil
	}
	*field = next
	touch(e, v.DependencySafe)
	return "", nil
}
