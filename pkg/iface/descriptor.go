// Package iface implements the typed, introspectable interfaces that classes
// expose for runtime configuration: parameters, switches, references,
// reference vectors and commands.
package iface

import (
	"fmt"

	"evgenkit/pkg/object"
)

// Kind tags the flavour of a descriptor.
type Kind string

// Descriptor kinds.
const (
	KindParameter Kind = "Parameter"
	KindSwitch    Kind = "Switch"
	KindReference Kind = "Reference"
	KindRefVector Kind = "RefVector"
	KindCommand   Kind = "Command"
)

// Actions understood by Exec.
const (
	ActionSet    = "set"
	ActionGet    = "get"
	ActionMin    = "min"
	ActionMax    = "max"
	ActionDef    = "def"
	ActionSetDef = "setdef"
	ActionInsert = "insert"
	ActionErase  = "erase"
	ActionClear  = "clear"
	ActionDo     = "do"
)

// NoIndex marks a call without a vector index.
const NoIndex = -1

// Call is one textual interface invocation.
type Call struct {
	Action string
	Index  int
	Args   string
}

// Info is the introspection record of a descriptor.
type Info struct {
	Name           string `json:"name" yaml:"name"`
	Description    string `json:"description,omitempty" yaml:"description,omitempty"`
	Class          string `json:"class" yaml:"class"`
	Kind           Kind   `json:"kind" yaml:"kind"`
	ReadOnly       bool   `json:"read_only,omitempty" yaml:"read_only,omitempty"`
	DependencySafe bool   `json:"dependency_safe,omitempty" yaml:"dependency_safe,omitempty"`
	Detail         string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Env gives descriptors access to the namespace the target lives in.
type Env interface {
	// Resolve returns the entity named by path.
	Resolve(path string) (object.Entity, bool)
	// Entity returns the entity behind id.
	Entity(id object.ID) (object.Entity, bool)
	// IsA reports whether class derives from base.
	IsA(class, base string) bool
}

// Descriptor is an immutable interface registered once per (class, name).
// Only the kinds in this package implement it.
type Descriptor interface {
	Info() Info
	Exec(env Env, e object.Entity, call Call) (string, error)
	bind(class string) error
	boundTo() string
	validate() error
}

// Referencing is implemented by descriptors that hold references to other
// entities. The clone engine and the repository walk them.
type Referencing interface {
	Descriptor
	TargetClass() string
	Targets(e object.Entity) []object.ID
	Rebind(e object.Entity, rb Rebinding) error
	// Unlink nulls every occurrence of target, reporting whether any changed.
	Unlink(e object.Entity, target object.ID) bool
	// BindDefault points a null DefaultIfNull reference at def.
	BindDefault(e object.Entity, def func(class string) (object.ID, bool)) bool
}

// Rebinding describes one rebind pass over cloned entities.
type Rebinding struct {
	Map object.TranslationMap
	// KeepExternal leaves targets without a translation unchanged.
	KeepExternal bool
	// Default supplies the target bound to DefaultIfNull references whose
	// original target was not cloned.
	Default func(class string) (object.ID, bool)
}

func (rb Rebinding) translate(id object.ID, class string, defaultIfNull bool) (object.ID, bool) {
	if to, ok := rb.Map.Translate(id); ok {
		return to, true
	}
	if rb.KeepExternal {
		return id, true
	}
	if defaultIfNull && rb.Default != nil {
		if def, ok := rb.Default(class); ok {
			return def, true
		}
	}
	return id, false
}

type owner struct {
	class string
}

func (o *owner) bind(class string) error {
	if o.class != "" && o.class != class {
		return fmt.Errorf("descriptor already registered for class %s", o.class)
	}
	o.class = class
	return nil
}

func (o *owner) boundTo() string { return o.class }

func viewOf[T any](fn func(object.Entity) (T, bool), e object.Entity) (T, bool) {
	if fn != nil {
		return fn(e)
	}
	t, ok := e.(T)
	return t, ok
}

func failure(e object.Entity, name string, call Call, reason string, err error) error {
	return object.InterfaceError{
		Object:    e.Interfaced().Name(),
		Interface: name,
		Action:    call.Action,
		Reason:    reason,
		Err:       err,
	}
}

func notCarried(e object.Entity, name string, call Call) error {
	return failure(e, name, call, fmt.Sprintf("class %s does not carry this interface", e.Interfaced().ClassName()), nil)
}

func unknownAction(e object.Entity, name string, call Call) error {
	return failure(e, name, call, "action not supported", nil)
}

func checkMutable(e object.Entity, name string, call Call, readOnly bool) error {
	if readOnly {
		return failure(e, name, call, "interface is read-only", nil)
	}
	if e.Interfaced().Locked() {
		return failure(e, name, call, "object is locked", object.ErrLocked)
	}
	return nil
}

func checkScalar(e object.Entity, name string, call Call) error {
	if call.Index >= 0 {
		return failure(e, name, call, "interface is not indexed", nil)
	}
	return nil
}

// touch marks e dirty after a successful mutation through a
// dependency-unsafe interface.
func touch(e object.Entity, dependencySafe bool) {
	if !dependencySafe {
		e.Interfaced().Touch()
	}
}

func pathOf(env Env, id object.ID) string {
	if id.IsNil() {
		return "NULL"
	}
	if env != nil {
		if t, ok := env.Entity(id); ok {
			return t.Interfaced().Name()
		}
	}
	return id.String()
}
