package object

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a missing object, class, interface or snapshot.
	ErrNotFound = errors.New("not found")
	// ErrExists reports a name collision in a namespace or registry.
	ErrExists = errors.New("already exists")
	// ErrReferenced reports a removal refused because live entities still
	// reference the target.
	ErrReferenced = errors.New("still referenced")
	// ErrLocked reports a mutation attempted on a locked entity.
	ErrLocked = errors.New("object is locked")
)

// SetupError reports a bad static registration: duplicate class or interface
// names, unknown base classes or unloadable libraries. It is fatal before any
// run begins.
type SetupError struct {
	Kind   string
	Name   string
	Reason string
	Err    error
}

func (e SetupError) Error() string {
	msg := fmt.Sprintf("setup: %s %q: %s", e.Kind, e.Name, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e SetupError) Unwrap() error { return e.Err }

// InitError reports a failing doinit. It aborts the whole init pass.
type InitError struct {
	Path string
	Err  error
}

func (e InitError) Error() string {
	return fmt.Sprintf("init %s: %v", e.Path, e.Err)
}

func (e InitError) Unwrap() error { return e.Err }

// RebindError reports a clone whose reference graph was not closed over the
// root set.
type RebindError struct {
	Path      string
	Interface string
	Target    ID
	Err       error
}

func (e RebindError) Error() string {
	msg := fmt.Sprintf("rebind %s", e.Path)
	if e.Interface != "" {
		msg += ":" + e.Interface
	}
	if !e.Target.IsNil() {
		msg += fmt.Sprintf(": no translation for %s", e.Target)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e RebindError) Unwrap() error { return e.Err }

// InterfaceError reports a bad interface call: wrong type, out-of-range value,
// read-only violation or missing target. The target state is unchanged.
type InterfaceError struct {
	Object    string
	Interface string
	Action    string
	Reason    string
	Err       error
}

func (e InterfaceError) Error() string {
	subject := e.Object
	if e.Interface != "" {
		subject += ":" + e.Interface
	}
	msg := fmt.Sprintf("%s %s: %s", e.Action, subject, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e InterfaceError) Unwrap() error { return e.Err }

// StreamError reports a corrupt or untrusted stream: unknown class, version
// newer than the reader, identity index out of range, malformed encoding.
// No partial object graph survives it.
type StreamError struct {
	Reason string
	Err    error
}

func (e StreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream: %s: %v", e.Reason, e.Err)
	}
	return "stream: " + e.Reason
}

func (e StreamError) Unwrap() error { return e.Err }
