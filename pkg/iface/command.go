package iface

import (
	"errors"

	"evgenkit/pkg/object"
)

// Command binds a name to a free-text handler. A ReadOnly command does not
// mutate its target and may run on locked entities.
type Command[T any] struct {
	owner
	Name        string
	Description string
	Handler     func(T, string) (string, error)

	ReadOnly       bool
	DependencySafe bool
	View           func(object.Entity) (T, bool)
}

// Info implements Descriptor.
func (c *Command[T]) Info() Info {
	return Info{
		Name:           c.Name,
		Description:    c.Description,
		Class:          c.class,
		Kind:           KindCommand,
		ReadOnly:       c.ReadOnly,
		DependencySafe: c.DependencySafe,
	}
}

func (c *Command[T]) validate() error {
	if c.Name == "" || c.Handler == nil {
		return errors.New("command needs a name and a handler")
	}
	return nil
}

// Exec implements Descriptor.
func (c *Command[T]) Exec(_ Env, e object.Entity, call Call) (string, error) {
	t, ok := viewOf(c.View, e)
	if !ok {
		return "", notCarried(e, c.Name, call)
	}
	if call.Action != ActionDo {
		return "", unknownAction(e, c.Name, call)
	}
	if err := checkScalar(e, c.Name, call); err != nil {
		return "", err
	}
	if !c.ReadOnly && e.Interfaced().Locked() {
		return "", failure(e, c.Name, call, "object is locked", object.ErrLocked)
	}
	out, err := c.Handler(t, call.Args)
	if err != nil {
		return "", failure(e, c.Name, call, "command failed", err)
	}
	if !c.ReadOnly {
		touch(e, c.DependencySafe)
	}
	return out, nil
}
