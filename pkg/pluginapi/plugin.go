// Package pluginapi is the stable surface class libraries register through.
// Plugin packages import it together with pkg/object, pkg/classdesc and
// pkg/iface, never the internal tree.
package pluginapi

import (
	"fmt"

	"evgenkit/pkg/classdesc"
	"evgenkit/pkg/iface"
)

// Version identifies the plugin contract.
const Version = "v1"

// Registrar receives a library's classes and interfaces.
type Registrar interface {
	// Library is the name classes registered now are attributed to.
	Library() string
	Interfaces() *iface.Registry
}

// Plugin is a class library. Register runs once per service.
type Plugin interface {
	Name() string
	Version() string
	Register(Registrar) error
}

// RegisterClass registers c under the registrar's library and declares ds on
// it.
func RegisterClass[T any](r Registrar, c classdesc.Class[T], ds ...iface.Descriptor) error {
	if c.Library == "" {
		c.Library = r.Library()
	}
	if c.Library != r.Library() {
		return fmt.Errorf("class %s claims library %q while registering %q", c.Name, c.Library, r.Library())
	}
	if err := classdesc.Register(r.Interfaces().Classes(), c); err != nil {
		return err
	}
	if len(ds) == 0 {
		return nil
	}
	return r.Interfaces().Register(c.Name, ds...)
}
