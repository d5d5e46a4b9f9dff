// Package generator is the reference class library: an event generator
// driving a chain of handlers and a set of analyses. The physics is a
// deterministic stand-in; the package exists to exercise the object model
// end to end.
package generator

import (
	"evgenkit/pkg/classdesc"
	"evgenkit/pkg/object"
	"evgenkit/pkg/pluginapi"
)

// Library is the plugin table name of this package.
const Library = "generator"

// Plugin registers the generator classes.
type Plugin struct{}

// New constructs the plugin.
func New() Plugin { return Plugin{} }

// Name returns the library name.
func (Plugin) Name() string { return Library }

// Version returns the plugin semantic version.
func (Plugin) Version() string { return "1.0.0" }

// Register declares the classes and their interfaces.
func (Plugin) Register(r pluginapi.Registrar) error {
	if err := pluginapi.RegisterClass(r, classdesc.Class[handlerView]{
		Name:        "Handler",
		Description: "Accepts events above an energy cut.",
		Version:     1,
		New:         func() object.Entity { return &Handler{} },
		Output:      handlerOutput,
		Input:       handlerInput,
	}, handlerInterfaces()...); err != nil {
		return err
	}
	if err := pluginapi.RegisterClass(r, classdesc.Class[*SubHandler]{
		Name:        "SubHandler",
		Description: "Handler that reweights accepted events.",
		Version:     2,
		Bases:       []string{"Handler"},
		New:         func() object.Entity { return &SubHandler{Weight: 1} },
		Output:      subHandlerOutput,
		Input:       subHandlerInput,
	}, subHandlerInterfaces()...); err != nil {
		return err
	}
	if err := pluginapi.RegisterClass(r, classdesc.Class[*Analysis]{
		Name:        "Analysis",
		Description: "Counts accepted events and their weights.",
		Version:     1,
		New:         func() object.Entity { return &Analysis{} },
		Output:      analysisOutput,
		Input:       analysisInput,
	}, analysisInterfaces()...); err != nil {
		return err
	}
	return pluginapi.RegisterClass(r, classdesc.Class[*EventGenerator]{
		Name:        "EventGenerator",
		Description: "Drives a run through its handler chain.",
		Version:     1,
		New:         func() object.Entity { return &EventGenerator{NumberOfEvents: 1000, MaxErrors: 10} },
		Output:      generatorOutput,
		Input:       generatorInput,
	}, generatorInterfaces()...)
}
