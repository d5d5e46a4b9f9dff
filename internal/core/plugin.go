package core

import (
	"sort"

	"evgenkit/pkg/iface"
	"evgenkit/pkg/pluginapi"
	"evgenkit/plugins/generator"
)

// DefaultPlugins lists the class libraries a service can load.
func DefaultPlugins() []pluginapi.Plugin {
	return []pluginapi.Plugin{generator.New()}
}

// PluginRegistry is the registrar handed to a plugin while it installs.
type PluginRegistry struct {
	library string
	ifaces  *iface.Registry
}

// Library implements pluginapi.Registrar.
func (r *PluginRegistry) Library() string { return r.library }

// Interfaces implements pluginapi.Registrar.
func (r *PluginRegistry) Interfaces() *iface.Registry { return r.ifaces }

// classes lists the classes attributed to the library.
func (r *PluginRegistry) classes() []string {
	var out []string
	for _, d := range r.ifaces.Classes().Classes() {
		if d.Library() == r.library {
			out = append(out, d.Name())
		}
	}
	sort.Strings(out)
	return out
}

// PluginMetadata describes an installed plugin.
type PluginMetadata struct {
	Name    string   `json:"name" yaml:"name"`
	Version string   `json:"version" yaml:"version"`
	Classes []string `json:"classes" yaml:"classes"`
}
