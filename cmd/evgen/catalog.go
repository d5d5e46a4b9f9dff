package main

import (
	"fmt"
	"strings"

	"evgenkit/internal/core"
	"evgenkit/pkg/object"
)

type catalog struct {
	Plugins []core.PluginMetadata `yaml:"plugins"`
	Classes []classEntry          `yaml:"classes"`
}

type classEntry struct {
	Name        string           `yaml:"name"`
	Library     string           `yaml:"library,omitempty"`
	Version     int              `yaml:"version"`
	Abstract    bool             `yaml:"abstract,omitempty"`
	Bases       []string         `yaml:"bases,omitempty"`
	Description string           `yaml:"description,omitempty"`
	Interfaces  []interfaceEntry `yaml:"interfaces,omitempty"`
}

type interfaceEntry struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	DeclaredBy  string `yaml:"declared_by"`
	ReadOnly    bool   `yaml:"read_only,omitempty"`
	Detail      string `yaml:"detail,omitempty"`
	Description string `yaml:"description,omitempty"`
}

func buildCatalog(svc *core.Service, only string) (catalog, error) {
	cat := catalog{Plugins: svc.Plugins()}
	for _, d := range svc.Classes().Classes() {
		if only != "" && d.Name() != only {
			continue
		}
		entry := classEntry{
			Name:        d.Name(),
			Library:     d.Library(),
			Version:     d.Version(),
			Abstract:    d.Abstract(),
			Description: d.Description(),
		}
		for _, b := range d.Bases() {
			entry.Bases = append(entry.Bases, b.Name())
		}
		for _, desc := range svc.Interfaces().All(d.Name()) {
			info := desc.Info()
			entry.Interfaces = append(entry.Interfaces, interfaceEntry{
				Name:        info.Name,
				Kind:        string(info.Kind),
				DeclaredBy:  info.Class,
				ReadOnly:    info.ReadOnly,
				Detail:      info.Detail,
				Description: info.Description,
			})
		}
		cat.Classes = append(cat.Classes, entry)
	}
	if only != "" && len(cat.Classes) == 0 {
		return catalog{}, fmt.Errorf("class %s: %w", only, object.ErrNotFound)
	}
	return cat, nil
}

func (c catalog) text() string {
	var b strings.Builder
	for _, cls := range c.Classes {
		lib := cls.Library
		if lib == "" {
			lib = "builtin"
		}
		fmt.Fprintf(&b, "%s (%s v%d)", cls.Name, lib, cls.Version)
		if len(cls.Bases) > 0 {
			fmt.Fprintf(&b, " : %s", strings.Join(cls.Bases, ", "))
		}
		if cls.Abstract {
			b.WriteString(" abstract")
		}
		b.WriteByte('\n')
		if cls.Description != "" {
			fmt.Fprintf(&b, "  %s\n", cls.Description)
		}
		for _, i := range cls.Interfaces {
			fmt.Fprintf(&b, "  %-16s %-10s %s", i.Name, i.Kind, i.Detail)
			if i.DeclaredBy != cls.Name {
				fmt.Fprintf(&b, " (from %s)", i.DeclaredBy)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}
