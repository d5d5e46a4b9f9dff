// Package plugins hosts the plugin libraries shipped with evgenkit. Each
// subpackage builds only on the public packages under pkg/ so that it could
// live in its own module; the guard test next to this file enforces that.
package plugins
