// Package object defines the persistent, configurable entity model shared by
// the class registry, the interface registry, the clone engine, the persistent
// stream and the object repository.
package object

import (
	"context"
	"strconv"
	"strings"
)

// RootClass is the registered name of the abstract class every other class
// derives from.
const RootClass = "Interfaced"

// ID is an arena handle. References between entities are stored as IDs,
// never as Go pointers. The zero value is the nil reference.
type ID uint64

// Nil is the null reference.
const Nil ID = 0

// IsNil reports whether the handle is the null reference.
func (id ID) IsNil() bool { return id == Nil }

func (id ID) String() string {
	if id == Nil {
		return "NULL"
	}
	return "#" + strconv.FormatUint(uint64(id), 10)
}

// State is the lifecycle state of an entity.
type State string

// Lifecycle states. Error is only reachable from Initializing.
const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateInitialized   State = "initialized"
	StateRunning       State = "running"
	StateFinished      State = "finished"
	StateError         State = "error"
)

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	switch s {
	case StateUninitialized, StateInitializing, StateInitialized, StateRunning, StateFinished, StateError:
		return true
	}
	return false
}

// Base carries the state common to every entity. Concrete classes embed it
// and thereby satisfy the Interfaced part of Entity.
type Base struct {
	id      ID
	class   string
	name    string
	comment string
	locked  bool
	touched bool
	state   State
}

// Interfaced returns the embedded base state.
func (b *Base) Interfaced() *Base { return b }

// ID returns the arena handle assigned when the entity was added to an arena.
func (b *Base) ID() ID { return b.id }

// ClassName returns the registered class name of the entity.
func (b *Base) ClassName() string { return b.class }

// SetClassName is called by the class registry when constructing instances.
func (b *Base) SetClassName(class string) { b.class = class }

// Name returns the full repository path of the entity.
func (b *Base) Name() string { return b.name }

// SetName assigns the full repository path.
func (b *Base) SetName(name string) { b.name = name }

// BaseName returns the last path element of the entity name.
func (b *Base) BaseName() string {
	if i := strings.LastIndexByte(b.name, '/'); i >= 0 {
		return b.name[i+1:]
	}
	return b.name
}

// Comment returns the free-text comment.
func (b *Base) Comment() string { return b.comment }

// SetComment replaces the comment.
func (b *Base) SetComment(c string) { b.comment = c }

// AppendComment adds a line to the comment.
func (b *Base) AppendComment(c string) {
	if b.comment == "" {
		b.comment = c
		return
	}
	b.comment += "\n" + c
}

// Locked reports whether setup-time mutation is refused.
func (b *Base) Locked() bool { return b.locked }

// Lock freezes the entity against interface mutation.
func (b *Base) Lock() { b.locked = true }

// Unlock allows interface mutation again.
func (b *Base) Unlock() { b.locked = false }

// Touched reports whether the entity was changed through a dependency-unsafe
// interface since the last update pass.
func (b *Base) Touched() bool { return b.touched }

// Touch sets the dirty bit.
func (b *Base) Touch() { b.touched = true }

// Untouch clears the dirty bit.
func (b *Base) Untouch() { b.touched = false }

// State returns the lifecycle state. A zero value reads as uninitialized.
func (b *Base) State() State {
	if b.state == "" {
		return StateUninitialized
	}
	return b.state
}

// SetState moves the entity to s.
func (b *Base) SetState(s State) { b.state = s }

// Entity is the unit of persistence and configuration.
type Entity interface {
	Interfaced() *Base
	// Clone returns a shallow field-for-field copy. Held IDs are copied as is
	// and fixed up later by a rebind pass.
	Clone() Entity
}

// FullCloner is implemented by entities that need a different copy when a
// run is isolated.
type FullCloner interface {
	FullClone() Entity
}

// Initializer is the doinit hook.
type Initializer interface {
	DoInit(ctx context.Context) error
}

// RunInitializer is the doinitrun hook.
type RunInitializer interface {
	DoInitRun(ctx context.Context) error
}

// Finisher is the dofinish hook. Implementations must be idempotent.
type Finisher interface {
	DoFinish(ctx context.Context) error
}

// Updater recomputes derived state after a dependency was touched.
type Updater interface {
	DoUpdate(ctx context.Context) error
}

// Referrer declares references that are not exposed through Reference or
// RefVector interfaces.
type Referrer interface {
	References() []ID
}

// Rebinder redirects references that are not exposed through interfaces.
type Rebinder interface {
	Rebind(tm TranslationMap) error
}

// Unlinker clears references declared through Referrer when their target
// is force-removed. It reports whether anything changed.
type Unlinker interface {
	Unlink(target ID) bool
}

// PostRebinder runs fix-ups after a full clone has been rebound.
type PostRebinder interface {
	PostRebind(tm TranslationMap) error
}

// References returns the extra references declared by e, if any.
func References(e Entity) []ID {
	if r, ok := e.(Referrer); ok {
		return r.References()
	}
	return nil
}
