package object

import "sort"

// Arena owns a set of entities and hands out IDs for them. Everything else
// holds non-owning IDs.
type Arena struct {
	objs map[ID]Entity
	next ID
}

// NewArena constructs an empty arena.
func NewArena() *Arena {
	return &Arena{objs: make(map[ID]Entity), next: 1}
}

// Add takes ownership of e, assigns it a fresh ID and returns that ID.
func (a *Arena) Add(e Entity) ID {
	id := a.next
	a.next++
	e.Interfaced().id = id
	a.objs[id] = e
	return id
}

// Get returns the entity for id.
func (a *Arena) Get(id ID) (Entity, bool) {
	if id.IsNil() {
		return nil, false
	}
	e, ok := a.objs[id]
	return e, ok
}

// Remove drops the entity for id, returning false when it was absent.
func (a *Arena) Remove(id ID) bool {
	if _, ok := a.objs[id]; !ok {
		return false
	}
	delete(a.objs, id)
	return true
}

// Len returns the number of live entities.
func (a *Arena) Len() int { return len(a.objs) }

// IDs returns every live ID in ascending order.
func (a *Arena) IDs() []ID {
	out := make([]ID, 0, len(a.objs))
	for id := range a.objs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Entities returns every live entity ordered by ID.
func (a *Arena) Entities() []Entity {
	ids := a.IDs()
	out := make([]Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.objs[id])
	}
	return out
}
