package object

import "sort"

// TranslationMap maps an original entity to its clone for one clone
// operation.
type TranslationMap map[ID]ID

// Translate returns the clone of id. The nil reference always translates to
// itself.
func (tm TranslationMap) Translate(id ID) (ID, bool) {
	if id.IsNil() {
		return Nil, true
	}
	to, ok := tm[id]
	return to, ok
}

// Contains reports whether id has already been cloned.
func (tm TranslationMap) Contains(id ID) bool {
	_, ok := tm[id]
	return ok
}

// Originals returns the mapped originals in ascending order.
func (tm TranslationMap) Originals() []ID {
	out := make([]ID, 0, len(tm))
	for id := range tm {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
