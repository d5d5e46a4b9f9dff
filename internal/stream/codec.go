package stream

import (
	"bytes"
	"io"

	"evgenkit/pkg/classdesc"
	"evgenkit/pkg/object"
)

// Encode writes roots and everything reachable from their payloads to w.
func Encode(w io.Writer, classes *classdesc.Registry, lookup Lookup, roots []object.ID) error {
	sw := NewWriter(w, classes, lookup)
	sw.WriteRefs(roots)
	return sw.Flush()
}

// EncodeBytes is Encode into a fresh buffer.
func EncodeBytes(classes *classdesc.Registry, lookup Lookup, roots []object.ID) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, classes, lookup, roots); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a graph written by Encode into arena and returns the roots in
// their original order. On failure every entity it added is removed again
// and no partial graph is returned.
func Decode(r io.Reader, classes *classdesc.Registry, arena *object.Arena) ([]object.ID, error) {
	sr := NewReader(r, classes, arena)
	roots := sr.ReadRefs()
	if err := sr.Err(); err != nil {
		sr.Discard()
		return nil, err
	}
	return roots, nil
}

// DecodeBytes is Decode from a byte slice.
func DecodeBytes(data []byte, classes *classdesc.Registry, arena *object.Arena) ([]object.ID, error) {
	return Decode(bytes.NewReader(data), classes, arena)
}
