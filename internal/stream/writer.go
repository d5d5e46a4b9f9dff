// Package stream implements the persistent binary codec for entity graphs.
// Every entity is written once; later references to it are back-references
// into a stream-scoped identity table.
package stream

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"evgenkit/pkg/classdesc"
	"evgenkit/pkg/object"
)

const (
	magic = "EVGK"
	// FormatVersion is the layout version of the framing itself.
	FormatVersion = 1

	tagNil  = 0
	tagNew  = 1
	tagBack = 2

	maxLength = 1 << 26
)

// Lookup resolves IDs of the graph being written.
type Lookup func(object.ID) (object.Entity, bool)

// Writer encodes entity graphs. Errors are sticky.
type Writer struct {
	w       *bufio.Writer
	classes *classdesc.Registry
	lookup  Lookup
	ids     map[object.ID]uint64
	classIx map[string]uint64
	err     error
	buf     [binary.MaxVarintLen64]byte
}

// NewWriter writes the stream header to w and returns a writer resolving
// references through lookup.
func NewWriter(w io.Writer, classes *classdesc.Registry, lookup Lookup) *Writer {
	sw := &Writer{
		w:       bufio.NewWriter(w),
		classes: classes,
		lookup:  lookup,
		ids:     make(map[object.ID]uint64),
		classIx: make(map[string]uint64),
	}
	sw.raw([]byte(magic))
	sw.WriteUint(FormatVersion)
	return sw
}

// Flush writes buffered data and returns the first error seen.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if err := w.w.Flush(); err != nil {
		w.err = object.StreamError{Reason: "flush", Err: err}
	}
	return w.err
}

// Err implements object.OutputStream.
func (w *Writer) Err() error { return w.err }

// Written returns the number of distinct entities written so far.
func (w *Writer) Written() int { return len(w.ids) }

func (w *Writer) fail(reason string, err error) {
	if w.err == nil {
		w.err = object.StreamError{Reason: reason, Err: err}
	}
}

func (w *Writer) raw(p []byte) {
	if w.err != nil {
		return
	}
	if _, err := w.w.Write(p); err != nil {
		w.fail("write", err)
	}
}

// WriteBool implements object.OutputStream.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.raw([]byte{1})
		return
	}
	w.raw([]byte{0})
}

// WriteInt implements object.OutputStream using zig-zag varints.
func (w *Writer) WriteInt(v int64) {
	n := binary.PutVarint(w.buf[:], v)
	w.raw(w.buf[:n])
}

// WriteUint implements object.OutputStream.
func (w *Writer) WriteUint(v uint64) {
	n := binary.PutUvarint(w.buf[:], v)
	w.raw(w.buf[:n])
}

// WriteFloat implements object.OutputStream.
func (w *Writer) WriteFloat(v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	w.raw(b[:])
}

// WriteQuantity implements object.OutputStream.
func (w *Writer) WriteQuantity(v, unit float64) {
	if unit == 0 {
		w.fail("quantity with zero unit", nil)
		return
	}
	w.WriteFloat(v / unit)
}

// WriteString implements object.OutputStream.
func (w *Writer) WriteString(v string) {
	w.WriteUint(uint64(len(v)))
	w.raw([]byte(v))
}

// WriteBytes implements object.OutputStream.
func (w *Writer) WriteBytes(v []byte) {
	w.WriteUint(uint64(len(v)))
	w.raw(v)
}

// WriteInts implements object.OutputStream.
func (w *Writer) WriteInts(v []int64) {
	w.WriteUint(uint64(len(v)))
	for _, x := range v {
		w.WriteInt(x)
	}
}

// WriteFloats implements object.OutputStream.
func (w *Writer) WriteFloats(v []float64) {
	w.WriteUint(uint64(len(v)))
	for _, x := range v {
		w.WriteFloat(x)
	}
}

// WriteStrings implements object.OutputStream.
func (w *Writer) WriteStrings(v []string) {
	w.WriteUint(uint64(len(v)))
	for _, x := range v {
		w.WriteString(x)
	}
}

// WriteStringMap implements object.OutputStream. Keys are written sorted.
func (w *Writer) WriteStringMap(v map[string]string) {
	keys := sortedKeys(v)
	w.WriteUint(uint64(len(keys)))
	for _, k := range keys {
		w.WriteString(k)
		w.WriteString(v[k])
	}
}

// WriteRefs implements object.OutputStream.
func (w *Writer) WriteRefs(ids []object.ID) {
	w.WriteUint(uint64(len(ids)))
	for _, id := range ids {
		w.WriteRef(id)
	}
}

// WriteRef implements object.OutputStream. The first time an entity is seen
// its class, base state and per-class payloads follow; afterwards only its
// ordinal is written.
func (w *Writer) WriteRef(id object.ID) {
	if w.err != nil {
		return
	}
	if id.IsNil() {
		w.WriteUint(tagNil)
		return
	}
	if ord, seen := w.ids[id]; seen {
		w.WriteUint(tagBack)
		w.WriteUint(ord)
		return
	}
	e, ok := w.lookup(id)
	if !ok {
		w.fail(fmt.Sprintf("dangling reference %s", id), object.ErrNotFound)
		return
	}
	base := e.Interfaced()
	chain := w.classes.PersistOrder(base.ClassName())
	if len(chain) == 0 {
		w.fail(fmt.Sprintf("class %q of %s is not registered", base.ClassName(), base.Name()), object.ErrNotFound)
		return
	}
	w.ids[id] = uint64(len(w.ids))
	w.WriteUint(tagNew)
	w.writeClass(base.ClassName(), chain)
	w.WriteString(base.Name())
	w.WriteString(base.Comment())
	w.WriteBool(base.Locked())
	w.WriteBool(base.Touched())
	w.WriteString(string(base.State()))
	for _, d := range chain {
		if w.err != nil {
			return
		}
		if err := d.Output(e, w); err != nil {
			w.fail(fmt.Sprintf("output %s as %s", base.Name(), d.Name()), err)
			return
		}
	}
}

// writeClass writes a class reference: 0 followed by the class entry on
// first use, index+1 afterwards.
func (w *Writer) writeClass(name string, chain []*classdesc.TypeDescriptor) {
	if ix, ok := w.classIx[name]; ok {
		w.WriteUint(ix + 1)
		return
	}
	w.classIx[name] = uint64(len(w.classIx))
	w.WriteUint(0)
	w.WriteString(name)
	w.WriteUint(uint64(len(chain)))
	for _, d := range chain {
		w.WriteString(d.Name())
		w.WriteString(d.Library())
		w.WriteUint(uint64(d.Version()))
	}
}

var _ object.OutputStream = (*Writer)(nil)
