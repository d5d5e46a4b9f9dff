package stream

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"evgenkit/pkg/classdesc"
	"evgenkit/pkg/object"
)

type chainEntry struct {
	desc    *classdesc.TypeDescriptor
	version int
}

type classEntry struct {
	desc  *classdesc.TypeDescriptor
	chain []chainEntry
}

// Reader decodes entity graphs into an arena. Errors are sticky and every
// one of them is an object.StreamError.
type Reader struct {
	r       *bufio.Reader
	classes *classdesc.Registry
	arena   *object.Arena
	slots   []object.ID
	table   []classEntry
	err     error
}

// NewReader checks the stream header and returns a reader materializing
// entities into arena.
func NewReader(r io.Reader, classes *classdesc.Registry, arena *object.Arena) *Reader {
	sr := &Reader{r: bufio.NewReader(r), classes: classes, arena: arena}
	head := make([]byte, len(magic))
	if _, err := io.ReadFull(sr.r, head); err != nil || string(head) != magic {
		sr.fail("not a persistent stream", err)
		return sr
	}
	if v := sr.ReadUint(); sr.err == nil && v != FormatVersion {
		sr.fail(fmt.Sprintf("format version %d is not supported", v), nil)
	}
	return sr
}

// Err implements object.InputStream.
func (r *Reader) Err() error { return r.err }

// Created returns the IDs materialized so far in stream order.
func (r *Reader) Created() []object.ID { return append([]object.ID(nil), r.slots...) }

// Discard removes every entity materialized by this reader from the arena.
func (r *Reader) Discard() {
	for _, id := range r.slots {
		r.arena.Remove(id)
	}
	r.slots = nil
}

func (r *Reader) fail(reason string, err error) {
	if r.err != nil {
		return
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		reason += ": truncated"
	}
	r.err = object.StreamError{Reason: reason, Err: err}
}

func (r *Reader) raw(n uint64) []byte {
	if r.err != nil {
		return nil
	}
	if n > maxLength {
		r.fail(fmt.Sprintf("length %d exceeds limit", n), nil)
		return nil
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(r.r, p); err != nil {
		r.fail("read", err)
		return nil
	}
	return p
}

func (r *Reader) count() int {
	n := r.ReadUint()
	if n > maxLength {
		r.fail(fmt.Sprintf("count %d exceeds limit", n), nil)
		return 0
	}
	return int(n)
}

// ReadBool implements object.InputStream.
func (r *Reader) ReadBool() bool {
	p := r.raw(1)
	if p == nil {
		return false
	}
	switch p[0] {
	case 0:
		return false
	case 1:
		return true
	}
	r.fail(fmt.Sprintf("invalid bool byte %d", p[0]), nil)
	return false
}

// ReadInt implements object.InputStream.
func (r *Reader) ReadInt() int64 {
	if r.err != nil {
		return 0
	}
	v, err := binary.ReadVarint(r.r)
	if err != nil {
		r.fail("read int", err)
		return 0
	}
	return v
}

// ReadUint implements object.InputStream.
func (r *Reader) ReadUint() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(r.r)
	if err != nil {
		r.fail("read uint", err)
		return 0
	}
	return v
}

// ReadFloat implements object.InputStream.
func (r *Reader) ReadFloat() float64 {
	p := r.raw(8)
	if p == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(p))
}

// ReadQuantity implements object.InputStream.
func (r *Reader) ReadQuantity(unit float64) float64 {
	return r.ReadFloat() * unit
}

// ReadString implements object.InputStream.
func (r *Reader) ReadString() string {
	return string(r.raw(r.ReadUint()))
}

// ReadBytes implements object.InputStream.
func (r *Reader) ReadBytes() []byte {
	n := r.ReadUint()
	if n == 0 {
		return nil
	}
	return r.raw(n)
}

// ReadInts implements object.InputStream.
func (r *Reader) ReadInts() []int64 {
	n := r.count()
	var out []int64
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, r.ReadInt())
	}
	return out
}

// ReadFloats implements object.InputStream.
func (r *Reader) ReadFloats() []float64 {
	n := r.count()
	var out []float64
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, r.ReadFloat())
	}
	return out
}

// ReadStrings implements object.InputStream.
func (r *Reader) ReadStrings() []string {
	n := r.count()
	var out []string
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, r.ReadString())
	}
	return out
}

// ReadStringMap implements object.InputStream.
func (r *Reader) ReadStringMap() map[string]string {
	n := r.count()
	out := make(map[string]string, min(n, 64))
	for i := 0; i < n && r.err == nil; i++ {
		k := r.ReadString()
		out[k] = r.ReadString()
	}
	return out
}

// ReadRefs implements object.InputStream.
func (r *Reader) ReadRefs() []object.ID {
	n := r.count()
	var out []object.ID
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, r.ReadRef())
	}
	return out
}

// ReadRef implements object.InputStream. A new entity is recorded in the
// identity table before its payload is read so cyclic references inside the
// payload resolve to it.
func (r *Reader) ReadRef() object.ID {
	switch tag := r.ReadUint(); {
	case r.err != nil:
		return object.Nil
	case tag == tagNil:
		return object.Nil
	case tag == tagBack:
		ord := r.ReadUint()
		if r.err != nil {
			return object.Nil
		}
		if ord >= uint64(len(r.slots)) {
			r.fail(fmt.Sprintf("back-reference %d out of range (%d objects read)", ord, len(r.slots)), nil)
			return object.Nil
		}
		return r.slots[ord]
	case tag == tagNew:
		return r.readObject()
	default:
		r.fail(fmt.Sprintf("unknown pointer tag %d", tag), nil)
		return object.Nil
	}
}

func (r *Reader) readObject() object.ID {
	entry, ok := r.readClass()
	if !ok {
		return object.Nil
	}
	e, err := entry.desc.New()
	if err != nil {
		r.fail("construct "+entry.desc.Name(), err)
		return object.Nil
	}
	id := r.arena.Add(e)
	r.slots = append(r.slots, id)

	base := e.Interfaced()
	base.SetName(r.ReadString())
	base.SetComment(r.ReadString())
	if r.ReadBool() {
		base.Lock()
	}
	if r.ReadBool() {
		base.Touch()
	}
	state := object.State(r.ReadString())
	if r.err != nil {
		return object.Nil
	}
	if !state.Valid() {
		r.fail(fmt.Sprintf("invalid lifecycle state %q", state), nil)
		return object.Nil
	}
	base.SetState(state)
	for _, c := range entry.chain {
		if err := c.desc.Input(e, r, c.version); err != nil {
			r.fail(fmt.Sprintf("input %s as %s", base.Name(), c.desc.Name()), err)
		}
		if r.err != nil {
			return object.Nil
		}
	}
	return id
}

func (r *Reader) readClass() (classEntry, bool) {
	ix := r.ReadUint()
	if r.err != nil {
		return classEntry{}, false
	}
	if ix > 0 {
		if ix > uint64(len(r.table)) {
			r.fail(fmt.Sprintf("class index %d out of range", ix-1), nil)
			return classEntry{}, false
		}
		return r.table[ix-1], true
	}
	name := r.ReadString()
	n := r.count()
	var chain []chainEntry
	for i := 0; i < n && r.err == nil; i++ {
		cname := r.ReadString()
		library := r.ReadString()
		version := r.ReadUint()
		if r.err != nil {
			break
		}
		d, err := r.classes.Ensure(cname, library)
		if err != nil {
			r.fail(fmt.Sprintf("unknown class %q", cname), err)
			break
		}
		if version > uint64(d.Version()) {
			r.fail(fmt.Sprintf("class %s version %d is newer than supported version %d", cname, version, d.Version()), nil)
			break
		}
		chain = append(chain, chainEntry{desc: d, version: int(version)})
	}
	if r.err != nil {
		return classEntry{}, false
	}
	if len(chain) == 0 || chain[len(chain)-1].desc.Name() != name {
		r.fail(fmt.Sprintf("class %q has a malformed base chain", name), nil)
		return classEntry{}, false
	}
	desc := chain[len(chain)-1].desc
	for _, c := range chain {
		if !r.classes.IsA(name, c.desc.Name()) {
			r.fail(fmt.Sprintf("class %s no longer derives from %s", name, c.desc.Name()), nil)
			return classEntry{}, false
		}
	}
	entry := classEntry{desc: desc, chain: chain}
	r.table = append(r.table, entry)
	return entry, true
}

var _ object.InputStream = (*Reader)(nil)

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
