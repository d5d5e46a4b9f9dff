package object

// OutputStream is the write side of the persistent stream as seen by class
// persistence hooks. Errors are sticky: after the first failure every write
// is a no-op and Err reports the failure.
type OutputStream interface {
	WriteBool(v bool)
	WriteInt(v int64)
	WriteUint(v uint64)
	WriteFloat(v float64)
	// WriteQuantity writes v/unit so the value round-trips independently of
	// the in-memory unit.
	WriteQuantity(v, unit float64)
	WriteString(v string)
	WriteBytes(v []byte)
	// WriteRef writes a polymorphic reference: the target's payload on first
	// sight, a back-reference afterwards.
	WriteRef(id ID)
	WriteRefs(ids []ID)
	WriteInts(v []int64)
	WriteFloats(v []float64)
	WriteStrings(v []string)
	WriteStringMap(v map[string]string)
	Err() error
}

// InputStream mirrors OutputStream. Reads after a failure return zero values.
type InputStream interface {
	ReadBool() bool
	ReadInt() int64
	ReadUint() uint64
	ReadFloat() float64
	ReadQuantity(unit float64) float64
	ReadString() string
	ReadBytes() []byte
	ReadRef() ID
	ReadRefs() []ID
	ReadInts() []int64
	ReadFloats() []float64
	ReadStrings() []string
	ReadStringMap() map[string]string
	Err() error
}
