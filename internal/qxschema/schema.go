// Package qxschema describes the pluggable, per-attribute schema table that
// the host application supplies. The protocol engine never hard-codes
// attribute contents; it only needs to know an attribute's maximum allowed
// packet length (for the framer) and, when a parser callback wants to drive
// the generic payload codec from a table instead of hand-written code, the
// ordered field descriptors for that attribute.
package qxschema

// WireType identifies the on-wire representation of one field.
type WireType uint8

const (
	WireSignedChar WireType = iota
	WireUnsignedChar
	WireSignedShort
	WireUnsignedShort
	WireSignedLong
	WireUnsignedLong
	WireFloat
	WireBits
)

// AppType identifies the application-level representation a field decodes
// to / encodes from.
type AppType uint8

const (
	AppFloat32 AppType = iota
	AppInt32
	AppUint32
)

// Field describes one element of an attribute's payload, in wire order.
// Index 0 in a Table's field list is reserved for a synthetic "attribute
// marker" entry only when a schema chooses to model one explicitly; ordinary
// user-visible parameters start at index 1 by convention, avoiding any
// off-by-one ambiguity around the marker slot.
type Field struct {
	Name      string
	Wire      WireType
	App       AppType
	Count     int // repeat count for array fields, 1 for scalars
	Min, Max  float64
	Scale     float64 // wire = round(app * Scale); app = wire * (1/Scale)
	StartBit  int     // only meaningful for WireBits
	NBits     int     // only meaningful for WireBits, 1..8
}

// Attribute is one schema entry: the ordered fields making up its payload.
type Attribute struct {
	ID     uint32
	Fields []Field
	// MaxPayloadLen overrides the default packet length cap for this
	// attribute. Zero means "use the table's default".
	MaxPayloadLen uint32
}

// Table is the pluggable, host-supplied attribute registry.
// Implementations are read-only after registration.
type Table interface {
	// Lookup returns the Attribute descriptor for id, and whether one was
	// registered. Unknown attributes are a normal, expected case (the
	// dispatcher sets AttributeNotHandled and aborts gracefully).
	Lookup(id uint32) (Attribute, bool)
	// MaxPayloadLen returns the maximum allowed declared length for id,
	// defaulting to qxmsg.DefaultMaxPayloadLen when the attribute does not
	// opt into an extended length.
	MaxPayloadLen(id uint32) uint32
}

// StaticTable is a simple in-memory Table implementation keyed by attribute
// ID, suitable for small, fixed schemas or tests.
type StaticTable struct {
	attrs   map[uint32]Attribute
	Default uint32
}

// NewStaticTable builds a StaticTable from a list of attributes, indexed by
// their ID. Default is the fallback packet length cap (64 if zero).
func NewStaticTable(defaultMax uint32, attrs ...Attribute) *StaticTable {
	if defaultMax == 0 {
		defaultMax = 64
	}
	t := &StaticTable{attrs: make(map[uint32]Attribute, len(attrs)), Default: defaultMax}
	for _, a := range attrs {
		t.attrs[a.ID] = a
	}
	return t
}

func (t *StaticTable) Lookup(id uint32) (Attribute, bool) {
	a, ok := t.attrs[id]
	return a, ok
}

func (t *StaticTable) MaxPayloadLen(id uint32) uint32 {
	if a, ok := t.attrs[id]; ok && a.MaxPayloadLen != 0 {
		return a.MaxPayloadLen
	}
	return t.Default
}
