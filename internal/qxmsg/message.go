// Package qxmsg defines the QX wire protocol's data model: message headers,
// the in-flight Message buffer, device addressing, and the direction tag
// that drives the bidirectional payload codec.
package qxmsg

// Default and extended payload capacities.
const (
	DefaultMaxPayloadLen = 64
	AbsoluteMaxPayloadLen = 2048
	FrameOverheadBytes    = 5 // 'Q'+'X'/'B' + up to 2 length bytes + checksum, worst case
	PortInactivityTimeoutMS = 500
)

// MessageType is the 4-bit wire message type (option byte bits 0-3).
type MessageType uint8

const (
	MsgTypeCurrentValue MessageType = iota
	MsgTypeRead
	MsgTypeWriteAbs
	MsgTypeWriteRel
)

func (t MessageType) String() string {
	switch t {
	case MsgTypeCurrentValue:
		return "CurrentValue"
	case MsgTypeRead:
		return "Read"
	case MsgTypeWriteAbs:
		return "WriteAbs"
	case MsgTypeWriteRel:
		return "WriteRel"
	default:
		return "Unknown"
	}
}

// Direction drives the payload codec: Read packs application state out to
// the wire; WriteAbs/WriteRel unpack wire bytes into application state,
// either replacing or adding to the current value.
type Direction uint8

const (
	DirPack Direction = iota // application -> wire (Read / CurrentValue send)
	DirUnpackAbs
	DirUnpackRel
)

// IDType selects how InitServer/InitClient derive an endpoint's wire address.
type IDType uint8

const (
	IDDevice IDType = iota // raw device-id enum value
	IDUID                  // device-id ORed with CRC32-of-MCU-UID derived bits
)

// DeviceBroadcast is the reserved device-id value meaning "all devices";
// application device IDs beyond broadcast are supplied by the host.
const DeviceBroadcast uint32 = 0

// Header is the extensible QX header, fully decoded.
type Header struct {
	MsgLength          uint16
	Attribute          uint32
	Type               MessageType
	FFExt              bool
	RemoveAddrFields   bool
	RemoveReqFields    bool
	OptionByte1Present bool
	AddCRC32           bool
	SourceAddr         uint32
	TargetAddr         uint32
	TxReqAddr          uint32
	RespReqAddr        uint32
}

// Message is a single in-flight send or receive. It is ephemeral: built for
// one send or populated for one receive, then discarded after dispatch.
type Message struct {
	Buf    []byte // fixed-capacity backing buffer, allocated at full length
	Header Header

	Direction Direction

	SuppressAutoResponse bool
	AttributeNotHandled  bool
	LegacyHeader         bool

	// Cursor offsets into Buf.
	StartOfFrame      int
	StartOfAttribute  int
	StartOfPayload    int
	Cursor            int

	// WireLen is the total on-wire length of the message once finalized
	// (Finalize) or once a full frame has been received (framer).
	WireLen int

	// DeclaredLength is the raw length field value decoded from the frame's
	// length bytes (attribute-to-payload-end), used by the framer to check
	// against the attribute's schema-declared maximum before the rest of the
	// payload has even arrived.
	DeclaredLength uint32
}

// NewMessage allocates a Message with the given buffer capacity
// (DefaultMaxPayloadLen+FrameOverheadBytes when capacity <= 0, up to
// AbsoluteMaxPayloadLen+FrameOverheadBytes for attributes that opt into
// extended length).
func NewMessage(capacity int) *Message {
	if capacity <= 0 {
		capacity = DefaultMaxPayloadLen + FrameOverheadBytes
	}
	return &Message{Buf: make([]byte, capacity)}
}

// Reset zeroes a Message for reuse: buffer contents are cleared and all
// cursors/flags return to zero value.
func (m *Message) Reset() {
	for i := range m.Buf {
		m.Buf[i] = 0
	}
	m.Header = Header{}
	m.Direction = DirPack
	m.SuppressAutoResponse = false
	m.AttributeNotHandled = false
	m.LegacyHeader = false
	m.StartOfFrame = 0
	m.StartOfAttribute = 0
	m.StartOfPayload = 0
	m.Cursor = 0
	m.WireLen = 0
	m.DeclaredLength = 0
}

// DisableDefaultResponse suppresses the auto Current-Value response that
// would otherwise follow a Write dispatch. Callable from within a receive
// parser callback. The response to a Read is not affected.
func DisableDefaultResponse(m *Message) {
	m.SuppressAutoResponse = true
}
