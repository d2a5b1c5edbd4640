// Package qxframe implements the stream framer: a byte-at-a-time state
// machine that finds frame boundaries in an arbitrary byte stream, verifies
// the 8-bit outer checksum, and delivers a complete frame's bytes into a
// qxport.Port's in-progress message.
//
// On malformed input the framer returns to StartWait and keeps scanning from
// the next byte; bytes already consumed for the abandoned frame are not
// rescanned. It never blocks waiting for a fresh preamble.
package qxframe

import (
	"github.com/freefly-qx/qx-gateway/internal/qxmetrics"
	"github.com/freefly-qx/qx-gateway/internal/qxmsg"
	"github.com/freefly-qx/qx-gateway/internal/qxport"
	"github.com/freefly-qx/qx-gateway/internal/qxschema"
	"github.com/freefly-qx/qx-gateway/internal/qxwire"
)

// Protocol version bytes following 'Q'.
const (
	protoQX = 'X'
	protoQB = 'B'
	protoQ  = 'Q'
)

// Framer states.
const (
	stateStartWait uint8 = iota
	stateGetProtoVer
	stateGetQxLen0
	stateGetQxLen1
	stateGetQbLen0
	stateGetQbLen1
	stateGetData
	stateGetChksum
)

// maxVarintLenBytes bounds the QX length varint to 2 bytes on the wire:
// 1-byte form for lengths < 0x80, 2-byte form otherwise. The protocol never
// needs a 3rd continuation byte because payload length is capped at
// AbsoluteMaxPayloadLen.
const maxVarintLenBytes = 2

// Framer drives Port.Framer one byte at a time. It holds no per-connection
// state of its own; all persistent state lives in the qxport.Port passed to
// FeedByte, so a single Framer value can serve many ports.
type Framer struct {
	Schema qxschema.Table
}

// NewFramer constructs a Framer bound to an attribute schema, used to look
// up the maximum allowed declared length per attribute once the attribute
// field becomes available. A nil schema falls back to
// qxmsg.DefaultMaxPayloadLen for every attribute.
func NewFramer(schema qxschema.Table) *Framer {
	return &Framer{Schema: schema}
}

func (f *Framer) maxPayloadLen(attr uint32) uint32 {
	if f.Schema == nil {
		return qxmsg.DefaultMaxPayloadLen
	}
	return f.Schema.MaxPayloadLen(attr)
}

// FeedByte consumes one byte of input for Port p. It returns true exactly
// when p.InProgress now holds a complete, checksum-verified frame: the
// caller should dispatch it and then call Reset before feeding more bytes.
// Malformed input resyncs by returning to stateStartWait; the bytes of the
// abandoned frame are dropped, not rescanned (a bad protocol-version byte is
// re-examined as a possible 'Q').
func (f *Framer) FeedByte(p *qxport.Port, b byte) bool {
	m := p.InProgress
	fs := &p.Framer

	if p.LenApproved && (fs.State == stateGetData || fs.State == stateGetChksum) &&
		p.Clock != nil && p.PacketTimedOut(p.Clock.NowMS(), m.DeclaredLength) {
		p.ResyncCount++
		qxmetrics.IncError(qxmetrics.ErrFramingResync)
		p.LenApproved = false
		fs.State = stateStartWait
		return false
	}

	switch fs.State {
	case stateStartWait:
		if b == protoQ {
			m.Reset()
			m.Buf[0] = b
			m.Cursor = 1
			fs.State = stateGetProtoVer
			p.LenApproved = false
		}
		return false

	case stateGetProtoVer:
		switch b {
		case protoQX:
			m.Buf[m.Cursor] = b
			m.Cursor++
			m.LegacyHeader = false
			fs.LenByteCount = 0
			fs.State = stateGetQxLen0
		case protoQB:
			m.Buf[m.Cursor] = b
			m.Cursor++
			m.LegacyHeader = true
			fs.State = stateGetQbLen0
		default:
			p.NonQCount++
			qxmetrics.IncError(qxmetrics.ErrFramingResync)
			fs.State = stateStartWait
			return f.FeedByte(p, b)
		}
		return false

	case stateGetQxLen0:
		fs.LenBytes[0] = b
		m.Buf[m.Cursor] = b
		m.Cursor++
		if b&0x80 != 0 {
			fs.State = stateGetQxLen1
			return false
		}
		return f.finishQxLength(p, []byte{b})

	case stateGetQxLen1:
		fs.LenBytes[1] = b
		m.Buf[m.Cursor] = b
		m.Cursor++
		if b&0x80 != 0 {
			// No 3rd continuation byte is accepted: resync.
			p.ResyncCount++
			qxmetrics.IncError(qxmetrics.ErrFramingResync)
			fs.State = stateStartWait
			return false
		}
		return f.finishQxLength(p, []byte{fs.LenBytes[0], b})

	case stateGetQbLen0:
		fs.LenBytes[0] = b
		m.Buf[m.Cursor] = b
		m.Cursor++
		fs.State = stateGetQbLen1
		return false

	case stateGetQbLen1:
		fs.LenBytes[1] = b
		m.Buf[m.Cursor] = b
		m.Cursor++
		length := uint16(fs.LenBytes[0])<<8 | uint16(fs.LenBytes[1])
		return f.armDataState(p, uint32(length))

	case stateGetData:
		if m.Cursor < len(m.Buf) {
			m.Buf[m.Cursor] = b
		}
		m.Cursor++

		if !fs.AttrVarintDone {
			fs.AttrByteCount++
			if b&0x80 == 0 || fs.AttrByteCount >= qxwire.MaxVarintBytes {
				fs.AttrVarintDone = true
				attrID, _, err := qxwire.Varint(m.Buf[m.StartOfAttribute : m.StartOfAttribute+fs.AttrByteCount])
				if err != nil {
					p.ResyncCount++
					qxmetrics.IncError(qxmetrics.ErrFramingResync)
					fs.State = stateStartWait
					return false
				}
				if m.DeclaredLength > f.maxPayloadLen(attrID) {
					p.ResyncCount++
					qxmetrics.IncError(qxmetrics.ErrLengthRejected)
					fs.State = stateStartWait
					return false
				}
				p.LenApproved = true
			}
		}

		if m.Cursor >= m.WireLen-1 {
			fs.State = stateGetChksum
		}
		return false

	case stateGetChksum:
		if m.Cursor < len(m.Buf) {
			m.Buf[m.Cursor] = b
		}
		m.Cursor++
		fs.State = stateStartWait
		p.LenApproved = false
		total := qxwire.Checksum8(m.Buf[m.StartOfAttribute:m.Cursor])
		if total != 0xFF {
			p.ChecksumFailCount++
			qxmetrics.IncError(qxmetrics.ErrChecksumFail)
			return false
		}
		m.WireLen = m.Cursor
		return true
	}
	return false
}

// finishQxLength is reached once the 1- or 2-byte QX length varint is fully
// read. It decodes the declared frame length; the per-attribute length cap
// is applied later, once enough of GetData has arrived to know the
// attribute id (see stateGetData).
func (f *Framer) finishQxLength(p *qxport.Port, lenBytes []byte) bool {
	length, _, err := qxwire.Varint(lenBytes)
	if err != nil {
		p.ResyncCount++
		qxmetrics.IncError(qxmetrics.ErrFramingResync)
		p.Framer.State = stateStartWait
		return false
	}
	return f.armDataState(p, length)
}

// armDataState validates the declared length against the absolute cap and
// transitions into data collection, or resyncs if the length is impossible.
func (f *Framer) armDataState(p *qxport.Port, length uint32) bool {
	m := p.InProgress
	fs := &p.Framer

	if length == 0 || length > qxmsg.AbsoluteMaxPayloadLen {
		p.ResyncCount++
		qxmetrics.IncError(qxmetrics.ErrLengthRejected)
		fs.State = stateStartWait
		return false
	}
	if int(length)+qxmsg.FrameOverheadBytes > len(m.Buf) {
		// Buffer too small for a frame this large: reject and resync rather
		// than overrun.
		p.ResyncCount++
		qxmetrics.IncError(qxmetrics.ErrLengthRejected)
		fs.State = stateStartWait
		return false
	}

	m.StartOfAttribute = m.Cursor
	m.DeclaredLength = length
	m.WireLen = m.Cursor + int(length) + 1 // +1 for the trailing checksum byte
	if p.Clock != nil {
		p.PacketStartMS = p.Clock.NowMS()
	}
	fs.AttrVarintDone = false
	fs.AttrByteCount = 0
	fs.State = stateGetData
	return false
}
