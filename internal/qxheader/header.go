// Package qxheader implements the extensible header codec: Build lays out a
// Message's header bytes ahead of its payload; Parse walks a received
// frame's header back into a qxmsg.Header, as separate, symmetrical
// build-into-buffer and parse-from-buffer functions.
package qxheader

import (
	"errors"

	"github.com/freefly-qx/qx-gateway/internal/qxmsg"
	"github.com/freefly-qx/qx-gateway/internal/qxwire"
)

// ErrLegacyUnsupported is returned when a QB-framed message arrives and no
// LegacyCodec has been installed.
var ErrLegacyUnsupported = errors.New("qxheader: legacy QB header requires a LegacyCodec")

// opt0HasOptionByte1 etc. name the option-byte-0 bit layout; opt1AddCRC32
// is the option-byte-1 CRC32 flag.
const (
	opt0HasOptionByte1 = 1 << 7
	opt0RemoveAddr     = 1 << 6
	opt0RemoveReq      = 1 << 5
	opt0FFExt          = 1 << 4
	opt0MsgTypeMask    = 0x0F

	opt1AddCRC32 = 1 << 0
)

// LengthFormThreshold is the header+payload size at or above which Finalize
// must emit the 2-byte QX length form.
const LengthFormThreshold = 100

// LegacyCodec delegates the opaque QB header layout to the host. Absence of
// a LegacyCodec on a Parse/Build call for a legacy-tagged message yields
// ErrLegacyUnsupported.
type LegacyCodec interface {
	BuildLegacy(m *qxmsg.Message) error
	ParseLegacy(m *qxmsg.Message) error
}

// Codec builds and parses QX (and, via an optional LegacyCodec, QB) headers.
type Codec struct {
	Legacy LegacyCodec
}

// NewCodec constructs a Codec. legacy may be nil if the host never needs QB
// support.
func NewCodec(legacy LegacyCodec) *Codec {
	return &Codec{Legacy: legacy}
}

// Build reserves the 4-byte frame preamble ('Q','X'|'B', 2 length-byte
// placeholders) then appends the header fields starting at offset 4,
// leaving m.StartOfPayload at the first payload byte. The length bytes and
// final checksum are only correct after Finalize runs (qxdispatch owns
// Finalize, since the final length form depends on the completed payload
// size).
func (c *Codec) Build(m *qxmsg.Message) error {
	if m.LegacyHeader {
		if c.Legacy == nil {
			return ErrLegacyUnsupported
		}
		m.Buf[0], m.Buf[1] = 'Q', 'B'
		m.Cursor = 4
		m.StartOfAttribute = 4
		if err := c.Legacy.BuildLegacy(m); err != nil {
			return err
		}
		m.StartOfPayload = m.Cursor
		return nil
	}

	m.Buf[0], m.Buf[1] = 'Q', 'X'
	m.Cursor = 4
	m.StartOfAttribute = 4

	m.Cursor = qxwire.PutVarintInto(m.Buf, m.Cursor, m.Header.Attribute)

	opt0 := byte(m.Header.Type) & opt0MsgTypeMask
	if m.Header.RemoveAddrFields {
		opt0 |= opt0RemoveAddr
	}
	if m.Header.RemoveReqFields {
		opt0 |= opt0RemoveReq
	}
	if m.Header.FFExt {
		opt0 |= opt0FFExt
	}
	if m.Header.OptionByte1Present {
		opt0 |= opt0HasOptionByte1
	}
	m.Buf[m.Cursor] = opt0
	m.Cursor++

	if m.Header.OptionByte1Present {
		var opt1 byte
		if m.Header.AddCRC32 {
			opt1 |= opt1AddCRC32
		}
		m.Buf[m.Cursor] = opt1
		m.Cursor++
	}

	if !m.Header.RemoveAddrFields {
		m.Cursor = qxwire.PutVarintInto(m.Buf, m.Cursor, m.Header.SourceAddr)
		m.Cursor = qxwire.PutVarintInto(m.Buf, m.Cursor, m.Header.TargetAddr)
	}

	if !m.Header.RemoveReqFields {
		m.Cursor = qxwire.PutVarintInto(m.Buf, m.Cursor, m.Header.TxReqAddr)
		m.Cursor = qxwire.PutVarintInto(m.Buf, m.Cursor, m.Header.RespReqAddr)
	}

	if m.Header.FFExt {
		m.Buf[m.Cursor] = 0
		m.Buf[m.Cursor+1] = 0
		m.Cursor += 2
	}

	m.StartOfPayload = m.Cursor
	return nil
}

// Parse walks a received frame's header starting at m.StartOfAttribute,
// populating m.Header and leaving m.StartOfPayload / m.Cursor at the first
// payload byte.
func (c *Codec) Parse(m *qxmsg.Message) error {
	if m.LegacyHeader {
		if c.Legacy == nil {
			return ErrLegacyUnsupported
		}
		return c.Legacy.ParseLegacy(m)
	}

	pos := m.StartOfAttribute
	attr, n, err := qxwire.Varint(m.Buf[pos:])
	if err != nil {
		return err
	}
	pos += n
	m.Header.Attribute = attr

	opt0 := m.Buf[pos]
	pos++
	m.Header.Type = qxmsg.MessageType(opt0 & opt0MsgTypeMask)
	m.Header.RemoveAddrFields = opt0&opt0RemoveAddr != 0
	m.Header.RemoveReqFields = opt0&opt0RemoveReq != 0
	m.Header.FFExt = opt0&opt0FFExt != 0
	m.Header.OptionByte1Present = opt0&opt0HasOptionByte1 != 0

	if m.Header.OptionByte1Present {
		opt1 := m.Buf[pos]
		pos++
		m.Header.AddCRC32 = opt1&opt1AddCRC32 != 0
	} else {
		m.Header.AddCRC32 = false
	}

	if m.Header.RemoveAddrFields {
		m.Header.SourceAddr = qxmsg.DeviceBroadcast
		m.Header.TargetAddr = qxmsg.DeviceBroadcast
	} else {
		src, n, err := qxwire.Varint(m.Buf[pos:])
		if err != nil {
			return err
		}
		pos += n
		m.Header.SourceAddr = src

		tgt, n, err := qxwire.Varint(m.Buf[pos:])
		if err != nil {
			return err
		}
		pos += n
		m.Header.TargetAddr = tgt
	}

	if m.Header.RemoveReqFields {
		m.Header.TxReqAddr = 0
		m.Header.RespReqAddr = 0
	} else {
		tx, n, err := qxwire.Varint(m.Buf[pos:])
		if err != nil {
			return err
		}
		pos += n
		m.Header.TxReqAddr = tx

		resp, n, err := qxwire.Varint(m.Buf[pos:])
		if err != nil {
			return err
		}
		pos += n
		m.Header.RespReqAddr = resp
	}

	if m.Header.FFExt {
		pos += 2
	}

	m.StartOfPayload = pos
	m.Cursor = pos
	return nil
}
