package qxdispatch

import (
	"github.com/freefly-qx/qx-gateway/internal/qxheader"
	"github.com/freefly-qx/qx-gateway/internal/qxmsg"
	"github.com/freefly-qx/qx-gateway/internal/qxwire"
)

// Finalize completes a built-and-packed Message: it decides the 1- vs 2-byte
// length form, writes the length bytes (counting any CRC32 padding and CRC32
// bytes), appends CRC32 if requested, appends the 8-bit outer checksum, and
// sets m.WireLen to the exact number of bytes that must be transmitted.
// Exactly WireLen bytes are ever sent; there is no off-by-one in the send
// loop.
func (d *Dispatcher) Finalize(m *qxmsg.Message) {
	// crcLen is the zero padding plus the 4 CRC32 bytes appendCRC32 will add
	// after a preamble of the given size.
	crcLen := func(preamble int) int {
		if !m.Header.AddCRC32 {
			return 0
		}
		return (4-(preamble+m.Cursor-m.StartOfAttribute)%4)%4 + 4
	}
	length := m.Cursor - m.StartOfAttribute + crcLen(4)

	switch {
	case m.LegacyHeader:
		m.Buf[2] = byte(length >> 8)
		m.Buf[3] = byte(length)
	case length >= qxheader.LengthFormThreshold:
		m.Buf[2] = byte(length&0x7F) | 0x80
		m.Buf[3] = byte((length >> 7) & 0x7F)
	default:
		// Build always reserves a worst-case 2-byte length slot (4-byte
		// preamble). The 1-byte form needs only 3 preamble bytes, so the
		// header+payload+CRC32 region shifts left by one.
		copy(m.Buf[3:m.Cursor-1], m.Buf[4:m.Cursor])
		m.Cursor--
		m.StartOfAttribute--
		length = m.Cursor - m.StartOfAttribute + crcLen(3)
		m.Buf[2] = byte(length)
	}

	if m.Header.AddCRC32 {
		appendCRC32(m, d.CRC32)
	}

	sum := qxwire.Checksum8(m.Buf[m.StartOfAttribute:m.Cursor])
	m.Buf[m.Cursor] = byte(0xFF - sum)
	m.Cursor++
	m.WireLen = m.Cursor
}

// appendCRC32 zero-pads from StartOfFrame to 4-byte alignment, then appends
// the CRC32 of the frame from StartOfFrame through the padded end, little
// -endian.
func appendCRC32(m *qxmsg.Message, crc32Fn qxwire.CRC32Func) {
	total := m.Cursor - m.StartOfFrame
	pad := (4 - total%4) % 4
	for i := 0; i < pad; i++ {
		m.Buf[m.Cursor] = 0
		m.Cursor++
	}

	crc := crc32Fn(qxwire.CRC32Init, m.Buf[m.StartOfFrame:m.Cursor])
	m.Buf[m.Cursor] = byte(crc)
	m.Buf[m.Cursor+1] = byte(crc >> 8)
	m.Buf[m.Cursor+2] = byte(crc >> 16)
	m.Buf[m.Cursor+3] = byte(crc >> 24)
	m.Cursor += 4
}
