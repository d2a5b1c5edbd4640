// Package qxport models one physical or logical QX connection: its framer
// state, in-flight message, and liveness bookkeeping. A single Port type
// serves both the TCP-hub side and the serial-gateway side.
package qxport

import (
	"time"

	"github.com/freefly-qx/qx-gateway/internal/qxmsg"
)

// Clock abstracts "now, in milliseconds" so ConnectionStatusUpdate and
// per-packet timeouts are deterministic in tests.
type Clock interface {
	NowMS() uint32
}

// RealClock implements Clock against the process start time, wrapping at
// roughly 49 days of uptime, matching a 32-bit millisecond tick.
type RealClock struct{ start time.Time }

// NewRealClock returns a Clock anchored to the current wall-clock time.
func NewRealClock() RealClock { return RealClock{start: time.Now()} }

func (c RealClock) NowMS() uint32 { return uint32(time.Since(c.start).Milliseconds()) }

// FramerState is the persistent byte-at-a-time state a Port carries between
// FeedByte calls. Declared here (not in qxframe) so Port has no import
// dependency on the framer package; qxframe operates on this struct.
type FramerState struct {
	State        uint8
	LenBytes     [2]byte
	LenByteCount int

	// Attribute-varint tracking within GetData: the framer parses just
	// enough of the leading attribute id to perform the per-attribute
	// length check exactly once, without knowing anything else about the
	// header layout.
	AttrVarintDone bool
	AttrByteCount  int
}

// Port is one QX endpoint's connection-level state: everything that persists
// across the lifetime of a physical link, as opposed to qxmsg.Message, which
// is scoped to a single frame.
type Port struct {
	Clock Clock

	Framer FramerState

	// InProgress is the message currently being assembled by the framer. It
	// is reused frame to frame to avoid per-byte allocation.
	InProgress *qxmsg.Message

	RxCntr            uint32
	LenApproved       bool
	PacketStartMS     uint32
	LastRxMS          uint32
	Connected         bool
	NonQCount         uint32
	ChecksumFailCount uint32
	CRC32FailCount    uint32
	ResyncCount       uint32

	// PortLatencyMS and MsPerBitX4096 parameterize the optional per-packet
	// timeout check: (MsgLength+7)*MsPerBitX4096/4096 + 2 + PortLatencyMS
	// compared against elapsed time since PacketStartMS.
	PortLatencyMS uint32
	MsPerBitX4096 uint32
}

// NewPort allocates a Port with a fresh in-progress message buffer of the
// given capacity (0 selects the package default).
func NewPort(clock Clock, msgCapacity int) *Port {
	return &Port{
		Clock:      clock,
		InProgress: qxmsg.NewMessage(msgCapacity),
	}
}

// ConnectionStatusUpdate marks the port disconnected once more than
// qxmsg.PortInactivityTimeoutMS has elapsed since the last successfully
// decoded frame.
func (p *Port) ConnectionStatusUpdate(nowMS uint32) {
	if nowMS-p.LastRxMS > qxmsg.PortInactivityTimeoutMS {
		p.Connected = false
	}
}

// MarkFrameReceived records a successful frame decode, resetting the
// inactivity clock and marking the port connected again.
func (p *Port) MarkFrameReceived(nowMS uint32) {
	p.LastRxMS = nowMS
	p.Connected = true
	p.RxCntr++
}

// PacketTimedOut reports whether the in-progress frame, started at
// p.PacketStartMS, has exceeded its expected transmission time by nowMS. A
// zero MsPerBitX4096 disables the check (the common case: most transports
// don't know their own bit rate).
func (p *Port) PacketTimedOut(nowMS uint32, msgLength uint32) bool {
	if p.MsPerBitX4096 == 0 {
		return false
	}
	elapsed := nowMS - p.PacketStartMS
	budget := (msgLength+7)*p.MsPerBitX4096/4096 + 2 + p.PortLatencyMS
	return elapsed > budget
}
