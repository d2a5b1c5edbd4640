// Package qxtransport defines the physical-transport boundary the protocol
// engine sends finalized frames through, and a reusable async fan-in writer
// for funneling concurrent sends onto one physical port. FrameWriter and
// FrameReader deal in opaque QX wire bytes rather than a typed frame
// struct, since the protocol engine already finalizes a complete []byte
// frame and has no further use for a typed representation at this
// boundary.
package qxtransport

import "github.com/freefly-qx/qx-gateway/internal/qxport"

// FrameWriter is the narrow physical-layer write side a transport backend
// (serial, TCP, BLE) implements. It satisfies qxdispatch.FrameSink
// structurally.
type FrameWriter interface {
	SendToPort(port *qxport.Port, frame []byte) error
}

// FrameReader is the physical-layer read side: backends push raw bytes as
// they arrive, letting the caller feed them to a qxframe.Framer one at a
// time.
type FrameReader interface {
	ReadByte() (byte, error)
}
