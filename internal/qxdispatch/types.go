// Package qxdispatch implements the endpoint dispatcher: endpoint
// registration, receive routing with auto-response, and the four typed
// sends, combined into one cohesive package covering registry, broadcast,
// routing, finalize and transmit.
package qxdispatch

import (
	"github.com/freefly-qx/qx-gateway/internal/qxmsg"
	"github.com/freefly-qx/qx-gateway/internal/qxport"
)

// Role distinguishes server and client endpoints. Both roles share one
// Endpoint type selected by Role rather than two structurally-identical
// structs.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// ParserFunc drives the payload codec for one endpoint: on receive it reads
// m.Direction to decide pack/unpack semantics; on send it packs the
// endpoint's current application values into m starting at m.StartOfPayload.
// A parser that writes a payload (anything but a Read send) must advance
// m.Cursor to the position immediately after the last byte it wrote, e.g.
// `m.Cursor = cursor.Pos` when driving the payload via a qxpayload.Cursor --
// Finalize trusts m.Cursor to know where the payload ends.
type ParserFunc func(m *qxmsg.Message, port *qxport.Port)

// Endpoint is a registered server or client, identified by a 32-bit address.
type Endpoint struct {
	Address uint32
	Role    Role
	Parser  ParserFunc
}

// TxOptions parameterizes one send. InitTxOptions returns the documented
// defaults: keep addresses, broadcast target, no CRC32, no FF-extension, not
// legacy.
type TxOptions struct {
	RemoveAddrFields bool
	RemoveReqFields  bool
	AddCRC32         bool
	FFExt            bool
	Legacy           bool

	TargetAddr  uint32
	TxReqAddr   uint32
	RespReqAddr uint32
}

// InitTxOptions returns the protocol's documented default send options.
func InitTxOptions() TxOptions {
	return TxOptions{TargetAddr: qxmsg.DeviceBroadcast}
}

// FrameSink transmits a finalized frame on behalf of the dispatcher. Hosts
// typically implement this with an async fan-in writer per port
// (qxtransport.AsyncTx) rather than writing inline from Dispatch/Send.
type FrameSink interface {
	SendToPort(port *qxport.Port, frame []byte) error
}
