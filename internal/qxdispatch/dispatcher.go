package qxdispatch

import (
	"sync/atomic"

	"github.com/freefly-qx/qx-gateway/internal/qxheader"
	"github.com/freefly-qx/qx-gateway/internal/qxmetrics"
	"github.com/freefly-qx/qx-gateway/internal/qxmsg"
	"github.com/freefly-qx/qx-gateway/internal/qxport"
	"github.com/freefly-qx/qx-gateway/internal/qxschema"
	"github.com/freefly-qx/qx-gateway/internal/qxwire"
)

// uidAddressSeed ORs in a byte pattern that guarantees every byte of a
// UID-derived address has its continuation bit set except, by virtue of the
// 0x7FFFFFFF mask, the final one -- so the address always serializes as a
// full 4-byte varint.
const uidAddressSeed = 0x00808080
const uidAddressMask = 0x7FFFFFFF

// Dispatcher owns the registered endpoints and drives receive routing and
// the typed sends. A Dispatcher is safe for concurrent use by multiple
// ports: the endpoint slices are read-only after registration finishes,
// and counters are atomic.
type Dispatcher struct {
	Servers []*Endpoint
	Clients []*Endpoint

	Schema qxschema.Table
	Header *qxheader.Codec
	CRC32  qxwire.CRC32Func
	Sink   FrameSink

	// Forward is invoked when a received frame's target address matches no
	// registered local endpoint, letting the host proxy it elsewhere.
	Forward func(m *qxmsg.Message, port *qxport.Port)

	// UID is the 12-byte MCU unique identifier used to derive addresses for
	// endpoints registered with qxmsg.IDUID.
	UID [12]byte

	messageTypeUnsupported atomic.Uint64
	attributeNotHandled    atomic.Uint64
	legacyUnsupported      atomic.Uint64
	crc32Fail              atomic.Uint64
}

// NewDispatcher constructs a Dispatcher. header and crc32Fn may be supplied
// by the host; crc32Fn defaults to qxwire.AccumulateCRC32 when nil.
func NewDispatcher(schema qxschema.Table, header *qxheader.Codec, crc32Fn qxwire.CRC32Func, sink FrameSink) *Dispatcher {
	if crc32Fn == nil {
		crc32Fn = qxwire.AccumulateCRC32
	}
	return &Dispatcher{Schema: schema, Header: header, CRC32: crc32Fn, Sink: sink}
}

func deriveUIDAddress(deviceID uint32, uid [12]byte) uint32 {
	crc := qxwire.AccumulateCRC32(qxwire.CRC32Init, uid[:])
	return (deviceID | (crc << 8) | uidAddressSeed) & uidAddressMask
}

// InitServer registers a server endpoint.
func (d *Dispatcher) InitServer(addr uint32, idType qxmsg.IDType, parser ParserFunc) *Endpoint {
	if idType == qxmsg.IDUID {
		addr = deriveUIDAddress(addr, d.UID)
	}
	ep := &Endpoint{Address: addr, Role: RoleServer, Parser: parser}
	d.Servers = append(d.Servers, ep)
	return ep
}

// InitClient registers a client endpoint.
func (d *Dispatcher) InitClient(addr uint32, idType qxmsg.IDType, parser ParserFunc) *Endpoint {
	if idType == qxmsg.IDUID {
		addr = deriveUIDAddress(addr, d.UID)
	}
	ep := &Endpoint{Address: addr, Role: RoleClient, Parser: parser}
	d.Clients = append(d.Clients, ep)
	return ep
}

// Dispatch parses m's header and routes it to the matching endpoint. It is called once
// a complete, checksum-verified frame has arrived. All wire-level and
// application-level errors are recovered locally: Dispatch never returns an
// error for a malformed or unroutable frame, matching the protocol's
// best-effort, non-reentrant receive cycle.
func (d *Dispatcher) Dispatch(m *qxmsg.Message, port *qxport.Port) {
	if err := d.Header.Parse(m); err != nil {
		if err == qxheader.ErrLegacyUnsupported {
			d.legacyUnsupported.Add(1)
			qxmetrics.IncError(qxmetrics.ErrLegacyUnsupported)
		}
		return
	}

	if m.Header.AddCRC32 {
		if !d.verifyCRC32(m) {
			d.crc32Fail.Add(1)
			port.CRC32FailCount++
			qxmetrics.IncError(qxmetrics.ErrCRC32Fail)
			return
		}
	}

	targetBroadcast := m.Header.TargetAddr == qxmsg.DeviceBroadcast

	switch m.Header.Type {
	case qxmsg.MsgTypeRead:
		d.routeRead(m, port, targetBroadcast)
	case qxmsg.MsgTypeWriteAbs:
		d.routeWrite(m, port, targetBroadcast, qxmsg.DirUnpackAbs)
	case qxmsg.MsgTypeWriteRel:
		d.routeWrite(m, port, targetBroadcast, qxmsg.DirUnpackRel)
	case qxmsg.MsgTypeCurrentValue:
		d.routeCurrentValue(m, port, targetBroadcast)
	default:
		d.messageTypeUnsupported.Add(1)
		qxmetrics.IncError(qxmetrics.ErrMessageTypeUnsupported)
	}
}

// verifyCRC32 checks the 4 little-endian CRC32 bytes located at
// WireLen-5..WireLen-1 against the CRC32 of the frame from StartOfFrame
// through WireLen-5 (exclusive).
func (d *Dispatcher) verifyCRC32(m *qxmsg.Message) bool {
	if m.WireLen < 5 {
		return false
	}
	crcOffset := m.WireLen - 5
	want := uint32(m.Buf[crcOffset]) | uint32(m.Buf[crcOffset+1])<<8 |
		uint32(m.Buf[crcOffset+2])<<16 | uint32(m.Buf[crcOffset+3])<<24
	got := d.CRC32(qxwire.CRC32Init, m.Buf[m.StartOfFrame:crcOffset])
	return got == want
}

func (d *Dispatcher) routeRead(m *qxmsg.Message, port *qxport.Port, broadcast bool) {
	matched := false
	for _, srv := range d.Servers {
		if broadcast || srv.Address == m.Header.TargetAddr {
			matched = true
			d.respondCurrentValue(srv, m.Header.Attribute, port, m.Header.SourceAddr)
		}
	}
	if !matched && d.Forward != nil {
		d.Forward(m, port)
	}
}

func (d *Dispatcher) routeWrite(m *qxmsg.Message, port *qxport.Port, broadcast bool, dir qxmsg.Direction) {
	matched := false
	for _, srv := range d.Servers {
		if !(broadcast || srv.Address == m.Header.TargetAddr) {
			continue
		}
		matched = true

		m.Direction = dir
		m.SuppressAutoResponse = false
		m.AttributeNotHandled = false

		if _, ok := d.Schema.Lookup(m.Header.Attribute); !ok {
			m.AttributeNotHandled = true
			d.attributeNotHandled.Add(1)
			qxmetrics.IncError(qxmetrics.ErrAttributeNotHandled)
		} else if srv.Parser != nil {
			srv.Parser(m, port)
		}

		if !m.SuppressAutoResponse && !m.AttributeNotHandled {
			d.respondCurrentValue(srv, m.Header.Attribute, port, m.Header.SourceAddr)
		}
	}
	if !matched && d.Forward != nil {
		d.Forward(m, port)
	}
}

func (d *Dispatcher) routeCurrentValue(m *qxmsg.Message, port *qxport.Port, broadcast bool) {
	matched := false
	for _, cli := range d.Clients {
		if !(broadcast || cli.Address == m.Header.TargetAddr) {
			continue
		}
		matched = true

		m.Direction = qxmsg.DirUnpackAbs
		m.AttributeNotHandled = false

		if _, ok := d.Schema.Lookup(m.Header.Attribute); !ok {
			m.AttributeNotHandled = true
			d.attributeNotHandled.Add(1)
			qxmetrics.IncError(qxmetrics.ErrAttributeNotHandled)
		} else if cli.Parser != nil {
			cli.Parser(m, port)
		}
	}
	if !matched && d.Forward != nil {
		d.Forward(m, port)
	}
}

// respondCurrentValue builds and sends the standard auto-response: a
// CurrentValue frame from srv to target, with request fields removed.
func (d *Dispatcher) respondCurrentValue(srv *Endpoint, attr uint32, port *qxport.Port, target uint32) {
	opts := TxOptions{RemoveReqFields: true, TargetAddr: target}
	_ = d.send(srv, attr, qxmsg.MsgTypeCurrentValue, port, opts)
}

func (d *Dispatcher) newMessage(attr uint32, legacy bool) *qxmsg.Message {
	maxLen := uint32(qxmsg.DefaultMaxPayloadLen)
	if d.Schema != nil {
		maxLen = d.Schema.MaxPayloadLen(attr)
	}
	m := qxmsg.NewMessage(int(maxLen) + qxmsg.FrameOverheadBytes)
	m.LegacyHeader = legacy
	return m
}

// send is the common path behind all four typed sends and the auto-response:
// it builds the header, invokes the endpoint's parser to pack the payload
// (skipped for Read, which carries none), finalizes, and transmits.
func (d *Dispatcher) send(ep *Endpoint, attr uint32, msgType qxmsg.MessageType, port *qxport.Port, opts TxOptions) error {
	m := d.newMessage(attr, opts.Legacy)
	m.Header = qxmsg.Header{
		Attribute:          attr,
		Type:                msgType,
		RemoveAddrFields:    opts.RemoveAddrFields,
		RemoveReqFields:     opts.RemoveReqFields,
		OptionByte1Present:  opts.AddCRC32,
		AddCRC32:            opts.AddCRC32,
		FFExt:               opts.FFExt,
		SourceAddr:          ep.Address,
		TargetAddr:          opts.TargetAddr,
		TxReqAddr:           opts.TxReqAddr,
		RespReqAddr:         opts.RespReqAddr,
	}

	if err := d.Header.Build(m); err != nil {
		if err == qxheader.ErrLegacyUnsupported {
			d.legacyUnsupported.Add(1)
			qxmetrics.IncError(qxmetrics.ErrLegacyUnsupported)
		}
		return err
	}

	if msgType != qxmsg.MsgTypeRead && ep.Parser != nil {
		m.Direction = qxmsg.DirPack
		ep.Parser(m, port)
	}

	d.Finalize(m)

	if d.Sink == nil {
		return ErrNoEndpoint
	}
	return d.Sink.SendToPort(port, m.Buf[:m.WireLen])
}

// SendSrvCurrentValue sends an unsolicited Current-Value frame from a
// server endpoint.
func (d *Dispatcher) SendSrvCurrentValue(srv *Endpoint, attr uint32, port *qxport.Port, opts TxOptions) error {
	return d.send(srv, attr, qxmsg.MsgTypeCurrentValue, port, opts)
}

// SendCliRead sends a Read request from a client endpoint.
func (d *Dispatcher) SendCliRead(cli *Endpoint, attr uint32, port *qxport.Port, opts TxOptions) error {
	return d.send(cli, attr, qxmsg.MsgTypeRead, port, opts)
}

// SendCliWriteAbs sends a Write-Absolute request from a client endpoint.
func (d *Dispatcher) SendCliWriteAbs(cli *Endpoint, attr uint32, port *qxport.Port, opts TxOptions) error {
	return d.send(cli, attr, qxmsg.MsgTypeWriteAbs, port, opts)
}

// SendCliWriteRel sends a Write-Relative request from a client endpoint.
func (d *Dispatcher) SendCliWriteRel(cli *Endpoint, attr uint32, port *qxport.Port, opts TxOptions) error {
	return d.send(cli, attr, qxmsg.MsgTypeWriteRel, port, opts)
}

// SendCliControl is a thin alias of SendCliWriteAbs, kept for control-type
// attributes that warrant a distinct call site at higher layers.
func (d *Dispatcher) SendCliControl(cli *Endpoint, attr uint32, port *qxport.Port, opts TxOptions) error {
	return d.SendCliWriteAbs(cli, attr, port, opts)
}

// DisableDefaultResponse suppresses the auto Current-Value response that
// would otherwise follow a Write dispatch. Callable from within a receive
// parser callback. The response to a Read is not affected.
func DisableDefaultResponse(m *qxmsg.Message) {
	qxmsg.DisableDefaultResponse(m)
}
