package qxheader

import (
	"testing"

	"github.com/freefly-qx/qx-gateway/internal/qxmsg"
)

func TestBuildParseRoundTrip(t *testing.T) {
	m := qxmsg.NewMessage(64)
	m.Header = qxmsg.Header{
		Attribute:        34,
		Type:             qxmsg.MsgTypeRead,
		RemoveReqFields:  true,
		RemoveAddrFields: false,
		SourceAddr:       7,
		TargetAddr:       9,
	}

	c := NewCodec(nil)
	if err := c.Build(m); err != nil {
		t.Fatalf("Build: %v", err)
	}
	payloadStart := m.StartOfPayload

	got := qxmsg.NewMessage(64)
	copy(got.Buf, m.Buf)
	got.StartOfAttribute = 4
	got.LegacyHeader = false
	if err := c.Parse(got); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got.Header.Attribute != 34 {
		t.Fatalf("Attribute = %d, want 34", got.Header.Attribute)
	}
	if got.Header.Type != qxmsg.MsgTypeRead {
		t.Fatalf("Type = %v, want Read", got.Header.Type)
	}
	if !got.Header.RemoveReqFields {
		t.Fatalf("RemoveReqFields should round-trip true")
	}
	if got.Header.SourceAddr != 7 || got.Header.TargetAddr != 9 {
		t.Fatalf("addresses = %d,%d want 7,9", got.Header.SourceAddr, got.Header.TargetAddr)
	}
	if got.StartOfPayload != payloadStart {
		t.Fatalf("StartOfPayload = %d, want %d", got.StartOfPayload, payloadStart)
	}
}

func TestRemoveAddrFieldsImpliesBroadcast(t *testing.T) {
	m := qxmsg.NewMessage(64)
	m.Header = qxmsg.Header{
		Attribute:        1,
		Type:             qxmsg.MsgTypeCurrentValue,
		RemoveAddrFields: true,
		RemoveReqFields:  true,
	}
	c := NewCodec(nil)
	if err := c.Build(m); err != nil {
		t.Fatalf("Build: %v", err)
	}

	got := qxmsg.NewMessage(64)
	copy(got.Buf, m.Buf)
	got.StartOfAttribute = 4
	if err := c.Parse(got); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Header.SourceAddr != qxmsg.DeviceBroadcast || got.Header.TargetAddr != qxmsg.DeviceBroadcast {
		t.Fatalf("expected broadcast addresses when RemoveAddrFields is set")
	}
}

func TestLegacyWithoutCodecFails(t *testing.T) {
	m := qxmsg.NewMessage(64)
	m.LegacyHeader = true
	c := NewCodec(nil)
	if err := c.Build(m); err != ErrLegacyUnsupported {
		t.Fatalf("Build = %v, want ErrLegacyUnsupported", err)
	}
	if err := c.Parse(m); err != ErrLegacyUnsupported {
		t.Fatalf("Parse = %v, want ErrLegacyUnsupported", err)
	}
}

type stubLegacy struct{}

func (stubLegacy) BuildLegacy(m *qxmsg.Message) error {
	m.Cursor = 6
	m.StartOfPayload = 6
	return nil
}

func (stubLegacy) ParseLegacy(m *qxmsg.Message) error {
	m.StartOfPayload = 6
	m.Cursor = 6
	return nil
}

func TestLegacyCodecDelegation(t *testing.T) {
	m := qxmsg.NewMessage(64)
	m.LegacyHeader = true
	c := NewCodec(stubLegacy{})
	if err := c.Build(m); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.StartOfPayload != 6 {
		t.Fatalf("StartOfPayload = %d, want 6", m.StartOfPayload)
	}
}
