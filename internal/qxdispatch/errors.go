package qxdispatch

import "errors"

// Sentinel errors covering the protocol's error taxonomy. Wire-level failures
// are recovered locally by Dispatch (counted, never returned). Of these, the
// Send* paths return only ErrNoEndpoint, when the Dispatcher has no
// FrameSink; a legacy send without a LegacyCodec returns
// qxheader.ErrLegacyUnsupported. The others are not returned by this
// package.
var (
	ErrMessageTypeUnsupported = errors.New("qxdispatch: unsupported message type")
	ErrAttributeNotHandled    = errors.New("qxdispatch: attribute not handled")
	ErrLegacyUnsupported      = errors.New("qxdispatch: legacy header unsupported")
	ErrKeyNotFound            = errors.New("qxdispatch: application parameter not found")
	ErrCRC32Fail              = errors.New("qxdispatch: crc32 mismatch")
	ErrNoEndpoint             = errors.New("qxdispatch: endpoint not registered")
)
