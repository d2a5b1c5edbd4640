package qxgwserver

import (
	"errors"

	"github.com/freefly-qx/qx-gateway/internal/qxmetrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen    = errors.New("listen")
	ErrAccept    = errors.New("accept")
	ErrConnRead  = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
	ErrBackendTx = errors.New("backend_tx")
	ErrContext   = errors.New("context_cancelled")
)

// mapErrToMetric maps a wrapped sentinel error to a qxmetrics label.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead):
		return qxmetrics.ErrTCPRead
	case errors.Is(err, ErrConnWrite):
		return qxmetrics.ErrTCPWrite
	case errors.Is(err, ErrBackendTx):
		return qxmetrics.ErrSerialWrite
	case errors.Is(err, ErrAccept), errors.Is(err, ErrListen):
		return qxmetrics.ErrTCPRead
	default:
		return "other"
	}
}
