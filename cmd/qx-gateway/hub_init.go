package main

import (
	"log/slog"

	"github.com/freefly-qx/qx-gateway/internal/qxgwserver"
)

func initHub(cfg *appConfig, l *slog.Logger) *qxgwserver.Hub {
	h := qxgwserver.NewHub()
	h.OutBufSize = cfg.hubBuffer
	switch cfg.hubPolicy {
	case "drop":
		h.Policy = qxgwserver.PolicyDrop
	case "kick":
		h.Policy = qxgwserver.PolicyKick
	default:
		l.Warn("unknown_hub_policy", "policy", cfg.hubPolicy, "used", "drop")
		h.Policy = qxgwserver.PolicyDrop
	}
	policyStr := map[qxgwserver.BackpressurePolicy]string{
		qxgwserver.PolicyDrop: "drop",
		qxgwserver.PolicyKick: "kick",
	}[h.Policy]
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	l.Info("hub_config", "policy", policyStr, "buffer", h.OutBufSize)
	return h
}
