package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler responds to liveness and readiness probes.
type HealthHandler struct {
	serviceName string
	version     string
	probe       func(ctx context.Context) error
	online      func() bool
}

// NewHealthHandler returns a new handler instance. probe checks the remote
// store; online reports the connectivity monitor's current state.
func NewHealthHandler(serviceName, version string, probe func(ctx context.Context) error, online func() bool) *HealthHandler {
	return &HealthHandler{serviceName: serviceName, version: version, probe: probe, online: online}
}

// Live reports service liveness.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// Ready reports readiness. The daemon keeps serving from its local queue
// while the remote store is down, so an unreachable remote only degrades
// the status.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	depStatus := fiber.Map{}
	status := "ready"

	if h.probe != nil {
		if err := h.probe(ctx); err != nil {
			depStatus["remote"] = err.Error()
			status = "degraded"
		} else {
			depStatus["remote"] = "ok"
		}
	}

	online := h.online != nil && h.online()
	return c.JSON(fiber.Map{
		"status":       status,
		"online":       online,
		"dependencies": depStatus,
	})
}
