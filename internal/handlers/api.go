package handlers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"light-status-bot/internal/database"
	"light-status-bot/internal/heartbeat"
	"light-status-bot/internal/models"
	"light-status-bot/internal/stats"
)

type Handlers struct {
	DB           *database.DB
	HeartbeatSvc *heartbeat.Service
	Stats        *stats.Calculator
}

const (
	// DefaultHistoryLimit is how many events /history returns by default.
	DefaultHistoryLimit = 20
	// MaxHistoryLimit caps the /history limit parameter.
	MaxHistoryLimit = 200
)

// Ping handles GET /api/ping/:token -- the heartbeat endpoint.
func (h *Handlers) Ping(c *fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing token"})
	}

	err := h.HeartbeatSvc.HandlePing(context.Background(), token)
	if errors.Is(err, heartbeat.ErrUnknownToken) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "invalid key"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

// GetDevice returns the current state of a device.
func (h *Handlers) GetDevice(c *fiber.Ctx) error {
	device, ok, err := h.loadDevice(c)
	if !ok {
		return err
	}

	resp := fiber.Map{
		"id":        device.ID,
		"state":     device.State,
		"timezone":  device.Timezone,
		"is_active": device.IsActive,
	}
	if device.LastHeartbeatAt != nil {
		resp["last_heartbeat_at"] = device.LastHeartbeatAt.Format(time.RFC3339)
	}
	if device.LastStatusChangeAt != nil {
		resp["last_status_change_at"] = device.LastStatusChangeAt.Format(time.RFC3339)
	}
	return c.JSON(resp)
}

// GetStats returns uptime/downtime/outages for the device's current local day.
// Query param: ?as_of=2026-08-25T10:00:00Z (defaults to now).
func (h *Handlers) GetStats(c *fiber.Ctx) error {
	device, ok, err := h.loadDevice(c)
	if !ok {
		return err
	}

	asOf := time.Now()
	if v := c.Query("as_of"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid as_of"})
		}
		asOf = t
	}

	daily, err := h.Stats.Daily(context.Background(), device.ID, device.Timezone, device.State, asOf)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to compute stats"})
	}
	if daily == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no data yet"})
	}

	return c.JSON(fiber.Map{
		"device_id":    device.ID,
		"as_of":        asOf.Format(time.RFC3339),
		"uptime_sec":   daily.Uptime.Seconds(),
		"downtime_sec": daily.Downtime.Seconds(),
		"outages":      daily.Outages,
	})
}

// GetHistory returns the most recent status changes, newest first.
// Query param: ?limit=50 (default 20, max 200).
func (h *Handlers) GetHistory(c *fiber.Ctx) error {
	device, ok, err := h.loadDevice(c)
	if !ok {
		return err
	}

	limit := DefaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	events, err := h.DB.RecentEvents(context.Background(), device.ID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load history"})
	}
	if events == nil {
		events = make([]*models.StatusEvent, 0)
	}

	return c.JSON(fiber.Map{
		"device_id": device.ID,
		"events":    events,
	})
}

// GetExport returns the full transition log plus a synthetic trailing record
// that closes the still-open current period.
func (h *Handlers) GetExport(c *fiber.Ctx) error {
	device, ok, err := h.loadDevice(c)
	if !ok {
		return err
	}

	events, err := h.DB.AllEvents(context.Background(), device.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load history"})
	}
	events = stats.AppendOpenPeriod(events, device, time.Now())
	if events == nil {
		events = make([]*models.StatusEvent, 0)
	}

	return c.JSON(fiber.Map{
		"device_id": device.ID,
		"events":    events,
	})
}

// loadDevice parses the :id param and fetches the device. On failure it has
// already written the response and returns ok=false.
func (h *Handlers) loadDevice(c *fiber.Ctx) (*models.Device, bool, error) {
	deviceID, err := c.ParamsInt("id")
	if err != nil || deviceID <= 0 {
		return nil, false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid device id"})
	}

	device, err := h.DB.GetDeviceByID(context.Background(), int64(deviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "device not found"})
	}
	if err != nil {
		return nil, false, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load device"})
	}
	return device, true, nil
}
