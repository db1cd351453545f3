// Package admin implements the REST API handlers for admin operations.
// It provides endpoints to trigger CVE collection runs and to monitor them.
package admin

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/ortelius/cve-mirror/internal/services"
)

// SyncController is the part of the sync service the admin API drives
type SyncController interface {
	TriggerAsync(ctx context.Context, mode string) error
	Status() services.Status
}

// PostSync starts a collection run of the given mode in the background.
// Runs outlive the request, so they are bound to ctx instead.
func PostSync(ctx context.Context, svc SyncController, mode string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := svc.TriggerAsync(ctx, mode)
		switch {
		case errors.Is(err, services.ErrRunInProgress):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"message": "Sync already in progress",
				"status":  svc.Status(),
			})
		case err != nil:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"success": true,
			"message": mode + " sync started",
			"status":  "processing",
		})
	}
}

// GetSyncStatus returns whether a run is active and the last run summary
func GetSyncStatus(svc SyncController) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(svc.Status())
	}
}
