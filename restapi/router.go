// Package restapi provides the main router and initialization for REST API endpoints.
package restapi

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/graphql-go/graphql"
	"github.com/ortelius/cve-mirror/database"
	"github.com/ortelius/cve-mirror/internal/collector"
	"github.com/ortelius/cve-mirror/restapi/modules/admin"
	"github.com/ortelius/cve-mirror/restapi/modules/cves"
	"go.uber.org/zap"
)

// Deps carries what the routes read from and drive
type Deps struct {
	Reader    database.Reader
	Sync      admin.SyncController
	Schema    graphql.Schema
	Logger    *zap.Logger
	RateLimit int  // requests per minute per client, 0 disables
	Admin     bool // mount the sync trigger routes
}

// SetupRoutes configures all REST API routes and the GraphQL endpoint.
// Admin runs are bound to ctx, not to the request that started them.
func SetupRoutes(ctx context.Context, app *fiber.App, deps Deps) {
	api := app.Group("/api/v1")

	api.Post("/graphql", GraphQLHandler(deps.Schema))

	// CVE lookups; score and modified are registered before the id wildcard
	cveGroup := api.Group("/cve", RateLimiter(deps.RateLimit))
	cveGroup.Get("/score", cves.GetCVEsByScore(deps.Reader, deps.Logger))
	cveGroup.Get("/modified", cves.GetCVEsModified(deps.Reader, deps.Logger))
	cveGroup.Get("/cve_id", cves.GetCVE(deps.Reader, deps.Logger))
	cveGroup.Get("/:id", cves.GetCVE(deps.Reader, deps.Logger))

	if deps.Sync != nil {
		adminGroup := api.Group("/admin/sync", RateLimiter(deps.RateLimit))
		adminGroup.Get("/status", admin.GetSyncStatus(deps.Sync))
		if deps.Admin {
			adminGroup.Post("/full", admin.PostSync(ctx, deps.Sync, collector.ModeFull))
			adminGroup.Post("/incremental", admin.PostSync(ctx, deps.Sync, collector.ModeIncremental))
		}
	}

	deps.Logger.Info("API routes initialized successfully")
}

// RateLimiter limits each client IP to max requests per minute
func RateLimiter(max int) fiber.Handler {
	if max <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"message": "Rate limit exceeded",
			})
		},
	})
}
