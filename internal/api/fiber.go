// Package api builds the HTTP server of the CVE mirror.
package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/ortelius/cve-mirror/database"
	"github.com/ortelius/cve-mirror/graphql"
	"github.com/ortelius/cve-mirror/internal/config"
	"github.com/ortelius/cve-mirror/internal/services"
	"github.com/ortelius/cve-mirror/restapi"
	"go.uber.org/zap"
)

// NewFiberApp creates and configures a Fiber app with REST and GraphQL routes.
// svc may be nil when the process does not collect.
func NewFiberApp(ctx context.Context, reader database.Reader, svc *services.SyncService, cfg config.API, log *zap.Logger) (*fiber.App, error) {
	deps := restapi.Deps{Reader: reader, Logger: log, RateLimit: cfg.RateLimit, Admin: cfg.Admin}

	var err error
	if svc != nil {
		deps.Sync = svc
		deps.Schema, err = graphql.CreateSchema(reader, svc)
	} else {
		deps.Schema, err = graphql.CreateSchema(reader, nil)
	}
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:               "cve-mirror API v1.0",
		ReadTimeout:           60 * time.Second,
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(fiberrecover.New())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, HEAD, OPTIONS",
	}))

	app.Use(func(c *fiber.Ctx) error {
		c.Locals("graphql_op", "-")
		return c.Next()
	})
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} - ${latency} ${method} ${path} ${locals:graphql_op}\n",
	}))

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	restapi.SetupRoutes(ctx, app, deps)

	return app, nil
}
