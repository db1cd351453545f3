// Package cves implements the REST API handlers that read the CVE mirror.
package cves

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/ortelius/cve-mirror/database"
	"github.com/ortelius/cve-mirror/util"
	"go.uber.org/zap"
)

// GetCVE returns the mirrored document for the identifier in the path,
// or in the id query parameter when mounted without one.
func GetCVE(reader database.Reader, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Params("id", c.Query("id")))
		if id == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "CVE id is required",
			})
		}

		doc, err := reader.FindCVE(c.UserContext(), id)
		if err != nil {
			return storeError(c, logger, err)
		}
		if doc == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "CVE not found",
			})
		}
		return c.JSON(doc)
	}
}

// GetCVEsByScore returns documents whose v2 or v3 base score is within [min_score, max_score]
func GetCVEsByScore(reader database.Reader, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		minScore, maxScore := util.ScoreRange(
			c.QueryFloat("min_score", util.MinScore),
			c.QueryFloat("max_score", util.MaxScore),
		)
		limit := util.ClampLimit(c.QueryInt("limit"))

		docs, err := reader.FindCVEsByScore(c.UserContext(), minScore, maxScore, limit)
		if err != nil {
			return storeError(c, logger, err)
		}
		return c.JSON(docs)
	}
}

// GetCVEsModified returns documents modified since midnight UTC, days days ago
func GetCVEsModified(reader database.Reader, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		days := util.ClampDays(c.QueryInt("days", util.DefaultModifiedDays))
		limit := util.ClampLimit(c.QueryInt("limit"))
		since := util.ModifiedSinceThreshold(time.Now(), days)

		docs, err := reader.FindCVEsModifiedSince(c.UserContext(), since, limit)
		if err != nil {
			return storeError(c, logger, err)
		}
		return c.JSON(docs)
	}
}

func storeError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	logger.Error("CVE query failed", zap.String("path", c.Path()), zap.Error(err))

	if errors.Is(err, database.ErrUnavailable) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false,
			"message": "CVE store unavailable",
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"message": "Failed to query CVEs",
	})
}
