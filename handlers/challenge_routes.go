// handlers/challenge_routes.go
package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"nature-quest-system/middleware"
	"nature-quest-system/models"
	"nature-quest-system/services"
)

func SetupChallengeRoutes(app *fiber.App, challengeService *services.ChallengeService, verificationService *services.VerificationService) {
	// Public catalog — the gateway forwards /api/v1/nature/challenges -> /challenges
	app.Get("/challenges", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "50"))
		offset, _ := strconv.Atoi(c.Query("offset", "0"))

		filter := services.ChallengeFilter{
			Difficulty:   models.Difficulty(c.Query("difficulty")),
			LocationType: models.LocationType(c.Query("location_type")),
			ActiveOnly:   c.Query("include_inactive") != "true",
			Limit:        limit,
			Offset:       offset,
		}

		challenges, total, err := challengeService.ListChallenges(filter)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to list challenges",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"challenges": challenges,
			"total":      total,
		})
	})

	app.Get("/challenges/:id", func(c *fiber.Ctx) error {
		challenge, err := challengeService.GetChallenge(c.Params("id"))
		if err != nil {
			if errors.Is(err, services.ErrChallengeNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "challenge not found",
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to fetch challenge",
				"cause": err.Error(),
			})
		}
		return c.JSON(challenge)
	})

	// 🔐 Secured routes — require user context (userID, roles)
	securedGroup := app.Group("/", middleware.UserContextMiddleware())

	securedGroup.Get("/s/challenges", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		filter := services.ChallengeFilter{
			Difficulty:   models.Difficulty(c.Query("difficulty")),
			LocationType: models.LocationType(c.Query("location_type")),
		}
		out, err := challengeService.ListForUser(userID, filter)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to list challenges",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"challenges": out})
	})

	// Admin catalog management
	adminGroup := securedGroup.Group("/s/admin", middleware.RequireAdmin())

	adminGroup.Post("/challenges", func(c *fiber.Ctx) error {
		var challenge models.Challenge
		if err := c.BodyParser(&challenge); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid challenge payload",
				"cause": err.Error(),
			})
		}
		if challenge.Title == "" || challenge.PointsReward <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "title and a positive points_reward are required",
			})
		}
		if err := challengeService.CreateChallenge(&challenge); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to create challenge",
				"cause": err.Error(),
			})
		}
		return c.Status(fiber.StatusCreated).JSON(challenge)
	})

	adminGroup.Patch("/challenges/:id/active", func(c *fiber.Ctx) error {
		var body struct {
			Active bool `json:"active"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid payload",
				"cause": err.Error(),
			})
		}
		if err := challengeService.SetChallengeActive(c.Params("id"), body.Active); err != nil {
			if errors.Is(err, services.ErrChallengeNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "challenge not found",
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to update challenge",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"id": c.Params("id"), "active": body.Active})
	})

	adminGroup.Get("/challenges/:id/metrics", func(c *fiber.Ctx) error {
		metrics, err := verificationService.GetChallengeMetrics(c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to fetch metrics",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"metrics":      metrics,
			"success_rate": metrics.SuccessRate(),
		})
	})
}
