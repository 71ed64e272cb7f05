// handlers/progress_routes.go
package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"nature-quest-system/middleware"
	"nature-quest-system/models"
	"nature-quest-system/services"
)

func SetupProgressRoutes(app *fiber.App, progressService *services.ProgressService) {
	// Public leaderboard
	app.Get("/leaderboard", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "20"))
		entries, err := progressService.GetLeaderboard(limit)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to fetch leaderboard",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"leaderboard": entries})
	})

	// Service-to-service entry point. The quiz service credits points here
	// after a completed quiz; only the gateway token guards it.
	app.Post("/internal/quiz/complete", func(c *fiber.Ctx) error {
		var body struct {
			UserID string `json:"user_id"`
			QuizID string `json:"quiz_id"`
			Points int64  `json:"points"`
			Title  string `json:"title"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid payload",
				"cause": err.Error(),
			})
		}
		if body.UserID == "" || body.Points <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "user_id and a positive points value are required",
			})
		}

		desc := "Completed quiz"
		if body.Title != "" {
			desc = "Completed quiz: " + body.Title
		}
		var quizID *string
		if body.QuizID != "" {
			quizID = &body.QuizID
		}
		award, err := progressService.UpdateProgress(body.UserID, body.Points, models.TxnQuizCompletion, desc, nil, quizID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to award quiz points",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"points_awarded":  body.Points,
			"bonus_points":    award.BonusPoints,
			"new_total":       award.NewTotal,
			"unlocked_badges": award.UnlockedBadges,
			"new_level":       award.NewLevel,
		})
	})

	// 🔐 Secured routes — require user context (userID, roles)
	securedGroup := app.Group("/", middleware.UserContextMiddleware())

	securedGroup.Get("/s/user/progress", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		stats, err := progressService.GetUserStats(userID)
		if err != nil {
			if errors.Is(err, services.ErrUserNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "user not found",
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to fetch progress",
				"cause": err.Error(),
			})
		}
		return c.JSON(stats)
	})

	securedGroup.Get("/s/user/progress/badges", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		stats, err := progressService.GetUserStats(userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to fetch badges",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"badges":               stats.Badges,
			"next_badge":           stats.NextBadge,
			"points_to_next_badge": stats.PointsToBadge,
		})
	})

	securedGroup.Get("/s/user/progress/history", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		limit, _ := strconv.Atoi(c.Query("limit", "50"))

		txns, err := progressService.ListTransactions(userID, limit)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to fetch points history",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"transactions": txns})
	})

	// Admin: manual points grant (events, support make-goods)
	adminGroup := securedGroup.Group("/s/admin", middleware.RequireAdmin())

	adminGroup.Post("/points/grant", func(c *fiber.Ctx) error {
		var body struct {
			UserID      string `json:"user_id"`
			Points      int64  `json:"points"`
			Description string `json:"description"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid payload",
				"cause": err.Error(),
			})
		}
		if body.UserID == "" || body.Points == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "user_id and a non-zero points value are required",
			})
		}
		desc := body.Description
		if desc == "" {
			desc = "Manual points adjustment"
		}

		award, err := progressService.UpdateProgress(body.UserID, body.Points, models.TxnSpecialEvent, desc, nil, nil)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to grant points",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"points_granted":  body.Points,
			"bonus_points":    award.BonusPoints,
			"new_total":       award.NewTotal,
			"unlocked_badges": award.UnlockedBadges,
			"new_level":       award.NewLevel,
		})
	})
}
