// handlers/verification_routes.go
package handlers

import (
	"errors"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"nature-quest-system/middleware"
	"nature-quest-system/models"
	"nature-quest-system/services"
)

// Submitted photos above this size are rejected before analysis.
const maxPhotoBytes = 15 * 1024 * 1024

func SetupVerificationRoutes(app *fiber.App, verificationService *services.VerificationService) {
	// 🔐 Secured routes — require user context (userID, roles)
	securedGroup := app.Group("/", middleware.UserContextMiddleware())

	// POST /s/attempts — multipart submission: photo + coordinates
	securedGroup.Post("/s/attempts", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		challengeID := c.FormValue("challenge_id")
		if challengeID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "challenge_id is required",
			})
		}
		lat, latErr := strconv.ParseFloat(c.FormValue("latitude"), 64)
		lon, lonErr := strconv.ParseFloat(c.FormValue("longitude"), 64)
		if latErr != nil || lonErr != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "latitude and longitude must be decimal degrees",
			})
		}

		fileHeader, err := c.FormFile("photo")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "photo file is required",
			})
		}
		if fileHeader.Size > maxPhotoBytes {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": "photo exceeds the 15MB limit",
			})
		}
		f, err := fileHeader.Open()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "could not read photo upload",
				"cause": err.Error(),
			})
		}
		photo, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "could not read photo upload",
				"cause": err.Error(),
			})
		}

		attempt, err := verificationService.SubmitAttempt(c.Context(), services.SubmitInput{
			UserID:      userID,
			ChallengeID: challengeID,
			Latitude:    lat,
			Longitude:   lon,
			Notes:       c.FormValue("notes"),
			Photo:       photo,
			ContentType: fileHeader.Header.Get("Content-Type"),
		})
		if err != nil {
			switch {
			case errors.Is(err, services.ErrInvalidCoordinate):
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "coordinates out of range",
				})
			case errors.Is(err, services.ErrChallengeNotFound):
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "challenge not found or inactive",
				})
			case errors.Is(err, services.ErrDuplicateAttempt):
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{
					"error": "challenge already completed",
				})
			default:
				// The attempt may still be pending and retried by the worker.
				resp := fiber.Map{
					"error": "verification could not be completed",
					"cause": err.Error(),
				}
				if attempt != nil {
					resp["attempt"] = attempt
				}
				return c.Status(fiber.StatusInternalServerError).JSON(resp)
			}
		}

		return c.Status(fiber.StatusCreated).JSON(attempt)
	})

	securedGroup.Get("/s/attempts", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		attempts, err := verificationService.ListUserAttempts(userID, models.AttemptStatus(c.Query("status")))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to list attempts",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"attempts": attempts})
	})

	securedGroup.Get("/s/attempts/:id", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		// Fraud details stay internal; users only see photo and location.
		attempt, photo, loc, _, err := verificationService.GetAttempt(c.Params("id"))
		if err != nil {
			if errors.Is(err, services.ErrAttemptNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "attempt not found",
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to fetch attempt",
				"cause": err.Error(),
			})
		}
		if attempt.ExternalUserID != userID {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "attempt not found",
			})
		}
		return c.JSON(fiber.Map{
			"attempt":               attempt,
			"photo_analysis":        photo,
			"location_verification": loc,
		})
	})

	// Admin review surface
	adminGroup := securedGroup.Group("/s/admin", middleware.RequireAdmin())

	adminGroup.Get("/review/queue", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "50"))
		attempts, err := verificationService.ListFlaggedAttempts(limit, models.RiskLevel(c.Query("risk_level")))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to list flagged attempts",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"attempts": attempts})
	})

	adminGroup.Get("/attempts/:id", func(c *fiber.Ctx) error {
		attempt, photo, loc, fraud, err := verificationService.GetAttempt(c.Params("id"))
		if err != nil {
			if errors.Is(err, services.ErrAttemptNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "attempt not found",
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to fetch attempt",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"attempt":               attempt,
			"photo_analysis":        photo,
			"location_verification": loc,
			"fraud_detection":       fraud,
		})
	})

	adminGroup.Post("/review/:id", func(c *fiber.Ctx) error {
		reviewerID := c.Locals("user_id").(string)

		var body struct {
			Approve bool   `json:"approve"`
			Notes   string `json:"notes"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid review payload",
				"cause": err.Error(),
			})
		}

		attempt, err := verificationService.ReviewAttempt(c.Context(), c.Params("id"), reviewerID, body.Approve, body.Notes)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrAttemptNotFound):
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "attempt not found",
				})
			case errors.Is(err, services.ErrAttemptFinal):
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{
					"error": "attempt is not awaiting review",
				})
			default:
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "failed to resolve review",
					"cause": err.Error(),
				})
			}
		}
		return c.JSON(attempt)
	})
}
