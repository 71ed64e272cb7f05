package workers

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"nature-quest-system/models"
	"nature-quest-system/services"
)

// VerificationWorker re-runs attempts stuck in pending, typically left
// behind by a photo-store or place-index outage during submission.
type VerificationWorker struct {
	DB       *gorm.DB
	Verifier *services.VerificationService
	Store    services.PhotoStore
	Policy   services.RetryPolicy
}

func NewVerificationWorker(db *gorm.DB, verifier *services.VerificationService, store services.PhotoStore) *VerificationWorker {
	return &VerificationWorker{
		DB:       db,
		Verifier: verifier,
		Store:    store,
		Policy: services.RetryPolicy{
			MaxAttempts: 3,
			Backoff:     2 * time.Minute,
		},
	}
}

// Run polls for retryable pending attempts until the context is cancelled.
func (w *VerificationWorker) Run(ctx context.Context, pollInterval time.Duration) {
	log.Println("Starting verification retry worker...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Verification retry worker stopped.")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *VerificationWorker) sweep(ctx context.Context) {
	var pending []models.ChallengeAttempt
	err := w.DB.Where("status = ?", models.AttemptPending).
		Order("updated_at ASC").
		Limit(20).
		Find(&pending).Error
	if err != nil {
		log.Printf("❌ Retry sweep query failed: %v", err)
		return
	}

	now := time.Now()
	for _, attempt := range pending {
		if now.Before(w.Policy.NextRetryAt(attempt.UpdatedAt, attempt.RetryCount)) {
			continue
		}
		if attempt.RetryCount >= w.Policy.MaxAttempts {
			w.giveUp(&attempt)
			continue
		}
		w.retry(ctx, &attempt)
	}
}

func (w *VerificationWorker) retry(ctx context.Context, attempt *models.ChallengeAttempt) {
	log.Printf("🔁 Retrying verification for attempt %s (retry %d)", attempt.ID, attempt.RetryCount+1)

	if err := w.DB.Model(attempt).Update("retry_count", attempt.RetryCount+1).Error; err != nil {
		log.Printf("❌ Failed to bump retry count for %s: %v", attempt.ID, err)
		return
	}
	attempt.RetryCount++

	var challenge models.Challenge
	if err := w.DB.Where("id = ?", attempt.ChallengeID).First(&challenge).Error; err != nil {
		log.Printf("❌ Challenge %s missing for attempt %s: %v", attempt.ChallengeID, attempt.ID, err)
		return
	}

	if attempt.PhotoKey == "" {
		// Photo never made it to storage; nothing to re-verify.
		w.giveUp(attempt)
		return
	}
	photo, err := w.Store.Load(ctx, attempt.PhotoKey)
	if err != nil {
		log.Printf("❌ Could not reload photo for attempt %s: %v", attempt.ID, err)
		return
	}

	if err := w.Verifier.ProcessVerification(ctx, attempt, &challenge, photo); err != nil {
		if errors.Is(err, services.ErrAttemptFinal) {
			return
		}
		log.Printf("❌ Retry verification failed for attempt %s: %v", attempt.ID, err)
		return
	}
	log.Printf("✅ Attempt %s resolved on retry: %s", attempt.ID, attempt.Status)
}

func (w *VerificationWorker) giveUp(attempt *models.ChallengeAttempt) {
	err := w.DB.Model(attempt).Updates(map[string]interface{}{
		"status":             models.AttemptFailed,
		"verification_notes": "verification could not be completed after retries",
	}).Error
	if err != nil {
		log.Printf("❌ Failed to finalize exhausted attempt %s: %v", attempt.ID, err)
		return
	}
	log.Printf("⛔ Attempt %s failed after %d retries", attempt.ID, attempt.RetryCount)
}
