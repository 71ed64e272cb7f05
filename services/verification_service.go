// services/verification_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"

	"nature-quest-system/models"
)

var (
	ErrChallengeNotFound = errors.New("challenge not found or inactive")
	ErrDuplicateAttempt  = errors.New("challenge already completed by this user")
	ErrInvalidCoordinate = errors.New("submitted coordinates are out of range")
	ErrAttemptNotFound   = errors.New("challenge attempt not found")
	ErrAttemptFinal      = errors.New("challenge attempt is already in a terminal state")
)

// PhotoAnalyzer runs the photo quality/authenticity/element pipeline.
type PhotoAnalyzer interface {
	Analyze(ctx context.Context, photo []byte, challenge *models.Challenge) (*PhotoAnalysisResult, error)
}

// LocationVerifier checks submitted coordinates against a challenge geofence.
type LocationVerifier interface {
	Verify(ctx context.Context, lat, lon float64, challenge *models.Challenge) (*LocationVerificationResult, error)
}

// FraudAnalyzer scores a submission for abuse signals.
type FraudAnalyzer interface {
	AnalyzeSubmission(ctx context.Context, attempt *models.ChallengeAttempt, photo []byte) (*FraudDetectionResult, error)
}

// PhotoStore persists submitted photos and returns them for re-verification.
type PhotoStore interface {
	Save(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Load(ctx context.Context, key string) ([]byte, error)
}

// ProgressRecorder applies verified-challenge rewards inside the caller's
// transaction and reports the achievements the credit cascaded into.
type ProgressRecorder interface {
	ApplyProgress(tx *gorm.DB, userID string, points int64, kind models.TransactionKind, description string, challengeID, quizID *string) (*AwardResult, error)
}

// RetryPolicy controls how the background worker re-runs attempts stuck in
// pending, typically after a transient photo-store or place-index outage.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// NextRetryAt returns when an attempt on its nth retry becomes eligible
// again. Backoff doubles per retry.
func (p RetryPolicy) NextRetryAt(lastUpdate time.Time, retryCount int) time.Time {
	delay := p.Backoff * time.Duration(1<<retryCount)
	return lastUpdate.Add(delay)
}

type VerificationService struct {
	DB       *gorm.DB
	Photos   PhotoAnalyzer
	Location LocationVerifier
	Fraud    FraudAnalyzer
	Store    PhotoStore
	Progress ProgressRecorder
}

func NewVerificationService(db *gorm.DB, photos PhotoAnalyzer, location LocationVerifier, fraud FraudAnalyzer, store PhotoStore, progress ProgressRecorder) *VerificationService {
	return &VerificationService{
		DB:       db,
		Photos:   photos,
		Location: location,
		Fraud:    fraud,
		Store:    store,
		Progress: progress,
	}
}

// SubmitInput carries one photo submission for a challenge.
type SubmitInput struct {
	UserID      string
	ChallengeID string
	Latitude    float64
	Longitude   float64
	Notes       string
	Photo       []byte
	ContentType string
}

// SubmitAttempt records a submission and runs it through the verification
// pipeline. A user holds at most one attempt row per challenge: a verified
// attempt blocks resubmission, any other prior attempt is reset in place.
func (s *VerificationService) SubmitAttempt(ctx context.Context, in SubmitInput) (*models.ChallengeAttempt, error) {
	if math.Abs(in.Latitude) > 90 || math.Abs(in.Longitude) > 180 {
		return nil, ErrInvalidCoordinate
	}

	var challenge models.Challenge
	if err := s.DB.Where("id = ? AND is_active = ?", in.ChallengeID, true).First(&challenge).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}

	attempt, err := s.prepareAttempt(in)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("submissions/%s/%s%s", slug.Make(challenge.Title), attempt.ID, extForContentType(in.ContentType))
	url, err := s.Store.Save(ctx, key, in.Photo, in.ContentType)
	if err != nil {
		// Keep the pending attempt so the retry worker can pick it up
		// once storage recovers.
		log.Printf("❌ [VERIFY] Photo upload failed for attempt %s: %v", attempt.ID, err)
		return attempt, fmt.Errorf("failed to store submission photo: %w", err)
	}
	attempt.PhotoKey = key
	attempt.PhotoURL = url
	if err := s.DB.Model(attempt).Updates(map[string]interface{}{
		"photo_key": key,
		"photo_url": url,
	}).Error; err != nil {
		return nil, err
	}

	if err := s.ProcessVerification(ctx, attempt, &challenge, in.Photo); err != nil {
		return attempt, err
	}
	return attempt, nil
}

// prepareAttempt creates the attempt row, or resets the user's existing
// non-verified attempt for the same challenge back to a clean pending state.
func (s *VerificationService) prepareAttempt(in SubmitInput) (*models.ChallengeAttempt, error) {
	var attempt models.ChallengeAttempt
	err := s.DB.Where("external_user_id = ? AND challenge_id = ?", in.UserID, in.ChallengeID).First(&attempt).Error
	switch {
	case err == nil:
		if attempt.IsVerified() {
			return nil, ErrDuplicateAttempt
		}
		resetErr := s.DB.Transaction(func(tx *gorm.DB) error {
			if err := deleteSatellites(tx, attempt.ID); err != nil {
				return err
			}
			return tx.Model(&attempt).Updates(map[string]interface{}{
				"status":             models.AttemptPending,
				"submitted_latitude": in.Latitude, "submitted_longitude": in.Longitude,
				"submission_notes": in.Notes,
				"photo_key":        "", "photo_url": "",
				"photo_verified": false, "location_verified": false,
				"verification_notes": "",
				"points_earned":      0, "bonus_points": 0,
				"retry_count": 0,
				"verified_at": nil,
			}).Error
		})
		if resetErr != nil {
			return nil, resetErr
		}
		attempt.Status = models.AttemptPending
		attempt.SubmittedLatitude = in.Latitude
		attempt.SubmittedLongitude = in.Longitude
		attempt.SubmissionNotes = in.Notes
		return &attempt, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		attempt = models.ChallengeAttempt{
			ID:                 uuid.NewString(),
			ExternalUserID:     in.UserID,
			ChallengeID:        in.ChallengeID,
			Status:             models.AttemptPending,
			SubmittedLatitude:  in.Latitude,
			SubmittedLongitude: in.Longitude,
			SubmissionNotes:    in.Notes,
		}
		if err := s.DB.Create(&attempt).Error; err != nil {
			return nil, err
		}
		return &attempt, nil

	default:
		return nil, err
	}
}

// ProcessVerification runs all three analyzers and persists their results,
// the attempt's new status and the challenge metrics in one transaction.
// A verified attempt triggers reward distribution in the same transaction.
func (s *VerificationService) ProcessVerification(ctx context.Context, attempt *models.ChallengeAttempt, challenge *models.Challenge, photo []byte) error {
	started := time.Now()

	photoRes, err := s.Photos.Analyze(ctx, photo, challenge)
	if err != nil {
		return fmt.Errorf("photo analysis failed: %w", err)
	}
	locRes, err := s.Location.Verify(ctx, attempt.SubmittedLatitude, attempt.SubmittedLongitude, challenge)
	if err != nil {
		return fmt.Errorf("location verification failed: %w", err)
	}
	fraudRes, err := s.Fraud.AnalyzeSubmission(ctx, attempt, photo)
	if err != nil {
		return fmt.Errorf("fraud analysis failed: %w", err)
	}

	status, notes := decideOutcome(photoRes, locRes, fraudRes)
	elapsed := time.Since(started).Seconds()

	return s.DB.Transaction(func(tx *gorm.DB) error {
		var current models.ChallengeAttempt
		if err := tx.Where("id = ?", attempt.ID).First(&current).Error; err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return ErrAttemptFinal
		}

		if err := deleteSatellites(tx, attempt.ID); err != nil {
			return err
		}
		if err := tx.Create(buildPhotoAnalysis(attempt.ID, photoRes)).Error; err != nil {
			return err
		}
		if err := tx.Create(buildLocationVerification(attempt.ID, locRes)).Error; err != nil {
			return err
		}
		if err := tx.Create(buildFraudDetection(attempt.ID, fraudRes)).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"status":             status,
			"photo_verified":     photoRes.Passed,
			"location_verified":  locRes.Passed,
			"verification_notes": notes,
		}
		if status == models.AttemptVerified {
			now := time.Now()
			award, err := s.Progress.ApplyProgress(tx, attempt.ExternalUserID, challenge.PointsReward,
				models.TxnChallengeCompletion,
				fmt.Sprintf("Completed challenge: %s", challenge.Title),
				&challenge.ID, nil)
			if err != nil {
				return err
			}
			updates["points_earned"] = challenge.PointsReward
			updates["bonus_points"] = award.BonusPoints
			updates["verified_at"] = now
			attempt.PointsEarned = challenge.PointsReward
			attempt.BonusPoints = award.BonusPoints
			attempt.VerifiedAt = &now
		}
		if err := tx.Model(&models.ChallengeAttempt{}).Where("id = ?", attempt.ID).Updates(updates).Error; err != nil {
			return err
		}
		attempt.Status = status
		attempt.PhotoVerified = photoRes.Passed
		attempt.LocationVerified = locRes.Passed
		attempt.VerificationNotes = notes

		return updateMetrics(tx, challenge.ID, status, photoRes.Passed, locRes.Passed, elapsed)
	})
}

// decideOutcome maps the three analyzer results onto an attempt status.
// A manual-review fraud flag overrides everything else.
func decideOutcome(photo *PhotoAnalysisResult, loc *LocationVerificationResult, fraud *FraudDetectionResult) (models.AttemptStatus, string) {
	var notes []string
	notes = append(notes, photo.Notes...)
	if loc.ErrorNote != "" {
		notes = append(notes, loc.ErrorNote)
	}
	if !loc.IsValidCoordinate {
		notes = append(notes, "submitted coordinates are invalid")
	} else if !loc.Passed {
		notes = append(notes, fmt.Sprintf("location %.0fm from target (confidence %.2f)", loc.DistanceToTarget, loc.Confidence))
	}
	notes = append(notes, fraud.RiskFactors...)

	if fraud.RequiresManualReview {
		return models.AttemptFlagged, strings.Join(append(notes, "submission held for manual review"), "; ")
	}
	if photo.Passed && loc.Passed {
		return models.AttemptVerified, "photo and location verified"
	}
	return models.AttemptFailed, strings.Join(notes, "; ")
}

// ReviewAttempt resolves a flagged submission. Approval verifies the attempt
// and distributes rewards; rejection is terminal.
func (s *VerificationService) ReviewAttempt(ctx context.Context, attemptID, reviewerID string, approve bool, reviewNotes string) (*models.ChallengeAttempt, error) {
	var attempt models.ChallengeAttempt
	if err := s.DB.Where("id = ?", attemptID).First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}
	if attempt.Status != models.AttemptFlagged {
		return nil, ErrAttemptFinal
	}

	var challenge models.Challenge
	if err := s.DB.Where("id = ?", attempt.ChallengeID).First(&challenge).Error; err != nil {
		return nil, err
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		updates := map[string]interface{}{}
		if approve {
			award, err := s.Progress.ApplyProgress(tx, attempt.ExternalUserID, challenge.PointsReward,
				models.TxnChallengeCompletion,
				fmt.Sprintf("Completed challenge: %s (approved after review)", challenge.Title),
				&challenge.ID, nil)
			if err != nil {
				return err
			}
			updates["status"] = models.AttemptVerified
			updates["points_earned"] = challenge.PointsReward
			updates["bonus_points"] = award.BonusPoints
			updates["verified_at"] = now
			attempt.Status = models.AttemptVerified
			attempt.PointsEarned = challenge.PointsReward
			attempt.BonusPoints = award.BonusPoints
			attempt.VerifiedAt = &now
		} else {
			updates["status"] = models.AttemptRejected
			attempt.Status = models.AttemptRejected
		}
		if err := tx.Model(&models.ChallengeAttempt{}).Where("id = ?", attempt.ID).Updates(updates).Error; err != nil {
			return err
		}

		return tx.Model(&models.FraudDetection{}).
			Where("attempt_id = ?", attempt.ID).
			Updates(map[string]interface{}{
				"reviewed_by":  reviewerID,
				"reviewed_at":  now,
				"review_notes": reviewNotes,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	log.Printf("✅ [REVIEW] Attempt %s resolved by %s (approved=%t)", attempt.ID, reviewerID, approve)
	return &attempt, nil
}

// GetAttempt loads an attempt with its three verification records.
func (s *VerificationService) GetAttempt(attemptID string) (*models.ChallengeAttempt, *models.PhotoAnalysis, *models.LocationVerification, *models.FraudDetection, error) {
	var attempt models.ChallengeAttempt
	if err := s.DB.Where("id = ?", attemptID).First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, nil, ErrAttemptNotFound
		}
		return nil, nil, nil, nil, err
	}

	var photo models.PhotoAnalysis
	var loc models.LocationVerification
	var fraud models.FraudDetection
	pPhoto, pLoc, pFraud := (*models.PhotoAnalysis)(nil), (*models.LocationVerification)(nil), (*models.FraudDetection)(nil)
	if err := s.DB.Where("attempt_id = ?", attemptID).First(&photo).Error; err == nil {
		pPhoto = &photo
	}
	if err := s.DB.Where("attempt_id = ?", attemptID).First(&loc).Error; err == nil {
		pLoc = &loc
	}
	if err := s.DB.Where("attempt_id = ?", attemptID).First(&fraud).Error; err == nil {
		pFraud = &fraud
	}
	return &attempt, pPhoto, pLoc, pFraud, nil
}

// ListUserAttempts returns a user's attempts, newest first.
func (s *VerificationService) ListUserAttempts(userID string, status models.AttemptStatus) ([]models.ChallengeAttempt, error) {
	q := s.DB.Where("external_user_id = ?", userID).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var attempts []models.ChallengeAttempt
	if err := q.Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

// ListFlaggedAttempts returns the manual-review queue, oldest first,
// optionally narrowed to one risk level.
func (s *VerificationService) ListFlaggedAttempts(limit int, risk models.RiskLevel) ([]models.ChallengeAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.DB.Where("status = ?", models.AttemptFlagged)
	if risk != "" {
		q = q.Where("id IN (?)", s.DB.Model(&models.FraudDetection{}).
			Select("attempt_id").
			Where("risk_level = ?", risk))
	}
	var attempts []models.ChallengeAttempt
	err := q.Order("created_at ASC").
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

// GetChallengeMetrics returns the aggregate verification counters for a
// challenge, zero-valued if nothing has been submitted yet.
func (s *VerificationService) GetChallengeMetrics(challengeID string) (*models.VerificationMetrics, error) {
	var m models.VerificationMetrics
	err := s.DB.Where("challenge_id = ?", challengeID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.VerificationMetrics{ChallengeID: challengeID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func deleteSatellites(tx *gorm.DB, attemptID string) error {
	if err := tx.Where("attempt_id = ?", attemptID).Delete(&models.PhotoAnalysis{}).Error; err != nil {
		return err
	}
	if err := tx.Where("attempt_id = ?", attemptID).Delete(&models.LocationVerification{}).Error; err != nil {
		return err
	}
	return tx.Where("attempt_id = ?", attemptID).Delete(&models.FraudDetection{}).Error
}

func buildPhotoAnalysis(attemptID string, r *PhotoAnalysisResult) *models.PhotoAnalysis {
	return &models.PhotoAnalysis{
		ID:                  uuid.NewString(),
		AttemptID:           attemptID,
		HasEXIF:             r.HasEXIF,
		CapturedAt:          r.CapturedAt,
		PhotoLatitude:       r.PhotoLatitude,
		PhotoLongitude:      r.PhotoLongitude,
		CameraInfo:          r.CameraInfo,
		QualityScore:        r.QualityScore,
		AuthenticityScore:   r.AuthenticityScore,
		DetectedElements:    r.DetectedElements,
		TimestampValid:      r.TimestampValid,
		HasRequiredElements: r.HasRequiredElements,
		VerificationPassed:  r.Passed,
		AnalysisNotes:       strings.Join(r.Notes, "; "),
	}
}

func buildLocationVerification(attemptID string, r *LocationVerificationResult) *models.LocationVerification {
	return &models.LocationVerification{
		ID:                 uuid.NewString(),
		AttemptID:          attemptID,
		IsValidCoordinate:  r.IsValidCoordinate,
		DistanceToTarget:   r.DistanceToTarget,
		ClosestMatchName:   r.ClosestMatchName,
		MatchCategories:    r.MatchCategories,
		LocationTypeMatch:  r.LocationTypeMatch,
		Confidence:         r.Confidence,
		VerificationPassed: r.Passed,
		ErrorNote:          r.ErrorNote,
	}
}

func buildFraudDetection(attemptID string, r *FraudDetectionResult) *models.FraudDetection {
	return &models.FraudDetection{
		ID:                     uuid.NewString(),
		AttemptID:              attemptID,
		RiskLevel:              r.RiskLevel,
		RiskScore:              r.RiskScore,
		RiskFactors:            r.RiskFactors,
		DuplicateImageDetected: r.DuplicateImageDetected,
		RapidSubmissions:       r.RapidSubmissions,
		SuspiciousLocation:     r.SuspiciousLocation,
		RequiresManualReview:   r.RequiresManualReview,
	}
}

// updateMetrics upserts the per-challenge counters with a rolling average
// of verification time.
func updateMetrics(tx *gorm.DB, challengeID string, status models.AttemptStatus, photoPassed, locPassed bool, elapsedSec float64) error {
	var m models.VerificationMetrics
	err := tx.Where("challenge_id = ?", challengeID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		m = models.VerificationMetrics{ID: uuid.NewString(), ChallengeID: challengeID}
	} else if err != nil {
		return err
	}

	m.TotalAttempts++
	switch status {
	case models.AttemptVerified:
		m.SuccessfulVerifications++
	case models.AttemptFlagged:
		m.FlaggedSubmissions++
	default:
		m.FailedVerifications++
	}
	if !photoPassed {
		m.PhotoFailures++
	}
	if !locPassed {
		m.LocationFailures++
	}
	m.AverageVerificationTime = (m.AverageVerificationTime*float64(m.TotalAttempts-1) + elapsedSec) / float64(m.TotalAttempts)

	return tx.Save(&m).Error
}

func extForContentType(ct string) string {
	switch ct {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
